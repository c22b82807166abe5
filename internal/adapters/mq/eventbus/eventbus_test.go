package eventbus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/adapters/mq/eventbus"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func scoreEvent(i int) model.ScoreEvent {
	return model.NewScoreSet("comp", model.Score{
		ScoreKey:  model.ScoreKey{SegmentID: "s1", ContestantID: fmt.Sprintf("c%03d", i), JudgeID: "j1", CriterionID: "k1"},
		Value:     float64(i),
		UpdatedAt: time.Unix(int64(i), 0).UTC(),
	})
}

// recorder collects events delivered to one subscriber.
type recorder struct {
	mu     sync.Mutex
	events []model.ScoreEvent
}

func (r *recorder) handle(_ context.Context, e model.ScoreEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []model.ScoreEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ScoreEvent(nil), r.events...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestBus_Delivery(t *testing.T) {
	convey.Convey("Given a bus with two subscribers", t, func() {
		bus := eventbus.New()
		convey.Reset(func() { _ = bus.Close() })

		a, b := &recorder{}, &recorder{}
		_, err := bus.Subscribe(a.handle)
		convey.So(err, convey.ShouldBeNil)
		_, err = bus.Subscribe(b.handle)
		convey.So(err, convey.ShouldBeNil)
		convey.So(bus.Subscribers(), convey.ShouldEqual, 2)

		convey.Convey("When events are published", func() {
			const n = 100
			for i := 0; i < n; i++ {
				convey.So(bus.Publish(context.Background(), scoreEvent(i)), convey.ShouldBeNil)
			}

			convey.Convey("Then each subscriber gets every event once, in order", func() {
				convey.So(waitFor(func() bool { return len(a.snapshot()) == n && len(b.snapshot()) == n }), convey.ShouldBeTrue)
				for _, r := range []*recorder{a, b} {
					got := r.snapshot()
					for i := range got {
						convey.So(got[i].Score, convey.ShouldEqual, float64(i))
					}
				}
				convey.So(a.snapshot()[7].ScoreKey, convey.ShouldResemble, scoreEvent(7).ScoreKey)
				convey.So(a.snapshot()[7].Type, convey.ShouldEqual, model.EventScoreUpdated)
			})
		})
	})
}

func TestBus_NonBlockingPublish(t *testing.T) {
	convey.Convey("Given a subscriber that blocks", t, func() {
		bus := eventbus.New()
		release := make(chan struct{})
		convey.Reset(func() {
			close(release)
			_ = bus.Close()
		})

		_, err := bus.Subscribe(func(context.Context, model.ScoreEvent) { <-release })
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When many events are published", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 1000; i++ {
					_ = bus.Publish(context.Background(), scoreEvent(i))
				}
			}()

			convey.Convey("Then the publisher is never held up", func() {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					convey.So("publisher blocked", convey.ShouldBeEmpty)
				}
				convey.So(bus.Pending(), convey.ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestBus_PanickingHandler(t *testing.T) {
	convey.Convey("Given a subscriber that panics on one event", t, func() {
		bus := eventbus.New()
		convey.Reset(func() { _ = bus.Close() })

		r := &recorder{}
		_, err := bus.Subscribe(func(ctx context.Context, e model.ScoreEvent) {
			if e.Score == 1 {
				panic("boom")
			}
			r.handle(ctx, e)
		})
		convey.So(err, convey.ShouldBeNil)

		for i := 0; i < 3; i++ {
			convey.So(bus.Publish(context.Background(), scoreEvent(i)), convey.ShouldBeNil)
		}

		convey.Convey("Then later events are still delivered", func() {
			convey.So(waitFor(func() bool { return len(r.snapshot()) == 2 }), convey.ShouldBeTrue)
			got := r.snapshot()
			convey.So(got[0].Score, convey.ShouldEqual, 0)
			convey.So(got[1].Score, convey.ShouldEqual, 2)
		})
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	convey.Convey("Given a subscription", t, func() {
		bus := eventbus.New()
		convey.Reset(func() { _ = bus.Close() })

		r := &recorder{}
		unsubscribe, err := bus.Subscribe(r.handle)
		convey.So(err, convey.ShouldBeNil)

		convey.So(bus.Publish(context.Background(), scoreEvent(0)), convey.ShouldBeNil)
		convey.So(waitFor(func() bool { return len(r.snapshot()) == 1 }), convey.ShouldBeTrue)

		convey.Convey("When it is cancelled", func() {
			unsubscribe()
			unsubscribe()
			convey.So(waitFor(func() bool { return bus.Subscribers() == 0 }), convey.ShouldBeTrue)
			convey.So(bus.Publish(context.Background(), scoreEvent(1)), convey.ShouldBeNil)

			convey.Convey("Then it receives nothing more", func() {
				time.Sleep(50 * time.Millisecond)
				convey.So(r.snapshot(), convey.ShouldHaveLength, 1)
			})
		})
	})
}

func TestBus_Shutdown(t *testing.T) {
	convey.Convey("Given a bus with queued events", t, func() {
		bus := eventbus.New()
		r := &recorder{}
		_, err := bus.Subscribe(r.handle)
		convey.So(err, convey.ShouldBeNil)
		for i := 0; i < 20; i++ {
			convey.So(bus.Publish(context.Background(), scoreEvent(i)), convey.ShouldBeNil)
		}

		convey.Convey("When it shuts down", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			convey.So(bus.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then queued events were delivered first", func() {
				convey.So(r.snapshot(), convey.ShouldHaveLength, 20)
			})

			convey.Convey("Then further use is rejected", func() {
				convey.So(errors.Is(bus.Publish(context.Background(), scoreEvent(99)), eventbus.ErrClosed), convey.ShouldBeTrue)
				_, err := bus.Subscribe(r.handle)
				convey.So(errors.Is(err, eventbus.ErrClosed), convey.ShouldBeTrue)
				convey.So(bus.Close(), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a nil handler", t, func() {
		bus := eventbus.New()
		defer bus.Close()
		_, err := bus.Subscribe(nil)
		convey.So(errors.Is(err, eventbus.ErrNilHandler), convey.ShouldBeTrue)
	})
}
