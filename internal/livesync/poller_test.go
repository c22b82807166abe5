package livesync_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/reconcile"
	"github.com/okian/tabulator/internal/livesync"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

var t0 = time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	calls atomic.Int32
	gate  chan struct{}

	mu     sync.Mutex
	scores []model.Score
	etag   string
	err    error
	sent   []string
}

func (f *fakeFetcher) FetchScores(ctx context.Context, _ string, etag string) (livesync.FetchResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return livesync.FetchResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, etag)
	if f.err != nil {
		return livesync.FetchResult{}, f.err
	}
	if etag != "" && etag == f.etag {
		return livesync.FetchResult{NotModified: true}, nil
	}
	return livesync.FetchResult{ETag: f.etag, Scores: append([]model.Score(nil), f.scores...)}, nil
}

func (f *fakeFetcher) publish(etag string, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.etag = etag
	f.scores = f.scores[:0]
	for i, v := range values {
		f.scores = append(f.scores, model.Score{ScoreKey: leaf(i), Value: v, UpdatedAt: t0})
	}
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func leaf(i int) model.ScoreKey {
	return model.ScoreKey{SegmentID: "s1", ContestantID: string(rune('a' + i)), JudgeID: "j1", CriterionID: "k1"}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestPoller_Refresh(t *testing.T) {
	Convey("Given a poller over a server with two scores", t, func() {
		ctx := context.Background()
		f := &fakeFetcher{}
		f.publish("v1", 7, 8)
		var applied []reconcile.ApplyResult
		p := livesync.New(f, "comp", livesync.OnChange(func(r reconcile.ApplyResult) { applied = append(applied, r) }))

		Convey("When refreshed", func() {
			So(p.Refresh(ctx), ShouldBeNil)

			Convey("Then the ledger mirrors the server", func() {
				So(p.Ledger().Len(), ShouldEqual, 2)
				st := p.Status()
				So(st.Err, ShouldBeNil)
				So(st.LastUpdate.IsZero(), ShouldBeFalse)
				So(applied, ShouldHaveLength, 1)
			})

			Convey("And refreshed again without server changes", func() {
				So(p.Refresh(ctx), ShouldBeNil)

				Convey("Then the last ETag is sent and nothing is applied", func() {
					So(f.sent, ShouldResemble, []string{"", "v1"})
					So(applied, ShouldHaveLength, 1)
				})
			})

			Convey("And one score changes on the server", func() {
				f.publish("v2", 7, 9)
				So(p.Refresh(ctx), ShouldBeNil)

				Convey("Then only that leaf is applied", func() {
					So(applied, ShouldHaveLength, 2)
					So(applied[1].Changes, ShouldHaveLength, 1)
					So(applied[1].FullReplace, ShouldBeFalse)
					v, _ := p.Ledger().Get(leaf(1))
					So(v, ShouldEqual, 9)
				})
			})

			Convey("And the next fetch fails", func() {
				before := p.Status().LastUpdate
				boom := errors.New("connection refused")
				f.fail(boom)
				err := p.Refresh(ctx)

				Convey("Then the error is retained and the ledger untouched", func() {
					So(errors.Is(err, boom), ShouldBeTrue)
					So(errors.Is(p.Status().Err, boom), ShouldBeTrue)
					So(p.Status().LastUpdate.Equal(before), ShouldBeTrue)
					So(p.Ledger().Len(), ShouldEqual, 2)
				})

				Convey("Then a later success clears it", func() {
					f.fail(nil)
					So(p.Refresh(ctx), ShouldBeNil)
					So(p.Status().Err, ShouldBeNil)
				})
			})
		})
	})
}

func TestPoller_InFlightGuard(t *testing.T) {
	Convey("Given a fetch that blocks", t, func() {
		ctx := context.Background()
		f := &fakeFetcher{gate: make(chan struct{})}
		f.publish("v1", 1)
		p := livesync.New(f, "comp")

		done := make(chan error, 1)
		go func() { done <- p.Refresh(ctx) }()
		So(eventually(func() bool { return f.calls.Load() == 1 }), ShouldBeTrue)

		Convey("When a manual refresh is requested meanwhile", func() {
			err := p.Refresh(ctx)

			Convey("Then it is refused without a second fetch", func() {
				So(errors.Is(err, livesync.ErrRefreshInFlight), ShouldBeTrue)
				So(f.calls.Load(), ShouldEqual, 1)
				close(f.gate)
				So(<-done, ShouldBeNil)
			})
		})
	})
}

func TestPoller_Resync(t *testing.T) {
	Convey("Given a poller mirroring four scores", t, func() {
		ctx := context.Background()
		f := &fakeFetcher{}
		f.publish("v1", 5, 6, 7, 8)
		var applied []reconcile.ApplyResult
		p := livesync.New(f, "comp", livesync.OnChange(func(r reconcile.ApplyResult) { applied = append(applied, r) }))
		So(p.Refresh(ctx), ShouldBeNil)

		Convey("When the server drops one score and a plain refresh runs", func() {
			f.publish("v2", 5, 6, 7)
			So(p.Refresh(ctx), ShouldBeNil)

			Convey("Then the missing leaf is kept", func() {
				So(p.Ledger().Len(), ShouldEqual, 4)
			})

			Convey("And a resync follows", func() {
				So(p.Resync(ctx), ShouldBeNil)

				Convey("Then the ledger matches the server exactly", func() {
					So(p.Ledger().Len(), ShouldEqual, 3)
					_, ok := p.Ledger().Get(leaf(3))
					So(ok, ShouldBeFalse)
					So(f.sent[len(f.sent)-1], ShouldEqual, "")
					last := applied[len(applied)-1]
					So(last.FullReplace, ShouldBeTrue)
					So(last.Removed, ShouldResemble, []model.ScoreKey{leaf(3)})
				})

				Convey("Then later polls send the new ETag again", func() {
					So(p.Refresh(ctx), ShouldBeNil)
					So(f.sent[len(f.sent)-1], ShouldEqual, "v2")
				})
			})
		})

		Convey("When a resync fails", func() {
			f.publish("v2", 5)
			f.fail(errors.New("connection reset"))
			So(p.Resync(ctx), ShouldNotBeNil)
			f.fail(nil)

			Convey("Then the next fetch still resyncs", func() {
				So(p.Refresh(ctx), ShouldBeNil)
				So(f.sent[len(f.sent)-1], ShouldEqual, "")
				So(p.Ledger().Len(), ShouldEqual, 1)
			})
		})
	})
}

func TestPoller_Lifecycle(t *testing.T) {
	Convey("Given a poller with a short interval", t, func() {
		ctx := context.Background()
		f := &fakeFetcher{}
		f.publish("v1", 1)

		Convey("When started", func() {
			p := livesync.New(f, "comp", livesync.WithInterval(5*time.Millisecond))
			p.Start(ctx)
			p.Start(ctx)

			Convey("Then it fetches immediately and on every tick", func() {
				So(p.Status().IsPolling, ShouldBeTrue)
				So(eventually(func() bool { return f.calls.Load() >= 3 }), ShouldBeTrue)
				p.Stop()
				So(p.Status().IsPolling, ShouldBeFalse)
				after := f.calls.Load()
				time.Sleep(20 * time.Millisecond)
				So(f.calls.Load(), ShouldEqual, after)
			})
		})

		Convey("When started hidden", func() {
			p := livesync.New(f, "comp", livesync.WithInterval(5*time.Millisecond), livesync.WithVisible(false))
			p.Start(ctx)
			defer p.Stop()
			time.Sleep(30 * time.Millisecond)

			Convey("Then nothing is fetched until it becomes visible", func() {
				So(f.calls.Load(), ShouldEqual, 0)
				p.SetVisible(true)
				So(eventually(func() bool { return f.calls.Load() >= 1 }), ShouldBeTrue)
				So(eventually(func() bool { return p.Ledger().Len() == 1 }), ShouldBeTrue)
			})
		})

		Convey("When made visible while stopped and then started", func() {
			p := livesync.New(f, "comp", livesync.WithInterval(time.Hour), livesync.WithVisible(false))
			p.SetVisible(true)
			p.Start(ctx)
			defer p.Stop()

			Convey("Then only the initial fetch runs", func() {
				So(eventually(func() bool { return f.calls.Load() == 1 }), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(f.calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestPoller_ApplyEvent(t *testing.T) {
	Convey("Given a poller mirroring one score", t, func() {
		f := &fakeFetcher{}
		f.publish("v1", 5)
		p := livesync.New(f, "comp")
		So(p.Refresh(context.Background()), ShouldBeNil)

		Convey("When a delete event for the competition arrives", func() {
			So(p.ApplyEvent(model.NewScoreDeleted("comp", leaf(0), t0)), ShouldBeNil)
			So(p.Ledger().Len(), ShouldEqual, 0)
		})

		Convey("When an event of another competition arrives", func() {
			So(p.ApplyEvent(model.NewScoreDeleted("other", leaf(0), t0)), ShouldBeNil)
			So(p.Ledger().Len(), ShouldEqual, 1)
		})
	})
}
