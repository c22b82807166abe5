package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/adapters/cache"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakeScores struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	gate     chan struct{}
	err    error
	mu     sync.Mutex
	scores []model.Score
}

func (f *fakeScores) ListScores(ctx context.Context, _ string) ([]model.Score, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Score(nil), f.scores...), nil
}

func (f *fakeScores) set(v float64) {
	f.mu.Lock()
	f.scores = []model.Score{{ScoreKey: model.ScoreKey{SegmentID: "s1", ContestantID: "c1", JudgeID: "j1", CriterionID: "k1"}, Value: v}}
	f.mu.Unlock()
}

type fakeCatalog struct{}

var errNoCompetition = errors.New("no such competition")

func (fakeCatalog) Competition(_ context.Context, id string) (*model.Competition, error) {
	if id != "comp" {
		return nil, errNoCompetition
	}
	return &model.Competition{
		ID: "comp",
		Segments: []model.Segment{{
			ID:       "s1",
			Criteria: []model.Criterion{{ID: "k1", MaxScore: 10}},
		}},
		Contestants: []model.Contestant{{ID: "c1", CurrentSegmentID: "s1"}},
		Judges:      []model.Judge{{ID: "j1"}},
	}, nil
}

func TestRankingCache_Get(t *testing.T) {
	Convey("Given a ranking cache over one competition", t, func() {
		ctx := context.Background()
		src := &fakeScores{}
		src.set(7)
		c := cache.New(src, fakeCatalog{})

		Convey("When rankings are read twice", func() {
			first, err := c.Get(ctx, "comp", false)
			So(err, ShouldBeNil)
			second, err := c.Get(ctx, "comp", false)
			So(err, ShouldBeNil)

			Convey("Then the gateway is read once and the entry is reused", func() {
				So(src.calls.Load(), ShouldEqual, 1)
				So(second, ShouldEqual, first)
				So(first.Rankings["s1"]["c1"].Score, ShouldEqual, 7)
				So(first.Scores.Len(), ShouldEqual, 1)
			})
		})

		Convey("When a refresh is forced", func() {
			_, err := c.Get(ctx, "comp", false)
			So(err, ShouldBeNil)
			src.set(9)
			data, err := c.Get(ctx, "comp", true)

			Convey("Then the gateway is read again", func() {
				So(err, ShouldBeNil)
				So(src.calls.Load(), ShouldEqual, 2)
				So(data.Rankings["s1"]["c1"].Score, ShouldEqual, 9)
			})
		})

		Convey("When the entry is invalidated", func() {
			_, err := c.Get(ctx, "comp", false)
			So(err, ShouldBeNil)
			So(c.Status(), ShouldHaveLength, 1)
			c.Invalidate("comp")

			Convey("Then the next read fetches again", func() {
				So(c.Status(), ShouldBeEmpty)
				_, err := c.Get(ctx, "comp", false)
				So(err, ShouldBeNil)
				So(src.calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the competition is unknown", func() {
			_, err := c.Get(ctx, "nope", false)
			So(errors.Is(err, errNoCompetition), ShouldBeTrue)
			So(src.calls.Load(), ShouldEqual, 0)
		})

		Convey("When the gateway fails", func() {
			src.err = errors.New("db down")
			_, err := c.Get(ctx, "comp", false)

			Convey("Then nothing is cached", func() {
				So(errors.Is(err, cache.ErrFetchFailed), ShouldBeTrue)
				So(c.Status(), ShouldBeEmpty)
			})
		})
	})
}

func TestRankingCache_Coalescing(t *testing.T) {
	Convey("Given a gateway that blocks until released", t, func() {
		ctx := context.Background()
		src := &fakeScores{gate: make(chan struct{})}
		src.set(5)
		c := cache.New(src, fakeCatalog{})

		Convey("When many callers read concurrently", func() {
			const callers = 20
			var wg sync.WaitGroup
			results := make([]*cache.RankingData, callers)
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = c.Get(ctx, "comp", i%2 == 0)
				}(i)
			}
			for src.calls.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(20 * time.Millisecond)
			close(src.gate)
			wg.Wait()

			Convey("Then exactly one fetch serves all of them", func() {
				So(src.calls.Load(), ShouldEqual, 1)
				for i := range results {
					So(errs[i], ShouldBeNil)
					So(results[i], ShouldEqual, results[0])
				}
			})
		})

		Convey("When the entry is invalidated during the fetch", func() {
			done := make(chan *cache.RankingData, 1)
			go func() {
				data, _ := c.Get(ctx, "comp", false)
				done <- data
			}()
			for src.calls.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			c.Invalidate("comp")
			close(src.gate)
			data := <-done

			Convey("Then the waiter gets the result but it is not stored", func() {
				So(data, ShouldNotBeNil)
				So(c.Status(), ShouldBeEmpty)
			})
		})

		Convey("When the entry is invalidated twice while readers keep arriving", func() {
			first := make(chan *cache.RankingData, 1)
			go func() {
				data, _ := c.Get(ctx, "comp", false)
				first <- data
			}()
			for src.calls.Load() == 0 {
				time.Sleep(time.Millisecond)
			}

			const late = 4
			var wg sync.WaitGroup
			results := make([]*cache.RankingData, late)
			for i := 0; i < late; i++ {
				if i%2 == 0 {
					c.Invalidate("comp")
				}
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], _ = c.Get(ctx, "comp", false)
				}(i)
			}
			time.Sleep(20 * time.Millisecond)
			So(src.calls.Load(), ShouldEqual, 1)
			close(src.gate)
			wg.Wait()
			stale := <-first

			Convey("Then one fetch runs at a time and late readers get a fresh one", func() {
				So(src.peak.Load(), ShouldEqual, 1)
				So(src.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)
				So(stale, ShouldNotBeNil)
				for i := range results {
					So(results[i], ShouldNotBeNil)
					So(results[i], ShouldNotPointTo, stale)
				}
				So(c.Status(), ShouldHaveLength, 1)
			})
		})

		Convey("When a caller gives up waiting", func() {
			short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err := c.Get(short, "comp", false)
			close(src.gate)

			Convey("Then it returns its own context error", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}
