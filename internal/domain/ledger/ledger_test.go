package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

var t0 = time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)

func key(seg, con, jud, cri string) model.ScoreKey {
	return model.ScoreKey{SegmentID: seg, ContestantID: con, JudgeID: jud, CriterionID: cri}
}

func fixedClock() func() time.Time { return func() time.Time { return t0 } }

func TestLedger_SetGetDelete(t *testing.T) {
	Convey("Given an empty ledger", t, func() {
		l := New("comp", WithClock(fixedClock()))
		var got []Mutation
		unsubscribe := l.Subscribe(func(m Mutation) { got = append(got, m) })
		Reset(unsubscribe)

		Convey("When a score is set", func() {
			So(l.Set(key("s1", "c1", "j1", "k1"), 8.5), ShouldBeNil)

			Convey("Then it is readable and one mutation is delivered", func() {
				v, ok := l.Get(key("s1", "c1", "j1", "k1"))
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 8.5)
				So(got, ShouldHaveLength, 1)
				So(got[0].Kind, ShouldEqual, MutationSet)
				So(got[0].Previous, ShouldBeNil)
			})

			Convey("Then writing the same value is not a mutation", func() {
				So(l.Set(key("s1", "c1", "j1", "k1"), 8.5), ShouldBeNil)
				So(got, ShouldHaveLength, 1)
			})

			Convey("Then overwriting carries the previous value", func() {
				So(l.Set(key("s1", "c1", "j1", "k1"), 9), ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(*got[1].Previous, ShouldEqual, 8.5)
				So(l.Len(), ShouldEqual, 1)
			})

			Convey("Then deleting removes it exactly once", func() {
				So(l.Delete(key("s1", "c1", "j1", "k1")), ShouldBeTrue)
				So(l.Delete(key("s1", "c1", "j1", "k1")), ShouldBeFalse)
				_, ok := l.Get(key("s1", "c1", "j1", "k1"))
				So(ok, ShouldBeFalse)
				So(got, ShouldHaveLength, 2)
				So(got[1].Kind, ShouldEqual, MutationDelete)
				So(l.SegmentScores("s1"), ShouldBeEmpty)
			})
		})

		Convey("When the key is malformed", func() {
			err := l.Set(key("s1", "c|1", "j1", "k1"), 1)
			So(errors.Is(err, ErrInvalidKey), ShouldBeTrue)
			So(got, ShouldBeEmpty)
		})

		Convey("When the value is not a finite number", func() {
			for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
				err := l.Set(key("s1", "c1", "j1", "k1"), v)
				So(errors.Is(err, ErrScoreOutOfRange), ShouldBeTrue)
			}
			So(l.Len(), ShouldEqual, 0)
			So(got, ShouldBeEmpty)
		})

		Convey("When unsubscribed", func() {
			unsubscribe()
			unsubscribe()
			So(l.Set(key("s1", "c1", "j1", "k1"), 1), ShouldBeNil)
			So(got, ShouldBeEmpty)
		})
	})
}

func TestLedger_Indexes(t *testing.T) {
	Convey("Given scores across two segments", t, func() {
		l := New("comp", WithClock(fixedClock()))
		So(l.Set(key("s2", "c1", "j1", "k1"), 3), ShouldBeNil)
		So(l.Set(key("s1", "c2", "j1", "k1"), 2), ShouldBeNil)
		So(l.Set(key("s1", "c1", "j2", "k1"), 1), ShouldBeNil)
		So(l.Set(key("s1", "c1", "j1", "k1"), 4), ShouldBeNil)

		Convey("Then segment lookups are sorted by key", func() {
			scores := l.SegmentScores("s1")
			So(scores, ShouldHaveLength, 3)
			So(scores[0].ScoreKey, ShouldResemble, key("s1", "c1", "j1", "k1"))
			So(scores[1].ScoreKey, ShouldResemble, key("s1", "c1", "j2", "k1"))
			So(scores[2].ScoreKey, ShouldResemble, key("s1", "c2", "j1", "k1"))
		})

		Convey("Then contestant lookups span segments", func() {
			So(l.ContestantScores("c1"), ShouldHaveLength, 3)
			So(l.ContestantScores("nobody"), ShouldBeEmpty)
		})
	})
}

func TestLedger_ReplaceAllAndReset(t *testing.T) {
	Convey("Given a ledger with one score", t, func() {
		l := New("comp", WithClock(fixedClock()))
		So(l.Set(key("s1", "c1", "j1", "k1"), 4), ShouldBeNil)
		var kinds []MutationKind
		Reset(l.Subscribe(func(m Mutation) { kinds = append(kinds, m.Kind) }))

		Convey("When replaced with a snapshot", func() {
			snap := NewSnapshot("comp", []model.Score{
				{ScoreKey: key("s1", "c2", "j1", "k1"), Value: 7, UpdatedAt: t0},
				{ScoreKey: key("s1", "c3", "j1", "k1"), Value: 6, UpdatedAt: t0},
			}, t0)
			l.ReplaceAll(snap)

			So(l.Len(), ShouldEqual, 2)
			_, ok := l.Get(key("s1", "c1", "j1", "k1"))
			So(ok, ShouldBeFalse)
			So(kinds, ShouldResemble, []MutationKind{MutationReplace})
			So(l.Snapshot().Fingerprint(), ShouldEqual, snap.Fingerprint())
		})

		Convey("When reset for another competition", func() {
			l.Reset("other")
			So(l.Len(), ShouldEqual, 0)
			So(l.CompetitionID(), ShouldEqual, "other")
			So(kinds, ShouldResemble, []MutationKind{MutationReplace})
		})
	})
}

func TestLedger_ConcurrentWriters(t *testing.T) {
	Convey("Given many concurrent writers", t, func() {
		l := New("comp")
		var mu sync.Mutex
		seen := 0
		Reset(l.Subscribe(func(Mutation) { mu.Lock(); seen++; mu.Unlock() }))

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					_ = l.Set(key("s1", fmt.Sprintf("c%d", i), fmt.Sprintf("j%d", w), "k1"), float64(i))
				}
			}(w)
		}
		wg.Wait()

		So(l.Len(), ShouldEqual, 400)
		So(seen, ShouldEqual, 400)
	})
}

func TestSnapshot(t *testing.T) {
	Convey("Given the same scores in different orders", t, func() {
		a := model.Score{ScoreKey: key("s1", "c1", "j1", "k1"), Value: 8, UpdatedAt: t0}
		b := model.Score{ScoreKey: key("s1", "c2", "j1", "k1"), Value: 7.25, UpdatedAt: t0}
		s1 := NewSnapshot("comp", []model.Score{a, b}, t0)
		s2 := NewSnapshot("comp", []model.Score{b, a}, t0.Add(time.Hour))

		Convey("Then fingerprints match", func() {
			So(s1.Fingerprint(), ShouldEqual, s2.Fingerprint())
			So(s1.Fingerprint(), ShouldHaveLength, 16)
		})

		Convey("Then a changed value changes the fingerprint", func() {
			b.Value = 7.5
			s3 := NewSnapshot("comp", []model.Score{a, b}, t0)
			So(s3.Fingerprint(), ShouldNotEqual, s1.Fingerprint())
		})

		Convey("Then the encoding is the sorted wire row list", func() {
			raw, err := s2.Encode()
			So(err, ShouldBeNil)
			var rows []Row
			So(json.Unmarshal(raw, &rows), ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].ContestantID, ShouldEqual, "c1")
			So(rows[1].Score, ShouldEqual, 7.25)

			back, err := ScoresFromRows(rows)
			So(err, ShouldBeNil)
			So(NewSnapshot("comp", back, t0).Fingerprint(), ShouldEqual, s1.Fingerprint())
		})

		Convey("Then a ledger snapshot is unaffected by later writes", func() {
			l := New("comp", WithClock(fixedClock()))
			So(l.Put(a), ShouldBeNil)
			snap := l.Snapshot()
			So(l.Set(a.ScoreKey, 1), ShouldBeNil)
			v, _ := snap.Get(a.ScoreKey)
			So(v, ShouldEqual, 8)
		})
	})

	Convey("Given the zero snapshot", t, func() {
		var s Snapshot
		So(s.Len(), ShouldEqual, 0)
		So(s.Scores(), ShouldBeEmpty)
		So(s.Fingerprint(), ShouldEqual, NewSnapshot("", nil, t0).Fingerprint())
	})

	Convey("Given rows with an invalid key", t, func() {
		_, err := ScoresFromRows([]Row{{SegmentID: "s1", ContestantID: "c1", JudgeID: "", CriterionID: "k1"}})
		So(errors.Is(err, ErrInvalidRow), ShouldBeTrue)
	})
}
