// Package ranking turns raw judge scores into per-contestant aggregates and
// standard competition ranks.
package ranking

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// GroupAll is the group key used when rankings are not split by gender.
const GroupAll = "all"

// Reasons recorded when a score is ignored.
const (
	dropDangling   = "dangling"
	dropOutOfRange = "out_of_range"
)

// Input is everything the calculator reads. Scores may span segments; only
// those of the requested segment are used.
type Input struct {
	Segments    []model.Segment
	Contestants []model.Contestant
	Judges      []model.Judge
	Scores      []model.Score
}

// InputFor builds an Input from a competition definition and its scores.
func InputFor(comp *model.Competition, scores []model.Score) Input {
	return Input{Segments: comp.Segments, Contestants: comp.Contestants, Judges: comp.Judges, Scores: scores}
}

// Entry is one contestant's ranking within a group.
type Entry struct {
	ContestantID string  `json:"contestantId"`
	Score        float64 `json:"score"`
	Rank         int     `json:"rank"`
	Group        string  `json:"group"`
	Advancing    bool    `json:"advancing,omitempty"`
}

// Result maps contestant id to its entry.
type Result map[string]Entry

// Entries returns the entries ordered by group, rank, then contestant id.
func (r Result) Entries() []Entry {
	out := make([]Entry, 0, len(r))
	for _, e := range r {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ContestantID < b.ContestantID
	})
	return out
}

// Group returns the entries of one group in rank order.
func (r Result) Group(group string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

// MarshalText renders one line per entry: group, rank, contestant, score.
// Output is byte-identical for equal results.
func (r Result) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	for _, e := range r.Entries() {
		fmt.Fprintf(&b, "%s\t%d\t%s\t%.2f", e.Group, e.Rank, e.ContestantID, e.Score)
		if e.Advancing {
			b.WriteString("\tadvancing")
		}
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// Calculator computes segment rankings. It never fails: bad input degrades
// to a partial or empty result and is logged.
type Calculator struct {
	log    logger.Logger
	tracer trace.Tracer
}

// NewCalculator creates a Calculator.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("ranking")
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("tabulator/ranking")
	}
	return c
}

var (
	defaultOnce sync.Once
	defaultCalc *Calculator
)

// ComputeRankings ranks one segment with a shared default Calculator.
func ComputeRankings(ctx context.Context, in Input, segmentID string, cfg model.RankingConfig) Result {
	defaultOnce.Do(func() { defaultCalc = NewCalculator() })
	return defaultCalc.Compute(ctx, in, segmentID, cfg)
}

// ComputeCompetition ranks every segment of comp.
func (c *Calculator) ComputeCompetition(ctx context.Context, comp *model.Competition, scores []model.Score) map[string]Result {
	in := InputFor(comp, scores)
	out := make(map[string]Result, len(comp.Segments))
	for _, s := range comp.Segments {
		out[s.ID] = c.Compute(ctx, in, s.ID, comp.Ranking)
	}
	return out
}

// tally accumulates one criterion's scores for one contestant.
type tally struct {
	sum   float64
	count int
}

// Compute ranks the contestants of segmentID.
func (c *Calculator) Compute(ctx context.Context, in Input, segmentID string, cfg model.RankingConfig) Result {
	ctx, span := c.tracer.Start(ctx, "ranking.Compute",
		trace.WithAttributes(attribute.String("segment_id", segmentID)))
	defer span.End()
	start := time.Now()

	seg := findSegment(in.Segments, segmentID)
	if seg == nil || len(seg.Criteria) == 0 {
		c.log.Debug(ctx, "segment missing or without criteria", logger.String("segment_id", segmentID))
		return Result{}
	}

	criteria := make(map[string]model.Criterion, len(seg.Criteria))
	for _, cr := range seg.Criteria {
		if cr.MaxScore <= 0 {
			c.log.Warn(ctx, "criterion excluded: non-positive max score",
				logger.String("segment_id", segmentID),
				logger.String("criterion_id", cr.ID),
				logger.Float64("max_score", cr.MaxScore))
			metrics.RecordConfigAnomaly()
			continue
		}
		criteria[cr.ID] = cr
	}

	contestants := make(map[string]model.Contestant, len(in.Contestants))
	for _, ct := range in.Contestants {
		contestants[ct.ID] = ct
	}
	judges := make(map[string]struct{}, len(in.Judges))
	for _, j := range in.Judges {
		judges[j.ID] = struct{}{}
	}

	// Last score per key wins, so duplicates in the input cannot double count.
	latest := make(map[model.ScoreKey]float64)
	for _, s := range in.Scores {
		if s.SegmentID != segmentID {
			continue
		}
		if _, ok := contestants[s.ContestantID]; !ok {
			c.drop(ctx, s, dropDangling)
			continue
		}
		if _, ok := judges[s.JudgeID]; !ok {
			c.drop(ctx, s, dropDangling)
			continue
		}
		cr, known := seg.Criterion(s.CriterionID)
		if !known {
			c.drop(ctx, s, dropDangling)
			continue
		}
		if _, usable := criteria[s.CriterionID]; !usable {
			continue
		}
		if math.IsNaN(s.Value) || s.Value < 0 || s.Value > cr.MaxScore {
			c.drop(ctx, s, dropOutOfRange)
			continue
		}
		latest[s.ScoreKey] = s.Value
	}

	tallies := make(map[string]map[string]*tally)
	for k, v := range latest {
		byCriterion, ok := tallies[k.ContestantID]
		if !ok {
			byCriterion = make(map[string]*tally)
			tallies[k.ContestantID] = byCriterion
		}
		t, ok := byCriterion[k.CriterionID]
		if !ok {
			t = &tally{}
			byCriterion[k.CriterionID] = t
		}
		t.sum += v
		t.count++
	}

	groups := make(map[string][]Entry)
	for _, ct := range in.Contestants {
		_, scored := tallies[ct.ID]
		if ct.CurrentSegmentID != segmentID && !scored {
			continue
		}
		var total float64
		for _, cr := range seg.Criteria {
			if t, ok := tallies[ct.ID][cr.ID]; ok && t.count > 0 {
				total += t.sum / float64(t.count)
			}
		}
		group := GroupAll
		if cfg.SeparateRankingByGender {
			group = string(ct.Gender.Normalize())
		}
		groups[group] = append(groups[group], Entry{ContestantID: ct.ID, Score: Round2(total), Group: group})
	}

	result := make(Result)
	for _, entries := range groups {
		assignRanks(entries)
		for _, e := range entries {
			e.Advancing = seg.AdvancingCandidates > 0 && e.Rank <= seg.AdvancingCandidates
			result[e.ContestantID] = e
		}
	}

	metrics.RecordRankingComputation(float64(time.Since(start).Microseconds()) / 1000)
	span.SetAttributes(attribute.Int("contestants", len(result)), attribute.Int("groups", len(groups)))
	return result
}

func (c *Calculator) drop(ctx context.Context, s model.Score, reason string) {
	metrics.RecordScoreDropped(reason)
	c.log.Debug(ctx, "score ignored",
		logger.String("key", s.ScoreKey.String()),
		logger.Float64("value", s.Value),
		logger.String("reason", reason))
}

// assignRanks sorts entries by score descending then id, and assigns
// standard competition ranks: ties share a rank and consume its slots.
func assignRanks(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		hi, hj := hundredths(entries[i].Score), hundredths(entries[j].Score)
		if hi != hj {
			return hi > hj
		}
		return entries[i].ContestantID < entries[j].ContestantID
	})
	for i := range entries {
		if i > 0 && hundredths(entries[i].Score) == hundredths(entries[i-1].Score) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// Round2 rounds x to two decimals, halves away from zero. The nudge absorbs
// binary representation error so 16.505 rounds to 16.51.
func Round2(x float64) float64 {
	return float64(hundredths(x)) / 100
}

func hundredths(x float64) int64 {
	return int64(math.Round(x*100 + math.Copysign(1e-7, x)))
}

func findSegment(segments []model.Segment, id string) *model.Segment {
	for i := range segments {
		if segments[i].ID == id {
			return &segments[i]
		}
	}
	return nil
}
