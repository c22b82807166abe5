package simulator

import (
	"math"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/okian/tabulator/internal/domain/model"
)

// Generator produces random judge submissions for one segment.
type Generator struct {
	faker *gofakeit.Faker
	step  float64
}

// NewGenerator returns a generator seeded with seed; step rounds scores.
func NewGenerator(seed uint64, step float64) *Generator {
	if step <= 0 {
		step = 0.25
	}
	return &Generator{faker: gofakeit.New(seed), step: step}
}

// Generate returns up to n submissions over distinct score keys of segment.
// Contestants are those currently in the segment; prejudged criteria are
// skipped. Each contestant gets a base skill so rankings spread out.
func (g *Generator) Generate(comp *model.Competition, segmentID string, n int) ([]Submission, error) {
	seg, ok := comp.Segment(segmentID)
	if !ok {
		return nil, ErrNoSegment
	}
	var contestants []model.Contestant
	for _, c := range comp.Contestants {
		if c.CurrentSegmentID == segmentID {
			contestants = append(contestants, c)
		}
	}
	var criteria []model.Criterion
	for _, cr := range seg.Criteria {
		if !cr.IsPrejudged && cr.MaxScore > 0 {
			criteria = append(criteria, cr)
		}
	}
	if len(contestants) == 0 || len(comp.Judges) == 0 || len(criteria) == 0 {
		return nil, ErrNothingToDo
	}

	skill := make(map[string]float64, len(contestants))
	for _, c := range contestants {
		skill[c.ID] = g.faker.Float64Range(0.4, 0.95)
	}

	var out []Submission
	for _, c := range contestants {
		for _, j := range comp.Judges {
			for _, cr := range criteria {
				v := (skill[c.ID] + g.faker.Float64Range(-0.1, 0.1)) * cr.MaxScore
				out = append(out, Submission{
					Score:          g.round(v, cr.MaxScore),
					ContestantID:   c.ID,
					JudgeID:        j.ID,
					CriterionID:    cr.ID,
					IdempotencyKey: uuid.NewString(),
				})
			}
		}
	}
	g.faker.ShuffleAnySlice(out)
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out, nil
}

// Pick returns k random elements of subs.
func (g *Generator) Pick(subs []Submission, k int) []Submission {
	if k <= 0 {
		return nil
	}
	picked := append([]Submission(nil), subs...)
	g.faker.ShuffleAnySlice(picked)
	if k < len(picked) {
		picked = picked[:k]
	}
	return picked
}

func (g *Generator) round(v, maxScore float64) float64 {
	v = math.Round(v/g.step) * g.step
	return math.Max(0, math.Min(maxScore, v))
}

// ScoreSubmission converts s to the wire request for segmentID.
func (s Submission) ScoreSubmission(segmentID string) model.ScoreSubmission {
	return model.ScoreSubmission{
		ScoreKey: model.ScoreKey{
			SegmentID:    segmentID,
			ContestantID: s.ContestantID,
			JudgeID:      s.JudgeID,
			CriterionID:  s.CriterionID,
		},
		Score: s.Score,
	}
}
