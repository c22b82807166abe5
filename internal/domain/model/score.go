package model

import (
	"fmt"
	"strings"
	"time"
)

// keySeparator joins the four key components in the flattened form.
const keySeparator = "|"

// ScoreKey identifies a single judge score. At most one Score exists per key.
type ScoreKey struct {
	SegmentID    string `json:"segmentId" validate:"required,excludesall=0x7C"`
	ContestantID string `json:"contestantId" validate:"required,excludesall=0x7C"`
	JudgeID      string `json:"judgeId" validate:"required,excludesall=0x7C"`
	CriterionID  string `json:"criterionId" validate:"required,excludesall=0x7C"`
}

// String returns "segmentId|contestantId|judgeId|criterionId".
func (k ScoreKey) String() string {
	return k.SegmentID + keySeparator + k.ContestantID + keySeparator + k.JudgeID + keySeparator + k.CriterionID
}

// Less orders keys component by component.
func (k ScoreKey) Less(o ScoreKey) bool {
	if k.SegmentID != o.SegmentID {
		return k.SegmentID < o.SegmentID
	}
	if k.ContestantID != o.ContestantID {
		return k.ContestantID < o.ContestantID
	}
	if k.JudgeID != o.JudgeID {
		return k.JudgeID < o.JudgeID
	}
	return k.CriterionID < o.CriterionID
}

// Valid reports whether every component is present and separator-free.
func (k ScoreKey) Valid() bool {
	for _, part := range []string{k.SegmentID, k.ContestantID, k.JudgeID, k.CriterionID} {
		if part == "" || strings.Contains(part, keySeparator) {
			return false
		}
	}
	return true
}

// ParseScoreKey is the inverse of ScoreKey.String.
func ParseScoreKey(s string) (ScoreKey, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 4 {
		return ScoreKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := ScoreKey{SegmentID: parts[0], ContestantID: parts[1], JudgeID: parts[2], CriterionID: parts[3]}
	if !k.Valid() {
		return ScoreKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return k, nil
}

// Score is a raw judge score for one criterion.
type Score struct {
	ScoreKey
	Value     float64
	UpdatedAt time.Time
}

// ScoreSubmission is one judge's score for one criterion as sent by a client.
type ScoreSubmission struct {
	ScoreKey
	Score float64 `json:"score"`
}
