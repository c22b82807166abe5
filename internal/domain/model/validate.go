package model

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every struct check in this package.
var validate = validator.New()

// ValidateKey checks key components with the struct tags on ScoreKey.
func ValidateKey(k ScoreKey) error {
	if err := validate.Struct(k); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// Validate checks the competition's structural rules: tagged fields,
// unique ids per dimension and unique judge access codes.
func (c *Competition) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCompetition, c.ID, err)
	}
	seen := make(map[string]struct{})
	unique := func(kind, id string) error {
		k := kind + ":" + id
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w %q: duplicate %s id %q", ErrInvalidCompetition, c.ID, kind, id)
		}
		seen[k] = struct{}{}
		return nil
	}
	for _, s := range c.Segments {
		if err := unique("segment", s.ID); err != nil {
			return err
		}
		for _, cr := range s.Criteria {
			if err := unique("criterion", cr.ID); err != nil {
				return err
			}
		}
	}
	for _, ct := range c.Contestants {
		if err := unique("contestant", ct.ID); err != nil {
			return err
		}
	}
	for _, j := range c.Judges {
		if err := unique("judge", j.ID); err != nil {
			return err
		}
		if j.AccessCode == "" {
			continue
		}
		if err := unique("access code", j.AccessCode); err != nil {
			return err
		}
	}
	return nil
}

// CheckFinite rejects NaN and infinite score values, which cannot be
// compared or encoded.
func CheckFinite(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v is not a finite number", ErrScoreOutOfRange, value)
	}
	return nil
}

// CheckScore verifies that key references existing entities of c and that
// value lies in [0, criterion.MaxScore].
func (c *Competition) CheckScore(key ScoreKey, value float64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	seg, ok := c.Segment(key.SegmentID)
	if !ok {
		return fmt.Errorf("%w: segment %q", ErrUnknownReference, key.SegmentID)
	}
	cr, ok := seg.Criterion(key.CriterionID)
	if !ok {
		return fmt.Errorf("%w: criterion %q", ErrUnknownReference, key.CriterionID)
	}
	if !c.HasContestant(key.ContestantID) {
		return fmt.Errorf("%w: contestant %q", ErrUnknownReference, key.ContestantID)
	}
	if !c.HasJudge(key.JudgeID) {
		return fmt.Errorf("%w: judge %q", ErrUnknownReference, key.JudgeID)
	}
	if err := CheckFinite(value); err != nil {
		return err
	}
	if value < 0 || value > cr.MaxScore {
		return fmt.Errorf("%w: %v not in [0, %v]", ErrScoreOutOfRange, value, cr.MaxScore)
	}
	return nil
}
