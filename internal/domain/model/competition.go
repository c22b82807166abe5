// Package model contains domain models passed between layers.
package model

import "strings"

// Gender groups contestants when rankings are separated by gender.
type Gender string

// Supported genders.
const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "unspecified"
)

// ParseGender normalizes free-form input; anything unknown is unspecified.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	default:
		return GenderUnspecified
	}
}

// Normalize returns g, or GenderUnspecified when g is not a known value.
func (g Gender) Normalize() Gender {
	return ParseGender(string(g))
}

// Criterion is a scored dimension within a segment.
type Criterion struct {
	ID          string  `yaml:"id" json:"id" validate:"required,excludesall=0x7C"`
	Name        string  `yaml:"name" json:"name"`
	MaxScore    float64 `yaml:"max_score" json:"maxScore"`
	IsPrejudged bool    `yaml:"is_prejudged" json:"isPrejudged"`
}

// Segment is a phase of a competition with its own ordered criteria.
type Segment struct {
	ID                  string      `yaml:"id" json:"id" validate:"required,excludesall=0x7C"`
	Name                string      `yaml:"name" json:"name"`
	Criteria            []Criterion `yaml:"criteria" json:"criteria" validate:"dive"`
	AdvancingCandidates int         `yaml:"advancing_candidates" json:"advancingCandidates" validate:"gte=0"`
}

// Criterion returns the criterion with the given id.
func (s *Segment) Criterion(id string) (Criterion, bool) {
	for _, c := range s.Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}

// Contestant competes in one segment at a time.
type Contestant struct {
	ID               string `yaml:"id" json:"id" validate:"required,excludesall=0x7C"`
	Name             string `yaml:"name" json:"name"`
	Number           int    `yaml:"number" json:"number"`
	Gender           Gender `yaml:"gender" json:"gender"`
	CurrentSegmentID string `yaml:"current_segment_id" json:"currentSegmentId"`
}

// Judge scores contestants. AccessCode is unique within a competition.
type Judge struct {
	ID         string `yaml:"id" json:"id" validate:"required,excludesall=0x7C"`
	Name       string `yaml:"name" json:"name"`
	AccessCode string `yaml:"access_code" json:"-"`
}

// RankingConfig tunes how rankings are grouped.
type RankingConfig struct {
	SeparateRankingByGender bool `yaml:"separate_ranking_by_gender" json:"separateRankingByGender"`
}

// Competition aggregates everything the ranking engine reads about a contest.
type Competition struct {
	ID          string        `yaml:"id" json:"id" validate:"required,excludesall=0x7C"`
	Name        string        `yaml:"name" json:"name"`
	Segments    []Segment     `yaml:"segments" json:"segments" validate:"dive"`
	Contestants []Contestant  `yaml:"contestants" json:"contestants" validate:"dive"`
	Judges      []Judge       `yaml:"judges" json:"judges" validate:"dive"`
	Ranking     RankingConfig `yaml:"ranking" json:"ranking"`
}

// Segment returns the segment with the given id.
func (c *Competition) Segment(id string) (*Segment, bool) {
	for i := range c.Segments {
		if c.Segments[i].ID == id {
			return &c.Segments[i], true
		}
	}
	return nil, false
}

// HasContestant reports whether id belongs to the competition.
func (c *Competition) HasContestant(id string) bool {
	for _, ct := range c.Contestants {
		if ct.ID == id {
			return true
		}
	}
	return false
}

// HasJudge reports whether id belongs to the competition.
func (c *Competition) HasJudge(id string) bool {
	for _, j := range c.Judges {
		if j.ID == id {
			return true
		}
	}
	return false
}

// PrejudgedCriterionIDs lists criteria that a bulk reset must preserve.
func (c *Competition) PrejudgedCriterionIDs() []string {
	var ids []string
	for _, s := range c.Segments {
		for _, cr := range s.Criteria {
			if cr.IsPrejudged {
				ids = append(ids, cr.ID)
			}
		}
	}
	return ids
}
