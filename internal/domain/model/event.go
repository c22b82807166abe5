package model

import "time"

// EventType names a score event on the event channel.
type EventType string

// EventScoreUpdated announces a score mutation (create, update, or delete).
const EventScoreUpdated EventType = "SCORE_UPDATED"

// ScoreEvent is published after every score mutation reaches the gateway.
type ScoreEvent struct {
	Type          EventType `json:"type"`
	CompetitionID string    `json:"competitionId"`
	ScoreKey
	Score     float64   `json:"score,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewScoreSet builds the event for an upsert.
func NewScoreSet(competitionID string, s Score) ScoreEvent {
	return ScoreEvent{
		Type:          EventScoreUpdated,
		CompetitionID: competitionID,
		ScoreKey:      s.ScoreKey,
		Score:         s.Value,
		Timestamp:     s.UpdatedAt,
	}
}

// NewScoreDeleted builds the event for a removed score.
func NewScoreDeleted(competitionID string, key ScoreKey, at time.Time) ScoreEvent {
	return ScoreEvent{
		Type:          EventScoreUpdated,
		CompetitionID: competitionID,
		ScoreKey:      key,
		Deleted:       true,
		Timestamp:     at,
	}
}
