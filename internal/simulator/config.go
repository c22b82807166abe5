// Package simulator drives a tabulator server with randomized judge scores.
package simulator

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	CompetitionID string        // Competition to score
	SegmentID     string        // Segment to score; empty picks the first segment
	Submissions   int           // Number of distinct scores to submit
	RetryRatio    float64       // Share of submissions resent with the same idempotency key
	Workers       int           // Number of concurrent submitters
	Timeout       time.Duration // Per-request timeout
	Seed          uint64        // Random seed; zero uses the clock
	Step          float64       // Score granularity, e.g. 0.25
}

// Submission is one generated score with its idempotency key.
type Submission struct {
	Score          float64
	ContestantID   string
	JudgeID        string
	CriterionID    string
	IdempotencyKey string
}

// Stats holds run statistics.
type Stats struct {
	Generated  int
	Submitted  int
	Stored     int
	Duplicates int
	Retried    int
	Failed     int
	Ranked     int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}
