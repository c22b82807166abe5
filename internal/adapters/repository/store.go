// Package repository defines the score persistence gateway and its stores.
package repository

import (
	"context"

	"github.com/okian/tabulator/internal/domain/model"
)

// Gateway provides read/write access to the persisted scores.
type Gateway interface {
	// ListScores returns every score of a competition.
	ListScores(ctx context.Context, competitionID string) ([]model.Score, error)

	// UpsertScore writes s, replacing any score held under the same key.
	UpsertScore(ctx context.Context, competitionID string, s model.Score) error

	// DeleteScore removes the score under key and reports whether it existed.
	DeleteScore(ctx context.Context, competitionID string, key model.ScoreKey) (bool, error)

	// ResetScores removes every score of a competition except those of the
	// listed criteria and returns the removed keys in key order.
	ResetScores(ctx context.Context, competitionID string, preserveCriterionIDs []string) ([]model.ScoreKey, error)

	// Close releases the underlying resources.
	Close() error
}
