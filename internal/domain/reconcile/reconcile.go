// Package reconcile diffs successive ledger snapshots and applies only the
// changed leaves to a live ledger.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// DefaultBulkReplaceRatio switches to a full replace when more than half of
// the new snapshot's leaves changed.
const DefaultBulkReplaceRatio = 0.5

// LeafChange is one score that differs between two snapshots. OldScore is
// nil when the leaf is new.
type LeafChange struct {
	Key       model.ScoreKey `json:"key"`
	OldScore  *float64       `json:"oldScore,omitempty"`
	NewScore  float64        `json:"newScore"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DetectChanges walks every leaf of next and reports those whose value is
// absent from or different in prev, sorted by key. Leaves missing from next
// are not reported.
func DetectChanges(prev, next ledger.Snapshot) []LeafChange {
	var changes []LeafChange
	for _, s := range next.Scores() {
		old, ok := prev.Get(s.ScoreKey)
		if ok && old == s.Value {
			continue
		}
		c := LeafChange{Key: s.ScoreKey, NewScore: s.Value, UpdatedAt: s.UpdatedAt}
		if ok {
			v := old
			c.OldScore = &v
		}
		changes = append(changes, c)
	}
	return changes
}

// Patch returns prev with changes applied.
func Patch(prev ledger.Snapshot, changes []LeafChange) ledger.Snapshot {
	byKey := make(map[model.ScoreKey]model.Score, prev.Len()+len(changes))
	for _, s := range prev.Scores() {
		byKey[s.ScoreKey] = s
	}
	for _, c := range changes {
		byKey[c.Key] = model.Score{ScoreKey: c.Key, Value: c.NewScore, UpdatedAt: c.UpdatedAt}
	}
	scores := make([]model.Score, 0, len(byKey))
	for _, s := range byKey {
		scores = append(scores, s)
	}
	return ledger.NewSnapshot(prev.CompetitionID(), scores, prev.TakenAt())
}

// ApplyResult reports what Apply or Replace did. Removed is only filled by
// Replace.
type ApplyResult struct {
	Changes     []LeafChange
	Removed     []model.ScoreKey
	FullReplace bool
}

// Synchronizer applies snapshot deltas to a ledger.
type Synchronizer struct {
	ratio float64
	log   logger.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{ratio: DefaultBulkReplaceRatio}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("reconcile")
	}
	return s
}

// Apply brings l from prev to next. Changed leaves are written one by one
// unless their count exceeds the bulk ratio of next's size, in which case
// the whole ledger is replaced.
func (s *Synchronizer) Apply(ctx context.Context, l *ledger.Ledger, prev, next ledger.Snapshot) (ApplyResult, error) {
	changes := DetectChanges(prev, next)
	res := ApplyResult{Changes: changes}
	if len(changes) == 0 {
		return res, nil
	}

	if float64(len(changes)) > s.ratio*float64(next.Len()) {
		l.ReplaceAll(next)
		res.FullReplace = true
		metrics.RecordSyncApply(len(changes), true)
		s.log.Debug(ctx, "bulk replace",
			logger.Int("changes", len(changes)),
			logger.Int("leaves", next.Len()))
		return res, nil
	}

	for _, c := range changes {
		if err := l.Put(model.Score{ScoreKey: c.Key, Value: c.NewScore, UpdatedAt: c.UpdatedAt}); err != nil {
			return res, fmt.Errorf("apply %s: %w", c.Key.String(), err)
		}
	}
	metrics.RecordSyncApply(len(changes), false)
	s.log.Debug(ctx, "selective apply", logger.Int("changes", len(changes)))
	return res, nil
}

// Replace makes l hold exactly next, dropping leaves that next lacks. Use it
// when deletions may have been missed.
func (s *Synchronizer) Replace(ctx context.Context, l *ledger.Ledger, prev, next ledger.Snapshot) ApplyResult {
	res := ApplyResult{Changes: DetectChanges(prev, next), FullReplace: true}
	for _, sc := range prev.Scores() {
		if _, ok := next.Get(sc.ScoreKey); !ok {
			res.Removed = append(res.Removed, sc.ScoreKey)
		}
	}
	l.ReplaceAll(next)
	metrics.RecordSyncApply(len(res.Changes)+len(res.Removed), true)
	s.log.Debug(ctx, "resync replace",
		logger.Int("changes", len(res.Changes)),
		logger.Int("removed", len(res.Removed)),
		logger.Int("leaves", next.Len()))
	return res
}

// ApplyEvent mirrors a pushed score event into l. Deletions only ever arrive
// this way.
func (s *Synchronizer) ApplyEvent(l *ledger.Ledger, e model.ScoreEvent) error { //nolint:gocritic // hugeParam: event by value
	if e.Deleted {
		l.Delete(e.ScoreKey)
		return nil
	}
	return l.Put(model.Score{ScoreKey: e.ScoreKey, Value: e.Score, UpdatedAt: e.Timestamp})
}
