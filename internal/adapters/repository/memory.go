package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/metrics"
)

type memoryRecord struct {
	competitionID string
	score         model.Score
}

// MemoryStore is an in-process Gateway backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.ScoreKey]memoryRecord
	closed  bool
	clock   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	return &MemoryStore{
		records: make(map[model.ScoreKey]memoryRecord),
		clock:   o.clock,
	}
}

// ListScores implements Gateway.
func (s *MemoryStore) ListScores(_ context.Context, competitionID string) ([]model.Score, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Score, 0, len(s.records))
	for _, r := range s.records {
		if r.competitionID == competitionID {
			out = append(out, r.score)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScoreKey.Less(out[j].ScoreKey) })
	metrics.RecordRepositoryQuery("list", msSince(start), nil)
	return out, nil
}

// UpsertScore implements Gateway.
func (s *MemoryStore) UpsertScore(_ context.Context, competitionID string, sc model.Score) error {
	if !sc.ScoreKey.Valid() {
		return ErrInvalidScore
	}
	start := time.Now()
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = s.clock()
	}
	sc.UpdatedAt = sc.UpdatedAt.UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.records[sc.ScoreKey] = memoryRecord{competitionID: competitionID, score: sc}
	n := len(s.records)
	s.mu.Unlock()

	metrics.RecordRepositoryQuery("upsert", msSince(start), nil)
	metrics.UpdateRepositoryRecordsTotal(n)
	return nil
}

// DeleteScore implements Gateway.
func (s *MemoryStore) DeleteScore(_ context.Context, competitionID string, key model.ScoreKey) (bool, error) {
	start := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	r, ok := s.records[key]
	existed := ok && r.competitionID == competitionID
	if existed {
		delete(s.records, key)
	}
	n := len(s.records)
	s.mu.Unlock()

	metrics.RecordRepositoryQuery("delete", msSince(start), nil)
	metrics.UpdateRepositoryRecordsTotal(n)
	return existed, nil
}

// ResetScores implements Gateway.
func (s *MemoryStore) ResetScores(_ context.Context, competitionID string, preserveCriterionIDs []string) ([]model.ScoreKey, error) {
	start := time.Now()
	keep := make(map[string]struct{}, len(preserveCriterionIDs))
	for _, id := range preserveCriterionIDs {
		keep[id] = struct{}{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	var removed []model.ScoreKey
	for k, r := range s.records {
		if r.competitionID != competitionID {
			continue
		}
		if _, ok := keep[k.CriterionID]; ok {
			continue
		}
		delete(s.records, k)
		removed = append(removed, k)
	}
	n := len(s.records)
	s.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].Less(removed[j]) })
	metrics.RecordRepositoryQuery("reset", msSince(start), nil)
	metrics.UpdateRepositoryRecordsTotal(n)
	return removed, nil
}

// Count returns the number of stored scores across competitions.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements Gateway. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
