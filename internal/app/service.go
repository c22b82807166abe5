// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tabulator/internal/adapters/cache"
	"github.com/okian/tabulator/internal/adapters/catalog"
	"github.com/okian/tabulator/internal/adapters/mq/eventbus"
	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/domain/dedupe"
	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Catalog resolves competition definitions.
type Catalog interface {
	Competition(ctx context.Context, id string) (*model.Competition, error)
	CompetitionForSegment(ctx context.Context, segmentID string) (*model.Competition, error)
	Competitions() []catalog.Summary
}

// ScoreSubmission is one judge's score for one criterion.
type ScoreSubmission = model.ScoreSubmission

// SubmitResult reports the outcome of SubmitScore. Duplicate is set when
// the idempotency key was already used; nothing is written then.
type SubmitResult struct {
	CompetitionID string      `json:"competitionId,omitempty"`
	Score         model.Score `json:"-"`
	Duplicate     bool        `json:"duplicate"`
}

// Service implements the API dependencies for score tabulation.
type Service struct {
	mu sync.RWMutex

	// Core components
	catalog Catalog
	gateway repository.Gateway
	bus     *eventbus.Bus
	cache   *cache.RankingCache
	calc    *ranking.Calculator
	deduper dedupe.Deduper

	// Idempotency keys whose submission is still being written.
	pendingMu sync.Mutex
	pending   map[string]chan struct{}

	// Configuration
	dedupeSize int
	clock      func() time.Time

	// State
	started     bool
	unsubscribe func()

	// Logging
	logger logger.Logger
}

// New constructs a Service over a catalog and a persistence gateway.
func New(cat Catalog, gateway repository.Gateway, opts ...Option) *Service {
	s := &Service{
		catalog:    cat,
		gateway:    gateway,
		dedupeSize: dedupe.DefaultMaxSize,
		clock:      time.Now,
		pending:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.calc == nil {
		s.calc = ranking.NewCalculator()
	}
	if s.bus == nil {
		s.bus = eventbus.New()
	}
	s.cache = cache.New(gateway, cat, cache.WithCalculator(s.calc))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start subscribes the ranking cache to score events.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting tabulation service...")

	unsubscribe, err := s.bus.Subscribe(func(ctx context.Context, e model.ScoreEvent) {
		s.cache.Invalidate(e.CompetitionID)
	})
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}
	s.unsubscribe = unsubscribe
	s.started = true

	s.logger.Info(ctx, "tabulation service started",
		logger.Int("competitions", len(s.catalog.Competitions())),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains pending events and releases the gateway.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping tabulation service...")

	if err := s.bus.Close(); err != nil {
		s.logger.Warn(ctx, "event channel shutdown", logger.Error(err))
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if err := s.gateway.Close(); err != nil {
		s.logger.Warn(ctx, "gateway close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "tabulation service stopped")
}

// Competitions lists the known competitions.
func (s *Service) Competitions() []catalog.Summary {
	return s.catalog.Competitions()
}

// Competition returns one competition definition.
func (s *Service) Competition(ctx context.Context, id string) (*model.Competition, error) {
	return s.catalog.Competition(ctx, id)
}

// SubmitScore validates and upserts a score, then announces it. A repeated
// idempotency key is acknowledged without writing. A retry that arrives while
// the first submission is still writing waits for its outcome.
func (s *Service) SubmitScore(ctx context.Context, sub ScoreSubmission, idempotencyKey string) (SubmitResult, error) { //nolint:gocritic // hugeParam: request value
	if idempotencyKey == "" {
		return s.submit(ctx, sub)
	}
	release, err := s.holdKey(ctx, idempotencyKey)
	if err != nil {
		return SubmitResult{}, err
	}
	defer release()

	if s.deduper.SeenAndRecord(ctx, idempotencyKey) {
		metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission skipped", logger.String("idempotency_key", idempotencyKey))
		return SubmitResult{Duplicate: true}, nil
	}

	res, err := s.submit(ctx, sub)
	if err != nil {
		s.deduper.Unrecord(ctx, idempotencyKey)
	}
	return res, err
}

// holdKey blocks until no other submission holds key, then holds it until
// the returned release is called.
func (s *Service) holdKey(ctx context.Context, key string) (release func(), err error) {
	for {
		s.pendingMu.Lock()
		busy, ok := s.pending[key]
		if !ok {
			done := make(chan struct{})
			s.pending[key] = done
			s.pendingMu.Unlock()
			return func() {
				s.pendingMu.Lock()
				delete(s.pending, key)
				s.pendingMu.Unlock()
				close(done)
			}, nil
		}
		s.pendingMu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Service) submit(ctx context.Context, sub ScoreSubmission) (SubmitResult, error) { //nolint:gocritic // hugeParam: request value
	comp, err := s.catalog.CompetitionForSegment(ctx, sub.SegmentID)
	if err != nil {
		metrics.RecordScoreRejected("unknown_segment")
		return SubmitResult{}, fmt.Errorf("%w: %w", model.ErrUnknownReference, err)
	}
	if err := comp.CheckScore(sub.ScoreKey, sub.Score); err != nil {
		metrics.RecordScoreRejected(rejectReason(err))
		return SubmitResult{}, err
	}

	score := model.Score{ScoreKey: sub.ScoreKey, Value: sub.Score, UpdatedAt: s.clock().UTC()}
	if err := s.gateway.UpsertScore(ctx, comp.ID, score); err != nil {
		metrics.RecordError("service", "upsert")
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	metrics.RecordScoreUpserted()
	s.publish(ctx, model.NewScoreSet(comp.ID, score))

	s.logger.Debug(ctx, "score upserted",
		logger.String("competition_id", comp.ID),
		logger.String("key", sub.ScoreKey.String()),
		logger.Float64("score", sub.Score),
	)
	return SubmitResult{CompetitionID: comp.ID, Score: score}, nil
}

// DeleteScore removes one score. An event is published only when a score existed.
func (s *Service) DeleteScore(ctx context.Context, key model.ScoreKey) (bool, error) {
	if err := model.ValidateKey(key); err != nil {
		return false, err
	}
	comp, err := s.catalog.CompetitionForSegment(ctx, key.SegmentID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrUnknownReference, err)
	}
	existed, err := s.gateway.DeleteScore(ctx, comp.ID, key)
	if err != nil {
		metrics.RecordError("service", "delete")
		return false, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	if !existed {
		return false, nil
	}
	metrics.RecordScoreDeleted()
	s.publish(ctx, model.NewScoreDeleted(comp.ID, key, s.clock().UTC()))
	return true, nil
}

// ResetScores removes every score of a competition except those of
// prejudged criteria and returns how many were removed.
func (s *Service) ResetScores(ctx context.Context, competitionID string) (int, error) {
	comp, err := s.catalog.Competition(ctx, competitionID)
	if err != nil {
		return 0, err
	}
	removed, err := s.gateway.ResetScores(ctx, comp.ID, comp.PrejudgedCriterionIDs())
	if err != nil {
		metrics.RecordError("service", "reset")
		return 0, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	at := s.clock().UTC()
	for _, key := range removed {
		s.publish(ctx, model.NewScoreDeleted(comp.ID, key, at))
	}
	metrics.RecordScoresReset(len(removed))
	s.logger.Info(ctx, "scores reset",
		logger.String("competition_id", comp.ID),
		logger.Int("removed", len(removed)),
	)
	return len(removed), nil
}

// ListScores returns a fresh snapshot of a competition's scores.
func (s *Service) ListScores(ctx context.Context, competitionID string) (ledger.Snapshot, error) {
	if _, err := s.catalog.Competition(ctx, competitionID); err != nil {
		return ledger.Snapshot{}, err
	}
	scores, err := s.gateway.ListScores(ctx, competitionID)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return ledger.NewSnapshot(competitionID, scores, s.clock()), nil
}

// GetRankingScores returns the cached rankings of every segment of a competition.
func (s *Service) GetRankingScores(ctx context.Context, competitionID string, forceRefresh bool) (*cache.RankingData, error) {
	return s.cache.Get(ctx, competitionID, forceRefresh)
}

// Rankings returns one segment's rankings.
func (s *Service) Rankings(ctx context.Context, competitionID, segmentID string, forceRefresh bool) (ranking.Result, error) {
	comp, err := s.catalog.Competition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if _, ok := comp.Segment(segmentID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrSegmentNotFound, segmentID)
	}
	data, err := s.cache.Get(ctx, competitionID, forceRefresh)
	if err != nil {
		return nil, err
	}
	if res, ok := data.Rankings[segmentID]; ok {
		return res, nil
	}
	return ranking.Result{}, nil
}

// ComputeRankings ranks a segment directly from the gateway, bypassing the cache.
func (s *Service) ComputeRankings(ctx context.Context, competitionID, segmentID string) (ranking.Result, error) {
	comp, err := s.catalog.Competition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	scores, err := s.gateway.ListScores(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return s.calc.Compute(ctx, ranking.InputFor(comp, scores), segmentID, comp.Ranking), nil
}

// InvalidateRankingCache drops a competition's cached rankings.
func (s *Service) InvalidateRankingCache(competitionID string) {
	s.cache.Invalidate(competitionID)
}

// SubscribeScoreUpdates registers h for every score event.
func (s *Service) SubscribeScoreUpdates(h eventbus.Handler) (unsubscribe func(), err error) {
	return s.bus.Subscribe(h)
}

// CacheStatus lists the cached competitions.
func (s *Service) CacheStatus() []cache.EntryStatus {
	return s.cache.Status()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.bus.Pending()
	subscribers := s.bus.Subscribers()
	metrics.UpdateEventQueueDepth(pending)
	metrics.UpdateEventSubscribers(subscribers)

	return map[string]any{
		"started":            s.started,
		"competitions":       len(s.catalog.Competitions()),
		"dedupeSize":         s.dedupeSize,
		"dedupeEntries":      s.deduper.Size(),
		"pendingEvents":      pending,
		"eventSubscribers":   subscribers,
		"cachedCompetitions": len(s.cache.Status()),
	}
}

func (s *Service) publish(ctx context.Context, e model.ScoreEvent) { //nolint:gocritic // hugeParam: event by value
	if err := s.bus.Publish(ctx, e); err != nil {
		metrics.RecordError("service", "publish")
		s.logger.Warn(ctx, "score event not published",
			logger.String("competition_id", e.CompetitionID),
			logger.String("key", e.ScoreKey.String()),
			logger.Error(err),
		)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrScoreOutOfRange):
		return "out_of_range"
	case errors.Is(err, model.ErrInvalidKey):
		return "invalid_key"
	default:
		return "unknown_reference"
	}
}
