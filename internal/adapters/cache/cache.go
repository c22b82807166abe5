// Package cache memoizes competition rankings until they are invalidated.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// ScoreLister reads a competition's scores from the persistence gateway.
type ScoreLister interface {
	ListScores(ctx context.Context, competitionID string) ([]model.Score, error)
}

// CompetitionLookup resolves competition definitions.
type CompetitionLookup interface {
	Competition(ctx context.Context, id string) (*model.Competition, error)
}

// RankingData is one cached computation. Treat it as read-only.
type RankingData struct {
	CompetitionID string
	Scores        ledger.Snapshot
	Rankings      map[string]ranking.Result
	LastUpdated   time.Time
}

// EntryStatus describes one cached competition.
type EntryStatus struct {
	CompetitionID string    `json:"competitionId"`
	LastUpdated   time.Time `json:"lastUpdated"`
	Leaves        int       `json:"leaves"`
	Fingerprint   string    `json:"fingerprint"`
}

// RankingCache holds at most one RankingData per competition. Entries never
// expire; they are dropped by Invalidate and bypassed by a forced Get.
type RankingCache struct {
	scores  ScoreLister
	catalog CompetitionLookup
	calc    *ranking.Calculator

	mu      sync.RWMutex
	entries map[string]*RankingData
	gens    map[string]uint64
	group   singleflight.Group

	clock  func() time.Time
	log    logger.Logger
	tracer trace.Tracer
}

// New creates a RankingCache.
func New(scores ScoreLister, catalog CompetitionLookup, opts ...Option) *RankingCache {
	c := &RankingCache{
		scores:  scores,
		catalog: catalog,
		entries: make(map[string]*RankingData),
		gens:    make(map[string]uint64),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("rankcache")
	}
	if c.calc == nil {
		c.calc = ranking.NewCalculator(ranking.WithLogger(c.log))
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("tabulator/rankcache")
	}
	return c
}

// Get returns the cached rankings of competitionID, fetching and computing
// them on a miss or when forceRefresh is set. Concurrent callers share one
// in-flight fetch per competition. A caller that joined a fetch started
// before the latest Invalidate waits for it and then fetches once more.
func (c *RankingCache) Get(ctx context.Context, competitionID string, forceRefresh bool) (*RankingData, error) {
	c.mu.RLock()
	want := c.gens[competitionID]
	data, ok := c.entries[competitionID]
	c.mu.RUnlock()
	if !forceRefresh {
		if ok {
			metrics.RecordCacheHit()
			return data, nil
		}
		metrics.RecordCacheMiss()
	}

	fetchCtx := context.WithoutCancel(ctx)
	for {
		ch := c.group.DoChan(competitionID, func() (any, error) {
			return c.fetch(fetchCtx, competitionID)
		})
		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if r.Shared {
			metrics.RecordCacheCoalesced()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		f := r.Val.(fetched)
		if f.gen >= want {
			return f.data, nil
		}

		// Stored entries always carry the current generation.
		c.mu.RLock()
		data, ok := c.entries[competitionID]
		c.mu.RUnlock()
		if ok {
			return data, nil
		}
		c.log.Debug(ctx, "refetching after invalidation", logger.String("competition_id", competitionID))
	}
}

// Invalidate drops the entry of competitionID. A fetch already in flight
// keeps running and answers the waiters that joined it earlier, but its
// result is not stored.
func (c *RankingCache) Invalidate(competitionID string) {
	c.mu.Lock()
	delete(c.entries, competitionID)
	c.gens[competitionID]++
	n := len(c.entries)
	c.mu.Unlock()

	metrics.RecordCacheInvalidation()
	metrics.UpdateCacheEntries(n)
	c.log.Debug(context.Background(), "ranking cache invalidated", logger.String("competition_id", competitionID))
}

// Status lists cached entries sorted by competition id.
func (c *RankingCache) Status() []EntryStatus {
	c.mu.RLock()
	out := make([]EntryStatus, 0, len(c.entries))
	for id, d := range c.entries {
		out = append(out, EntryStatus{
			CompetitionID: id,
			LastUpdated:   d.LastUpdated,
			Leaves:        d.Scores.Len(),
			Fingerprint:   d.Scores.Fingerprint(),
		})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CompetitionID < out[j].CompetitionID })
	return out
}

// fetched is one fetch result and the generation it was started under.
type fetched struct {
	data *RankingData
	gen  uint64
}

func (c *RankingCache) fetch(ctx context.Context, competitionID string) (fetched, error) {
	ctx, span := c.tracer.Start(ctx, "rankcache.fetch",
		trace.WithAttributes(attribute.String("competition_id", competitionID)))
	defer span.End()
	start := c.clock()

	c.mu.RLock()
	gen := c.gens[competitionID]
	c.mu.RUnlock()

	comp, err := c.catalog.Competition(ctx, competitionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "competition lookup")
		return fetched{}, fmt.Errorf("competition %q: %w", competitionID, err)
	}
	scores, err := c.scores.ListScores(ctx, competitionID)
	if err != nil {
		metrics.RecordError("rankcache", "fetch")
		span.RecordError(err)
		span.SetStatus(codes.Error, "list scores")
		c.log.Error(ctx, "fetching scores", logger.String("competition_id", competitionID), logger.Error(err))
		return fetched{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	now := c.clock()
	data := &RankingData{
		CompetitionID: competitionID,
		Scores:        ledger.NewSnapshot(competitionID, scores, now),
		Rankings:      c.calc.ComputeCompetition(ctx, comp, scores),
		LastUpdated:   now,
	}

	c.mu.Lock()
	stored := c.gens[competitionID] == gen
	if stored {
		c.entries[competitionID] = data
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.RecordCacheFetch(float64(c.clock().Sub(start).Microseconds()) / 1000)
	metrics.UpdateCacheEntries(n)
	span.SetAttributes(attribute.Int("leaves", len(scores)), attribute.Bool("stored", stored))
	if !stored {
		c.log.Debug(ctx, "discarding fetch invalidated in flight", logger.String("competition_id", competitionID))
	}
	return fetched{data: data, gen: gen}, nil
}
