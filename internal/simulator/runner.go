package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tabulator/internal/adapters/http/client"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
)

// API is the subset of the HTTP client the simulator drives.
type API interface {
	Competition(ctx context.Context, id string) (*model.Competition, error)
	SubmitScore(ctx context.Context, sub model.ScoreSubmission, idempotencyKey string) (client.SubmitResponse, error)
	Rankings(ctx context.Context, competitionID, segmentID string, refresh bool) ([]ranking.Entry, error)
}

// Run submits generated scores, resends a share of them with their original
// idempotency keys, and verifies every resend was reported as a duplicate.
func Run(ctx context.Context, cfg Config, api API) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	log := logger.Get().Named("simulator")
	if cfg.CompetitionID == "" || cfg.Workers < 1 || cfg.RetryRatio < 0 || cfg.RetryRatio > 1 {
		return stats, fmt.Errorf("%w: %+v", ErrInvalidConfig, cfg)
	}

	comp, err := api.Competition(ctx, cfg.CompetitionID)
	if err != nil {
		return stats, fmt.Errorf("load competition: %w", err)
	}
	segmentID := cfg.SegmentID
	if segmentID == "" && len(comp.Segments) > 0 {
		segmentID = comp.Segments[0].ID
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen := NewGenerator(seed, cfg.Step)
	subs, err := gen.Generate(comp, segmentID, cfg.Submissions)
	if err != nil {
		return stats, err
	}
	stats.Generated = len(subs)
	log.Info(ctx, "submitting scores",
		logger.String("competition_id", comp.ID),
		logger.String("segment_id", segmentID),
		logger.Int("submissions", len(subs)),
		logger.Int("workers", cfg.Workers),
	)

	var cnt counters
	if err := submitAll(ctx, cfg, api, segmentID, subs, &cnt); err != nil {
		return stats, err
	}
	retries := gen.Pick(subs, int(math.Round(cfg.RetryRatio*float64(len(subs)))))
	if err := submitAll(ctx, cfg, api, segmentID, retries, &cnt); err != nil {
		return stats, err
	}
	stats.Retried = len(retries)
	stats.Submitted = int(cnt.submitted.Load())
	stats.Stored = int(cnt.stored.Load())
	stats.Duplicates = int(cnt.duplicates.Load())
	stats.Failed = int(cnt.failed.Load())

	entries, err := api.Rankings(ctx, comp.ID, segmentID, true)
	if err != nil {
		return stats, fmt.Errorf("fetch rankings: %w", err)
	}
	stats.Ranked = len(entries)
	for i, e := range entries {
		if i == 3 {
			break
		}
		log.Info(ctx, "ranking",
			logger.String("group", e.Group),
			logger.Int("rank", e.Rank),
			logger.String("contestant_id", e.ContestantID),
			logger.Float64("score", e.Score),
		)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("stored", stats.Stored),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
		logger.Int("ranked", stats.Ranked),
		logger.Duration("duration", stats.Duration),
	)
	return stats, verify(stats)
}

type counters struct {
	submitted  atomic.Int64
	stored     atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// submitAll sends subs with at most cfg.Workers requests in flight. Rate
// limited and rejected submissions are counted, not fatal.
func submitAll(ctx context.Context, cfg Config, api API, segmentID string, subs []Submission, c *counters) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, s := range subs {
		g.Go(func() error {
			reqCtx := ctx
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}
			c.submitted.Add(1)
			res, err := api.SubmitScore(reqCtx, s.ScoreSubmission(segmentID), s.IdempotencyKey)
			switch {
			case err == nil && res.Duplicate:
				c.duplicates.Add(1)
			case err == nil:
				c.stored.Add(1)
			case errors.Is(err, context.Canceled):
				return err
			default:
				c.failed.Add(1)
				logger.Get().Debug(ctx, "submission failed", logger.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func verify(stats Stats) error {
	if stats.Failed == 0 && stats.Duplicates != stats.Retried {
		return fmt.Errorf("%w: %d resends but %d duplicates", ErrVerification, stats.Retried, stats.Duplicates)
	}
	return nil
}
