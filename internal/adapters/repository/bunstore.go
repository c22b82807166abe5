package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// scoreRow is the persisted form of a score.
type scoreRow struct {
	bun.BaseModel `bun:"table:scores,alias:s"`

	CompetitionID string    `bun:"competition_id,notnull"`
	SegmentID     string    `bun:"segment_id,pk"`
	ContestantID  string    `bun:"contestant_id,pk"`
	JudgeID       string    `bun:"judge_id,pk"`
	CriterionID   string    `bun:"criterion_id,pk"`
	Score         float64   `bun:"score,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (r scoreRow) toModel() model.Score {
	return model.Score{
		ScoreKey: model.ScoreKey{
			SegmentID:    r.SegmentID,
			ContestantID: r.ContestantID,
			JudgeID:      r.JudgeID,
			CriterionID:  r.CriterionID,
		},
		Value:     r.Score,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// BunStore is a Gateway over a SQL database through bun.
type BunStore struct {
	db    *bun.DB
	clock func() time.Time
	log   logger.Logger
}

// NewBunStore wraps an open bun database. The scores table must exist; see Migrate.
func NewBunStore(db *bun.DB, opts ...Option) *BunStore {
	o := newOptions(opts)
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}
	db.AddQueryHook(queryHook{log: o.log, logSQL: o.logSQL})
	return &BunStore{db: db, clock: o.clock, log: o.log}
}

// DB exposes the underlying database handle.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

// ListScores implements Gateway.
func (s *BunStore) ListScores(ctx context.Context, competitionID string) (out []model.Score, err error) {
	defer observe("list", time.Now(), &err)

	var rows []scoreRow
	err = s.db.NewSelect().
		Model(&rows).
		Where("competition_id = ?", competitionID).
		Order("segment_id", "contestant_id", "judge_id", "criterion_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scores of %q: %w", competitionID, err)
	}
	out = make([]model.Score, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpsertScore implements Gateway. The last write to a key wins.
func (s *BunStore) UpsertScore(ctx context.Context, competitionID string, sc model.Score) (err error) {
	if !sc.ScoreKey.Valid() {
		return ErrInvalidScore
	}
	defer observe("upsert", time.Now(), &err)

	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = s.clock()
	}
	row := scoreRow{
		CompetitionID: competitionID,
		SegmentID:     sc.SegmentID,
		ContestantID:  sc.ContestantID,
		JudgeID:       sc.JudgeID,
		CriterionID:   sc.CriterionID,
		Score:         sc.Value,
		UpdatedAt:     sc.UpdatedAt.UTC(),
	}
	_, err = s.db.NewInsert().
		Model(&row).
		On("CONFLICT (segment_id, contestant_id, judge_id, criterion_id) DO UPDATE").
		Set("competition_id = EXCLUDED.competition_id").
		Set("score = EXCLUDED.score").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert score %s: %w", sc.ScoreKey, err)
	}
	return nil
}

// DeleteScore implements Gateway.
func (s *BunStore) DeleteScore(ctx context.Context, competitionID string, key model.ScoreKey) (existed bool, err error) {
	defer observe("delete", time.Now(), &err)

	res, err := s.db.NewDelete().
		Model((*scoreRow)(nil)).
		Where("competition_id = ?", competitionID).
		Where("segment_id = ?", key.SegmentID).
		Where("contestant_id = ?", key.ContestantID).
		Where("judge_id = ?", key.JudgeID).
		Where("criterion_id = ?", key.CriterionID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete score %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete score %s: %w", key, err)
	}
	return n > 0, nil
}

// ResetScores implements Gateway. Keys are read and deleted in one transaction.
func (s *BunStore) ResetScores(ctx context.Context, competitionID string, preserveCriterionIDs []string) (removed []model.ScoreKey, err error) {
	defer observe("reset", time.Now(), &err)

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []scoreRow
		sel := tx.NewSelect().
			Model(&rows).
			Column("segment_id", "contestant_id", "judge_id", "criterion_id").
			Where("competition_id = ?", competitionID).
			Order("segment_id", "contestant_id", "judge_id", "criterion_id")
		del := tx.NewDelete().
			Model((*scoreRow)(nil)).
			Where("competition_id = ?", competitionID)
		if len(preserveCriterionIDs) > 0 {
			sel = sel.Where("criterion_id NOT IN (?)", bun.In(preserveCriterionIDs))
			del = del.Where("criterion_id NOT IN (?)", bun.In(preserveCriterionIDs))
		}
		if err := sel.Scan(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := del.Exec(ctx); err != nil {
			return err
		}
		removed = make([]model.ScoreKey, len(rows))
		for i, r := range rows {
			removed[i] = r.toModel().ScoreKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset scores of %q: %w", competitionID, err)
	}
	return removed, nil
}

// Close implements Gateway.
func (s *BunStore) Close() error {
	return s.db.Close()
}

func observe(operation string, start time.Time, err *error) {
	metrics.RecordRepositoryQuery(operation, msSince(start), *err)
	if *err != nil {
		metrics.RecordError("repository", operation)
	}
}

type queryHook struct {
	log    logger.Logger
	logSQL bool
}

func (h queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h queryHook) AfterQuery(ctx context.Context, e *bun.QueryEvent) {
	elapsed := time.Since(e.StartTime)
	if e.Err != nil && !errors.Is(e.Err, sql.ErrNoRows) {
		h.log.Warn(ctx, "query failed",
			logger.String("operation", e.Operation()),
			logger.Duration("elapsed", elapsed),
			logger.Error(e.Err))
		return
	}
	if h.logSQL {
		h.log.Debug(ctx, "query",
			logger.String("sql", e.Query),
			logger.Duration("elapsed", elapsed))
	}
}
