package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		timeType := "TIMESTAMP"
		if db.Dialect().Name() == dialect.PG {
			timeType = "TIMESTAMPTZ"
		}
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS scores (
				competition_id TEXT NOT NULL,
				segment_id TEXT NOT NULL,
				contestant_id TEXT NOT NULL,
				judge_id TEXT NOT NULL,
				criterion_id TEXT NOT NULL,
				score DOUBLE PRECISION NOT NULL,
				updated_at ` + timeType + ` NOT NULL,
				PRIMARY KEY (segment_id, contestant_id, judge_id, criterion_id)
			)`,
			`CREATE INDEX IF NOT EXISTS scores_competition_idx ON scores (competition_id)`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create scores table: %w", err)
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS scores`); err != nil {
			return fmt.Errorf("drop scores table: %w", err)
		}
		return nil
	})
}
