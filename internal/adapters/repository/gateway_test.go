package repository_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

var t0 = time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)

func score(seg, contestant, judge, criterion string, v float64) model.Score {
	return model.Score{
		ScoreKey:  model.ScoreKey{SegmentID: seg, ContestantID: contestant, JudgeID: judge, CriterionID: criterion},
		Value:     v,
		UpdatedAt: t0,
	}
}

type gatewayFactory func(t *testing.T) repository.Gateway

func backends() map[string]gatewayFactory {
	return map[string]gatewayFactory{
		"memory": func(t *testing.T) repository.Gateway {
			return repository.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) repository.Gateway {
			name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
			g, err := repository.Open(context.Background(), repository.Config{
				Driver:      repository.DriverSQLite,
				DSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
				AutoMigrate: true,
			})
			require.NoError(t, err)
			return g
		},
	}
}

func TestGateway_Contract(t *testing.T) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("upsert replaces by key", func(t *testing.T) {
				ctx := context.Background()
				g := factory(t)
				defer g.Close()

				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j1", "k1", 7)))
				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j1", "k1", 8.5)))
				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j1", "k1", 8.5)))

				got, err := g.ListScores(ctx, "comp")
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, 8.5, got[0].Value)
				assert.True(t, got[0].UpdatedAt.Equal(t0))
			})

			t.Run("list is scoped and ordered", func(t *testing.T) {
				ctx := context.Background()
				g := factory(t)
				defer g.Close()

				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c2", "j1", "k1", 5)))
				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j2", "k1", 6)))
				require.NoError(t, g.UpsertScore(ctx, "other", score("x1", "c9", "j9", "k9", 1)))

				got, err := g.ListScores(ctx, "comp")
				require.NoError(t, err)
				require.Len(t, got, 2)
				assert.Equal(t, "c1", got[0].ContestantID)
				assert.Equal(t, "c2", got[1].ContestantID)

				empty, err := g.ListScores(ctx, "nobody")
				require.NoError(t, err)
				assert.Empty(t, empty)
			})

			t.Run("delete reports existence", func(t *testing.T) {
				ctx := context.Background()
				g := factory(t)
				defer g.Close()

				s := score("s1", "c1", "j1", "k1", 4)
				require.NoError(t, g.UpsertScore(ctx, "comp", s))

				existed, err := g.DeleteScore(ctx, "comp", s.ScoreKey)
				require.NoError(t, err)
				assert.True(t, existed)

				existed, err = g.DeleteScore(ctx, "comp", s.ScoreKey)
				require.NoError(t, err)
				assert.False(t, existed)
			})

			t.Run("reset preserves listed criteria", func(t *testing.T) {
				ctx := context.Background()
				g := factory(t)
				defer g.Close()

				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j1", "pre", 9)))
				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c1", "j1", "k1", 3)))
				require.NoError(t, g.UpsertScore(ctx, "comp", score("s1", "c2", "j1", "k1", 2)))
				require.NoError(t, g.UpsertScore(ctx, "other", score("x1", "c1", "j1", "k1", 1)))

				removed, err := g.ResetScores(ctx, "comp", []string{"pre"})
				require.NoError(t, err)
				assert.Equal(t, []model.ScoreKey{
					{SegmentID: "s1", ContestantID: "c1", JudgeID: "j1", CriterionID: "k1"},
					{SegmentID: "s1", ContestantID: "c2", JudgeID: "j1", CriterionID: "k1"},
				}, removed)

				left, err := g.ListScores(ctx, "comp")
				require.NoError(t, err)
				require.Len(t, left, 1)
				assert.Equal(t, "pre", left[0].CriterionID)

				others, err := g.ListScores(ctx, "other")
				require.NoError(t, err)
				assert.Len(t, others, 1)

				removed, err = g.ResetScores(ctx, "comp", nil)
				require.NoError(t, err)
				assert.Len(t, removed, 1)
			})

			t.Run("invalid keys are rejected", func(t *testing.T) {
				g := factory(t)
				defer g.Close()
				err := g.UpsertScore(context.Background(), "comp", score("s1", "", "j1", "k1", 1))
				assert.ErrorIs(t, err, repository.ErrInvalidScore)
			})
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := repository.Open(context.Background(), repository.Config{Driver: "oracle"})
	assert.ErrorIs(t, err, repository.ErrUnsupportedDriver)
}

func TestOpen_DefaultsToMemory(t *testing.T) {
	g, err := repository.Open(context.Background(), repository.Config{})
	require.NoError(t, err)
	_, ok := g.(*repository.MemoryStore)
	assert.True(t, ok)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := repository.NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.ListScores(context.Background(), "comp")
	assert.ErrorIs(t, err, repository.ErrClosed)
}

func TestMemoryStore_StampsMissingTime(t *testing.T) {
	s := repository.NewMemoryStore(repository.WithClock(func() time.Time { return t0 }))
	sc := score("s1", "c1", "j1", "k1", 1)
	sc.UpdatedAt = time.Time{}
	require.NoError(t, s.UpsertScore(context.Background(), "comp", sc))
	got, err := s.ListScores(context.Background(), "comp")
	require.NoError(t, err)
	assert.True(t, got[0].UpdatedAt.Equal(t0))
	assert.Equal(t, 1, s.Count())
}
