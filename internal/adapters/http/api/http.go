// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/okian/tabulator/internal/adapters/cache"
	"github.com/okian/tabulator/internal/adapters/catalog"
	"github.com/okian/tabulator/internal/adapters/mq/eventbus"
	service "github.com/okian/tabulator/internal/app"
	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
)

// Default limits for write routes and the event stream.
const (
	DefaultWriteRateLimit  = 50
	DefaultWriteRateBurst  = 100
	DefaultStreamHeartbeat = 15 * time.Second
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Competitions() []catalog.Summary
	Competition(ctx context.Context, id string) (*model.Competition, error)

	ListScores(ctx context.Context, competitionID string) (ledger.Snapshot, error)
	SubmitScore(ctx context.Context, sub model.ScoreSubmission, idempotencyKey string) (service.SubmitResult, error)
	DeleteScore(ctx context.Context, key model.ScoreKey) (bool, error)
	ResetScores(ctx context.Context, competitionID string) (int, error)

	Rankings(ctx context.Context, competitionID, segmentID string, forceRefresh bool) (ranking.Result, error)
	InvalidateRankingCache(competitionID string)
	CacheStatus() []cache.EntryStatus

	SubscribeScoreUpdates(h eventbus.Handler) (unsubscribe func(), err error)
	GetStats() map[string]any
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps      Dependencies
	limiter   *rate.Limiter
	heartbeat time.Duration
	streams   atomic.Int64
	log       logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		limiter:   rate.NewLimiter(DefaultWriteRateLimit, DefaultWriteRateBurst),
		heartbeat: DefaultStreamHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("api")
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Get("/competitions", MetricsMiddleware(s.handleListCompetitions, "competitions"))
	r.Route("/competitions/{competitionID}", func(r chi.Router) {
		r.Get("/", MetricsMiddleware(s.handleGetCompetition, "competition"))
		r.Get("/scores", MetricsMiddleware(s.handleListScores, "scores"))
		r.Post("/scores/reset", MetricsMiddleware(s.rateLimited(s.handleResetScores), "scores_reset"))
		r.Get("/segments/{segmentID}/rankings", MetricsMiddleware(s.handleGetRankings, "rankings"))
		r.Get("/segments/{segmentID}/rankings.xlsx", MetricsMiddleware(s.handleExportRankings, "rankings_xlsx"))
		r.Delete("/rankings/cache", MetricsMiddleware(s.handleInvalidateCache, "rankings_cache"))
		r.Get("/events", MetricsMiddleware(s.handleStreamEvents, "events"))
	})

	r.Put("/scores", MetricsMiddleware(s.rateLimited(s.handlePutScore), "scores_put"))
	r.Delete("/scores/{segmentID}/{contestantID}/{judgeID}/{criterionID}",
		MetricsMiddleware(s.rateLimited(s.handleDeleteScore), "scores_delete"))
	r.Get("/rankings/cache", MetricsMiddleware(s.handleCacheStatus, "rankings_cache_status"))
}

// Handler returns a router with every API route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates upstream sentinels to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, catalog.ErrCompetitionNotFound),
		errors.Is(err, service.ErrSegmentNotFound),
		errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrInvalidKey),
		errors.Is(err, model.ErrScoreOutOfRange),
		errors.Is(err, model.ErrUnknownReference),
		errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		s.log.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("%s: %w", op, err))
	}
}
