package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/adapters/catalog"
	"github.com/okian/tabulator/internal/adapters/http/api"
	"github.com/okian/tabulator/internal/adapters/http/swagger"
	"github.com/okian/tabulator/internal/adapters/repository"
	app "github.com/okian/tabulator/internal/app"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "tabulator exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithLevel(cfg.LogLevel)); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	log := logger.Get()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// buildService wires catalog, gateway and service from configuration.
func buildService(ctx context.Context, cfg *config.Config) (*app.Service, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	gateway, err := repository.Open(ctx, repository.Config{
		Driver:      cfg.DatabaseDriver,
		DSN:         cfg.DatabaseDSN,
		AutoMigrate: cfg.DatabaseAutoMigrate,
	}, repository.WithQueryLogging(cfg.LogLevel == "debug"))
	if err != nil {
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	logger.Get().Info(ctx, "gateway ready",
		logger.String("driver", cfg.DatabaseDriver),
		logger.Int("competitions", cat.Len()),
	)
	return app.New(cat, gateway,
		app.WithLogger(logger.Get()),
		app.WithDedupeSize(cfg.DedupeSize),
	), nil
}

// newRouter registers the docs and business API routes.
func newRouter(svc *app.Service, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	swagger.Register(r)
	api.NewServer(svc,
		api.WithWriteRateLimit(cfg.WriteRateLimit, cfg.WriteRateBurst),
		api.WithStreamHeartbeat(cfg.StreamHeartbeat),
	).Register(r)
	return r
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics refreshes gauges derived from service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if n, ok := stats["cachedCompetitions"].(int); ok {
		metrics.UpdateCacheEntries(n)
	}
}
