package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.CatalogPath = filepath.Join("..", "configs", "catalog.example.yaml")
	return cfg
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("TABULATOR_ADDR", ":8080")
			_ = os.Setenv("TABULATOR_DEDUPE_SIZE", "1000")
			defer func() {
				_ = os.Unsetenv("TABULATOR_ADDR")
				_ = os.Unsetenv("TABULATOR_DEDUPE_SIZE")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When building the service from the example catalog", func() {
			ctx := context.Background()
			svc, err := buildService(ctx, testConfig())
			convey.So(err, convey.ShouldBeNil)
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()
			h := newRouter(svc, testConfig())

			convey.Convey("Then the API and docs routes are served", func() {
				for _, path := range []string{"/healthz", "/stats", "/openapi.yaml", "/competitions", "/competitions/spring-gala-2026"} {
					w := httptest.NewRecorder()
					h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}
			})
		})

		convey.Convey("When the catalog is missing", func() {
			cfg := testConfig()
			cfg.CatalogPath = "/nonexistent/catalog.yaml"
			_, err := buildService(context.Background(), cfg)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the database driver is unsupported", func() {
			cfg := testConfig()
			cfg.DatabaseDriver = "oracle"
			cfg.DatabaseDSN = "x"
			_, err := buildService(context.Background(), cfg)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			convey.Convey("Then it should return once the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startSystemMetricsUpdater(ctx)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing metric updates", func() {
			svc, err := buildService(context.Background(), testConfig())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then they should not panic", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})
		})
	})
}
