package cache

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
)

// Option applies a configuration option to the RankingCache.
type Option func(*RankingCache)

// WithCalculator sets the rank calculator.
func WithCalculator(calc *ranking.Calculator) Option {
	return func(c *RankingCache) {
		if calc != nil {
			c.calc = calc
		}
	}
}

// WithClock sets the time source for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(c *RankingCache) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *RankingCache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracer sets the tracer used for fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *RankingCache) {
		if t != nil {
			c.tracer = t
		}
	}
}
