package ranking

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/tabulator/pkg/logger"
)

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithLogger sets the logger used for anomalies and dropped scores.
func WithLogger(l logger.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracer sets the tracer used for computation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Calculator) {
		if t != nil {
			c.tracer = t
		}
	}
}
