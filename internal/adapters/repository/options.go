package repository

import (
	"time"

	"github.com/okian/tabulator/pkg/logger"
)

type options struct {
	clock  func() time.Time
	log    logger.Logger
	logSQL bool
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithClock sets the time source used for scores written without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithQueryLogging logs every SQL statement at debug level.
func WithQueryLogging(enabled bool) Option {
	return func(o *options) {
		o.logSQL = enabled
	}
}

func newOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
