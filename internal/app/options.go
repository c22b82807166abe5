package service

import (
	"time"

	"github.com/okian/tabulator/internal/adapters/mq/eventbus"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDedupeSize sets the number of idempotency keys remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventBus sets the event channel.
func WithEventBus(b *eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithCalculator sets the rank calculator.
func WithCalculator(c *ranking.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calc = c
		}
	}
}

// WithClock sets the time source used to stamp scores and events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}
