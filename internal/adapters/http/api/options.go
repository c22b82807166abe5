package api

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/tabulator/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithWriteRateLimit bounds score writes to limit per second with burst.
func WithWriteRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		if limit > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

// WithStreamHeartbeat sets the keep-alive period of the event stream.
func WithStreamHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}
