package ledger

import (
	"time"

	"github.com/okian/tabulator/pkg/logger"
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithClock sets the time source used to stamp Set and Snapshot.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.clock = now
		}
	}
}
