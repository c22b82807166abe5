package livesync

import (
	"time"

	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/reconcile"
	"github.com/okian/tabulator/pkg/logger"
)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLedger mirrors into an existing ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(p *Poller) {
		if l != nil {
			p.ledger = l
		}
	}
}

// WithSynchronizer sets the synchronizer used to apply snapshots.
func WithSynchronizer(s *reconcile.Synchronizer) Option {
	return func(p *Poller) {
		if s != nil {
			p.sync = s
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.clock = now
		}
	}
}

// OnChange registers a callback invoked after a poll applied changes.
func OnChange(fn func(reconcile.ApplyResult)) Option {
	return func(p *Poller) {
		p.onChange = fn
	}
}

// WithVisible sets the initial visibility.
func WithVisible(visible bool) Option {
	return func(p *Poller) {
		p.visible = visible
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}
