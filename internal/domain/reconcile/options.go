package reconcile

import "github.com/okian/tabulator/pkg/logger"

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithBulkReplaceRatio sets the share of changed leaves above which Apply
// replaces the whole ledger. Values outside (0, 1] are ignored.
func WithBulkReplaceRatio(ratio float64) Option {
	return func(s *Synchronizer) {
		if ratio > 0 && ratio <= 1 {
			s.ratio = ratio
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.log = l
		}
	}
}
