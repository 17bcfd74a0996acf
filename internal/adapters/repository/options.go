package repository

import (
	"time"

	"github.com/okian/stravasync/pkg/logger"
)

// DefaultOperationTimeout bounds every store operation.
const DefaultOperationTimeout = 5 * time.Second

// Option applies a configuration option to a SQL store.
type Option func(*sqlStore)

// WithOperationTimeout sets the per-operation deadline.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *sqlStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now for audit and credential timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *sqlStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *sqlStore) {
		if l != nil {
			s.logger = l
		}
	}
}
