package syncer

import (
	"time"

	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/pkg/logger"
)

// DefaultWriteTimeout bounds a store write once it has started.
const DefaultWriteTimeout = 5 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithDeduper replaces the in-memory deduplicator used by Handle.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.dedup = d
		}
	}
}

// WithNotifier enables change notifications after successful upserts.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithWriteTimeout bounds store writes, which are not cancelled with the caller.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
