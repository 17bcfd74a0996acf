package dispatch

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/stravasync/pkg/logger"
)

// Defaults for notification suppression and sender pacing.
const (
	DefaultTTL     = 30 * time.Minute
	DefaultMaxSize = 10_000
	DefaultTimeout = 30 * time.Second
	DefaultRate    = rate.Limit(1)
	DefaultBurst   = 5
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTTL sets how long a sent (entity, kind) pair suppresses repeats.
func WithTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithMaxSize bounds the number of remembered notification keys.
func WithMaxSize(n int) Option {
	return func(d *Dispatcher) {
		d.maxSize = n
	}
}

// WithCleanupInterval sets how often new keys sweep expired ones.
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.cleanup = interval
	}
}

// WithRate paces sends. A non-positive limit disables pacing.
func WithRate(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		if limit <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithTimeout bounds one send including the pacing wait.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithFallbackRecipients is used for owners without a configured email.
func WithFallbackRecipients(addrs ...string) Option {
	return func(d *Dispatcher) {
		d.fallback = append([]string(nil), addrs...)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}
