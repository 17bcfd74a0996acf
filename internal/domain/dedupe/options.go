package dedupe

import "time"

// Option applies a configuration option to the in-memory deduper.
type Option func(*ttlDeduper)

// WithMaxSize sets the maximum number of fingerprints to keep in memory.
// If maxSize > 0 the oldest fingerprints are evicted first.
// If maxSize <= 0 the deduper is bounded only by the TTL.
func WithMaxSize(maxSize int) Option {
	return func(d *ttlDeduper) {
		d.maxSize = maxSize
	}
}

// WithTTL sets how long a fingerprint suppresses redeliveries.
func WithTTL(ttl time.Duration) Option {
	return func(d *ttlDeduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *ttlDeduper) {
		if now != nil {
			d.now = now
		}
	}
}

// WithName sets the metrics label of the underlying cache.
func WithName(name string) Option {
	return func(d *ttlDeduper) {
		d.name = name
	}
}

// WithCleanupInterval sets how often recording sweeps expired fingerprints.
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *ttlDeduper) {
		d.cleanup = interval
	}
}
