package cache

import "time"

type config struct {
	maxSize         int
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	name            string
}

// Option applies a configuration option to a Cache.
type Option func(*config)

// WithMaxSize bounds the number of entries. A value <= 0 means unbounded.
func WithMaxSize(n int) Option {
	return func(c *config) {
		c.maxSize = n
	}
}

// WithDefaultTTL sets the TTL used when Set or Add receive ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithCleanupInterval sets how often Set sweeps expired entries.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithName labels the cache in metrics. Unnamed caches are not reported.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}
