// Package cache provides a bounded in-memory key/value cache with per-entry expiry.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/okian/stravasync/pkg/metrics"
)

// Default cache configuration.
const (
	DefaultMaxSize         = 10_000
	DefaultTTL             = 10 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Eviction reasons reported to metrics.
const (
	reasonExpired  = "expired"
	reasonCapacity = "capacity"
)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64 // removed to stay under the size bound
	Expirations int64 // removed because their TTL passed
	Size        int
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache safe for concurrent use.
//
// Entries are kept in insertion order. When the cache is full, expired entries
// are dropped first, then the oldest inserted ones. Reads never extend an
// entry's lifetime.
type Cache[K comparable, V any] struct {
	mu          sync.Mutex
	items       map[K]*list.Element
	order       *list.List // front is the oldest insertion
	lastCleanup time.Time
	stats       Stats
	cfg         config
}

// New creates a cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	cfg := config{
		maxSize:         DefaultMaxSize,
		defaultTTL:      DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache[K, V]{
		items:       make(map[K]*list.Element),
		order:       list.New(),
		lastCleanup: cfg.now(),
		cfg:         cfg,
	}
}

// Set stores value under key for ttl. A ttl <= 0 uses the default TTL.
// Overwriting a key makes it the newest entry.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(c.cfg.now(), key, value, ttl)
}

// Add stores value only when key is absent or expired and reports whether it did.
func (c *Cache[K, V]) Add(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.now()
	if el, ok := c.items[key]; ok {
		if !c.expired(el, now) {
			c.hit()
			return false
		}
		c.remove(el)
		c.expire(1)
	}
	c.miss()
	c.set(now, key, value, ttl)
	return true
}

// Get returns the value of key when present and not expired.
// An expired entry is removed.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.miss()
		return zero, false
	}
	if c.expired(el, c.cfg.now()) {
		c.remove(el)
		c.expire(1)
		c.miss()
		return zero, false
	}
	c.hit()
	return el.Value.(*entry[K, V]).value, true
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el)
	c.reportSize()
	return true
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.reportSize()
}

// Size returns the number of stored entries, including expired ones not yet removed.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// RemoveExpired drops every expired entry and returns how many were removed.
func (c *Cache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.now()
	c.lastCleanup = now
	n := c.removeExpired(now)
	c.reportSize()
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.items)
	return s
}

// set must be called with c.mu held.
func (c *Cache[K, V]) set(now time.Time, key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}

	if now.Sub(c.lastCleanup) >= c.cfg.cleanupInterval {
		c.lastCleanup = now
		c.removeExpired(now)
	}

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}

	if c.cfg.maxSize > 0 && len(c.items) >= c.cfg.maxSize {
		c.removeExpired(now)
		evicted := 0
		for len(c.items) >= c.cfg.maxSize {
			c.remove(c.order.Front())
			evicted++
		}
		if evicted > 0 {
			c.stats.Evictions += int64(evicted)
			if c.cfg.name != "" {
				metrics.RecordCacheEviction(c.cfg.name, reasonCapacity, evicted)
			}
		}
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value, expiresAt: now.Add(ttl)})
	c.reportSize()
}

func (c *Cache[K, V]) removeExpired(now time.Time) int {
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el, now) {
			c.remove(el)
			n++
		}
		el = next
	}
	c.expire(n)
	return n
}

func (c *Cache[K, V]) expired(el *list.Element, now time.Time) bool {
	return !now.Before(el.Value.(*entry[K, V]).expiresAt)
}

func (c *Cache[K, V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}

func (c *Cache[K, V]) expire(n int) {
	if n == 0 {
		return
	}
	c.stats.Expirations += int64(n)
	if c.cfg.name != "" {
		metrics.RecordCacheEviction(c.cfg.name, reasonExpired, n)
	}
}

func (c *Cache[K, V]) hit() {
	c.stats.Hits++
	if c.cfg.name != "" {
		metrics.RecordCacheHit(c.cfg.name)
	}
}

func (c *Cache[K, V]) miss() {
	c.stats.Misses++
	if c.cfg.name != "" {
		metrics.RecordCacheMiss(c.cfg.name)
	}
}

func (c *Cache[K, V]) reportSize() {
	if c.cfg.name != "" {
		metrics.UpdateCacheSize(c.cfg.name, len(c.items))
	}
}
