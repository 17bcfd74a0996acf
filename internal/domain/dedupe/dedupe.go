// Package dedupe suppresses webhook redeliveries within a time window.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/stravasync/internal/domain/cache"
	"github.com/okian/stravasync/internal/domain/model"
)

// Default deduplication window and bound.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 50_000
)

// Deduper records seen event fingerprints to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when an event was marked as seen but could not be processed
	// (queue backpressure, retryable failure).
	Unrecord(ctx context.Context, id string)

	// Clear forgets every recorded ID.
	Clear()

	Size() int64
}

// fingerprintFields is the identity of one delivery.
type fingerprintFields struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	EventTime  int64  `json:"event_time"`
}

// Fingerprint derives the redelivery key of an event from its object, kind and
// event time. Two deliveries of the same change share a fingerprint.
func Fingerprint(e model.InboundEvent) string {
	b, err := json.Marshal(fingerprintFields{
		ObjectType: string(e.ObjectType),
		ObjectID:   e.EntityID,
		AspectType: string(e.Kind),
		EventTime:  e.EventTime.Unix(),
	})
	if err != nil {
		// a struct of scalars always encodes
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NotificationKey is the coarser key used to suppress repeat notifications:
// entity and kind only, no timestamp.
func NotificationKey(entityID int64, kind model.EventKind) string {
	return strconv.FormatInt(entityID, 10) + ":" + string(kind)
}

// ShouldProcess reports whether e is seen for the first time within the
// window, recording it when it is.
func ShouldProcess(ctx context.Context, d Deduper, e model.InboundEvent) bool {
	return !d.SeenAndRecord(ctx, Fingerprint(e))
}

// ttlDeduper implements Deduper on top of a TTL cache.
// Recording is a single set-if-absent so concurrent redeliveries cannot both win.
type ttlDeduper struct {
	seen    *cache.Cache[string, struct{}]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	name    string
	cleanup time.Duration
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ttlDeduper{
		ttl:     DefaultTTL,
		maxSize: DefaultMaxSize,
		now:     time.Now,
		name:    "webhook",
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = cache.New[string, struct{}](
		cache.WithMaxSize(d.maxSize),
		cache.WithDefaultTTL(d.ttl),
		cache.WithClock(d.now),
		cache.WithName(d.name),
		cache.WithCleanupInterval(d.cleanup),
	)
	return d
}

func (d *ttlDeduper) SeenAndRecord(_ context.Context, id string) bool {
	return !d.seen.Add(id, struct{}{}, d.ttl)
}

func (d *ttlDeduper) Unrecord(_ context.Context, id string) {
	d.seen.Delete(id)
}

func (d *ttlDeduper) Clear() {
	d.seen.Clear()
}

func (d *ttlDeduper) Size() int64 {
	return int64(d.seen.Size())
}
