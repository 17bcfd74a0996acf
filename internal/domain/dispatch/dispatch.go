// Package dispatch sends at most one notification per activity change within a window.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/stravasync/internal/domain/cache"
	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

// Notification outcomes reported to metrics.
const (
	outcomeSent         = "sent"
	outcomeFailed       = "failed"
	outcomeSuppressed   = "suppressed"
	outcomeNoRecipients = "no_recipients"
)

// Notifier delivers a rendered notification.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}

// Dispatcher suppresses repeat notifications for the same (activity, kind)
// pair and delivers the rest asynchronously. Delivery is best effort.
type Dispatcher struct {
	notifier   Notifier
	recipients map[int64][]string
	fallback   []string
	sent       *cache.Cache[string, struct{}]
	limiter    *rate.Limiter
	ttl        time.Duration
	maxSize    int
	cleanup    time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher. Recipients of an activity are the email addresses
// of the principal owning it.
func New(n Notifier, principals []model.Principal, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:   n,
		recipients: make(map[int64][]string, len(principals)),
		limiter:    rate.NewLimiter(DefaultRate, DefaultBurst),
		ttl:        DefaultTTL,
		maxSize:    DefaultMaxSize,
		timeout:    DefaultTimeout,
		now:        time.Now,
		logger:     logger.Get().Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range principals {
		if p.Email != "" {
			d.recipients[p.ID] = append(d.recipients[p.ID], p.Email)
		}
	}
	d.sent = cache.New[string, struct{}](
		cache.WithMaxSize(d.maxSize),
		cache.WithDefaultTTL(d.ttl),
		cache.WithClock(d.now),
		cache.WithName("notifications"),
		cache.WithCleanupInterval(d.cleanup),
	)
	return d
}

// NotifyIfNew schedules a notification about a for kind unless one was sent
// for the same pair within the window. It reports whether a send was
// scheduled and never blocks on delivery.
func (d *Dispatcher) NotifyIfNew(ctx context.Context, a model.Activity, kind model.EventKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	key := dedupe.NotificationKey(a.ID, kind)
	if !d.sent.Add(key, struct{}{}, d.ttl) {
		metrics.RecordNotification(outcomeSuppressed)
		d.logger.Debug(ctx, "notification suppressed", logger.Int64("activity_id", a.ID),
			logger.String("kind", string(kind)))
		return false
	}

	d.wg.Add(1)
	go d.deliver(context.WithoutCancel(ctx), key, a, kind)
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, key string, a model.Activity, kind model.EventKind) {
	defer d.wg.Done()

	to := d.recipientsFor(a.OwnerID)
	if len(to) == 0 {
		metrics.RecordNotification(outcomeNoRecipients)
		d.logger.Debug(ctx, "no recipients for owner", logger.Int64("owner_id", a.OwnerID))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.limiter.Wait(ctx)
	if err == nil {
		subject, body := Render(a, kind)
		err = d.notifier.Send(ctx, model.Notification{Subject: subject, Body: body, Recipients: to})
	}
	if err != nil {
		// a later change to the same activity may notify again
		d.sent.Delete(key)
		metrics.RecordNotification(outcomeFailed)
		d.logger.Warn(ctx, "notification failed", logger.Int64("activity_id", a.ID),
			logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	metrics.RecordNotification(outcomeSent)
	d.logger.Info(ctx, "notification sent", logger.Int64("activity_id", a.ID),
		logger.String("kind", string(kind)), logger.Int("recipients", len(to)))
}

func (d *Dispatcher) recipientsFor(owner int64) []string {
	if r, ok := d.recipients[owner]; ok {
		return r
	}
	return d.fallback
}

// Clear forgets every suppression key.
func (d *Dispatcher) Clear() {
	d.sent.Clear()
}

// Size returns the number of live suppression keys.
func (d *Dispatcher) Size() int {
	return d.sent.Size()
}

// Close stops accepting notifications and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Render formats the subject and plain-text body for an activity change.
func Render(a model.Activity, kind model.EventKind) (string, string) {
	title := "Activity event"
	switch kind {
	case model.KindCreated:
		title = "New activity"
	case model.KindUpdated:
		title = "Activity updated"
	}
	name := a.Name
	if name == "" {
		name = "Activity"
	}
	subject := title + ": " + name

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", subject)
	fmt.Fprintf(&b, "Type:       %s\n", firstNonEmpty(a.SportType, a.Type))
	if !a.StartDateLocal.IsZero() {
		fmt.Fprintf(&b, "Date:       %s\n", a.StartDateLocal.Format("Mon 2 Jan 2006 15:04"))
	}
	fmt.Fprintf(&b, "Distance:   %.2f km\n", a.Distance/1000)
	fmt.Fprintf(&b, "Moving:     %s\n", (time.Duration(a.MovingTime) * time.Second).String())
	fmt.Fprintf(&b, "Elevation:  %.0f m\n", a.TotalElevationGain)
	if a.Calories != nil {
		fmt.Fprintf(&b, "Calories:   %.0f\n", *a.Calories)
	}
	if a.AverageHeartrate != nil {
		fmt.Fprintf(&b, "Avg HR:     %.0f bpm\n", *a.AverageHeartrate)
	}
	fmt.Fprintf(&b, "\nhttps://www.strava.com/activities/%d\n", a.ID)
	return subject, b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "-"
}
