package strava

import (
	"context"
	"sync"
	"time"

	"github.com/okian/stravasync/pkg/metrics"
)

// Default platform quota: 100 requests per 15 minutes.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 900 * time.Second
)

// Limiter gates outbound requests.
type Limiter interface {
	// Wait blocks until a request may be sent or ctx is done.
	Wait(ctx context.Context) error
}

// SlidingWindow admits at most limit requests within any window-long span.
//
// It keeps the timestamps of admitted requests in order. A caller that finds
// the window full sleeps until the oldest timestamp leaves it, then checks
// again. Only the waiting goroutine is suspended.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// LimiterOption configures a SlidingWindow.
type LimiterOption func(*SlidingWindow)

// WithLimiterClock replaces time.Now, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *SlidingWindow) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLimiterSleep replaces the context-aware sleep, for tests.
func WithLimiterSleep(sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *SlidingWindow) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// NewSlidingWindow creates a limiter. Non-positive arguments use the platform defaults.
func NewSlidingWindow(limit int, window time.Duration, opts ...LimiterOption) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	l := &SlidingWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait implements Limiter.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			used := len(l.stamps)
			l.mu.Unlock()

			metrics.UpdateRateLimitWindowUsed(used)
			if waited > 0 {
				metrics.RecordRateLimitWait(waited)
			}
			return nil
		}
		delay := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		waited += delay
	}
}

// Used returns the number of requests inside the current window.
func (l *SlidingWindow) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.stamps)
}

// prune must be called with l.mu held.
func (l *SlidingWindow) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
