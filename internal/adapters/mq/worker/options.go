package worker

import (
	"context"
	"time"

	"github.com/okian/stravasync/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRecorder writes every final result to an audit log.
func WithRecorder(r Recorder) Option {
	return func(w *InMemoryWorker) {
		w.recorder = r
	}
}

// WithUnrecorder forgets the fingerprint of events that finally failed with a
// retryable result, so a redelivery is processed.
func WithUnrecorder(u Unrecorder) Option {
	return func(w *InMemoryWorker) {
		w.unrecorder = u
	}
}

// WithRetry sets the attempt budget and the exponential backoff bounds.
func WithRetry(maxAttempts int, baseBackoff, maxBackoff time.Duration) Option {
	return func(w *InMemoryWorker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
		if baseBackoff > 0 {
			w.baseBackoff = baseBackoff
		}
		if maxBackoff > 0 {
			w.maxBackoff = maxBackoff
		}
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *InMemoryWorker) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// withProcessedHook lets the pool count processed events.
func withProcessedHook(fn func()) Option {
	return func(w *InMemoryWorker) {
		w.onProcessed = fn
	}
}
