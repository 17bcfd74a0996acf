// Package queue holds accepted webhook events until a worker picks them up.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/metrics"
)

const defaultCapacity = 10000

// Event is the payload flowing through the queue.
type Event = model.InboundEvent

// Queue is a bounded FIFO between the webhook handler and one worker.
// Enqueue never blocks: a full or closed queue rejects the event so the
// handler can release its dedupe key and acknowledge the delivery as dropped.
type Queue interface {
	Enqueue(ctx context.Context, e Event) bool
	// Dequeue returns the consumer side. It is closed once the queue is
	// closed and drained, or when ctx ends.
	Dequeue(ctx context.Context) <-chan Event
	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// Option configures an InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity bounds how many accepted events may wait in the queue.
// It also sizes the channel unless WithBufferSize asks for less.
func WithCapacity(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithBufferSize caps the channel buffer below the capacity. Larger values
// are clamped to the capacity.
func WithBufferSize(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.bufferSize = n
		}
	}
}

// InMemoryQueue is a Queue backed by a buffered channel.
type InMemoryQueue struct {
	mu         sync.RWMutex
	events     chan Event
	capacity   int
	bufferSize int
	closed     bool
}

// NewInMemoryQueue builds a queue. Without options it holds 10000 events.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize == 0 || q.bufferSize > q.capacity {
		q.bufferSize = q.capacity
	}
	q.events = make(chan Event, q.bufferSize)
	return q
}

// Capacity reports the configured bound.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

func reject(reason string) bool {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
	return false
}

// Enqueue offers e to the queue and reports whether it was accepted.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: events travel by value
	began := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(began).Milliseconds()))
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	switch {
	case q.closed:
		return reject("closed")
	case ctx.Err() != nil:
		return reject("context_cancelled")
	case len(q.events) >= q.capacity:
		return reject("capacity_exceeded")
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		return true
	default:
		return reject("queue_full")
	}
}

// Dequeue starts forwarding queued events to the returned channel.
// Only one consumer may call it.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for e := range q.events {
			select {
			case out <- e:
				metrics.RecordQueueDequeue()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len reports how many events are waiting.
func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.events)
}

// Close stops accepting events. Already queued events stay readable.
// Closing twice is a no-op.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
