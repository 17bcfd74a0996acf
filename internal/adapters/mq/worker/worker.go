// Package worker runs synchronization of queued webhook events.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/stravasync/internal/adapters/mq/queue"
	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxAttempts      = 3
	defaultBaseBackoff      = time.Second
	defaultMaxBackoff       = 30 * time.Second
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
	recordTimeout           = 5 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.InboundEvent

// Processor synchronizes one event that already passed deduplication.
type Processor interface {
	Sync(ctx context.Context, e model.InboundEvent) model.SyncResult
}

// Recorder stores the final outcome of an event.
type Recorder interface {
	RecordWebhookEvent(ctx context.Context, e model.InboundEvent, r model.SyncResult) error
}

// Unrecorder forgets a delivery fingerprint.
type Unrecorder interface {
	Unrecord(ctx context.Context, id string)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events from its queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker consumes one queue and retries retryable failures.
type InMemoryWorker struct {
	queue      Queue
	processor  Processor
	recorder   Recorder
	unrecorder Unrecorder
	name       string

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	onProcessed func()

	shutdown chan struct{}
	done     chan struct{}
	stopOnce atomic.Bool

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, processor Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       queue,
		processor:   processor,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		sleep:       sleepContext,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			w.process(ctx, event)
		}
	}
}

// Shutdown stops the worker loop and waits for the current event.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	if w.stopOnce.CompareAndSwap(false, true) {
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// process syncs one event with retries and records the final result.
func (w *InMemoryWorker) process(ctx context.Context, event Event) model.SyncResult { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		if w.onProcessed != nil {
			w.onProcessed()
		}
	}()

	ctx = logger.ContextWith(ctx,
		logger.String("delivery_id", event.DeliveryID),
		logger.Int64("entity_id", event.EntityID))

	var r model.SyncResult
	for attempt := 1; ; attempt++ {
		r = w.processor.Sync(ctx, event)
		if !r.Retryable() || attempt >= w.maxAttempts {
			break
		}
		delay, ok := w.backoff(attempt, r.RetryAfter)
		if !ok {
			w.logger.Warn(ctx, "retry hint exceeds backoff cap, giving up",
				logger.Duration("retry_after", r.RetryAfter))
			break
		}
		metrics.RecordWorkerRetry()
		w.logger.Debug(ctx, "retrying event",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay))
		if err := w.sleep(ctx, delay); err != nil {
			break
		}
	}

	if r.Status == model.StatusFailed {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", string(r.Reason))
	}
	if r.Retryable() && w.unrecorder != nil {
		w.unrecorder.Unrecord(ctx, dedupe.Fingerprint(event))
	}
	if w.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if err := w.recorder.RecordWebhookEvent(rctx, event, r); err != nil {
			w.logger.Error(ctx, "recording webhook outcome failed", logger.Error(err))
		}
		cancel()
	}
	return r
}

// backoff returns the wait before attempt+1. A server hint is used when it
// fits under the cap; a larger hint reports false.
func (w *InMemoryWorker) backoff(attempt int, hint time.Duration) (time.Duration, bool) {
	if hint > 0 {
		if hint > w.maxBackoff {
			return 0, false
		}
		return hint, true
	}
	d := w.baseBackoff << (attempt - 1)
	if d <= 0 || d > w.maxBackoff {
		d = w.maxBackoff
	}
	return d, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs one worker per queue shard. Events of one entity always land on
// the same shard and are processed in arrival order.
type Pool struct {
	workers []*InMemoryWorker
	queues  []*queue.InMemoryQueue

	shutdown chan struct{}
	started  atomic.Bool
	stopOnce atomic.Bool

	processedCount    atomic.Int64
	lastProcessedTime time.Time

	logger logger.Logger
}

// NewPool creates workerCount shards sharing capacity, each drained by a
// worker configured with opts.
func NewPool(workerCount, capacity int, processor Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	perShard := (capacity + workerCount - 1) / workerCount
	if perShard < 1 {
		perShard = 1
	}

	pool := &Pool{
		workers:           make([]*InMemoryWorker, workerCount),
		queues:            make([]*queue.InMemoryQueue, workerCount),
		shutdown:          make(chan struct{}),
		lastProcessedTime: time.Now(),
		logger:            logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(perShard), queue.WithBufferSize(perShard))
		workerOpts := append([]Option{}, opts...)
		workerOpts = append(workerOpts,
			WithName("worker-"+strconv.Itoa(i)),
			withProcessedHook(func() { pool.processedCount.Add(1) }))
		pool.workers[i] = NewInMemoryWorker(pool.queues[i], processor, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0.0)
	metrics.UpdateQueueCapacity(perShard * workerCount)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return pool
}

// Enqueue routes e to its entity's shard. It returns false on backpressure
// or after shutdown.
func (p *Pool) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	ok := p.shard(e.EntityID).Enqueue(ctx, e)
	p.reportSize(ctx)
	return ok
}

func (p *Pool) shard(entityID int64) *queue.InMemoryQueue {
	return p.queues[uint64(entityID)%uint64(len(p.queues))]
}

// Len returns the number of queued events across shards.
func (p *Pool) Len(ctx context.Context) int {
	n := 0
	for _, q := range p.queues {
		n += q.Len(ctx)
	}
	return n
}

// Capacity returns the total queue capacity.
func (p *Pool) Capacity() int {
	n := 0
	for _, q := range p.queues {
		n += q.Capacity()
	}
	return n
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

func (p *Pool) reportSize(ctx context.Context) {
	size := p.Len(ctx)
	metrics.UpdateQueueSize(size)
	if c := p.Capacity(); c > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(c))
	}
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}

	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically publishes throughput and queue depth.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	now := time.Now()
	if elapsed := now.Sub(p.lastProcessedTime).Seconds(); elapsed > 0 {
		metrics.UpdateWorkerMessagesPerSecond(float64(p.processedCount.Swap(0)) / elapsed)
	}
	p.lastProcessedTime = now
	p.reportSize(ctx)
}

// Processed returns the number of events processed since the last metrics tick.
func (p *Pool) Processed() int64 {
	return p.processedCount.Load()
}

// Shutdown closes every shard and waits for workers to drain them. Workers
// still busy when ctx (or the pool timeout) ends are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, worker := range p.workers {
		select {
		case <-worker.Done():
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
		}
	}

	if p.stopOnce.CompareAndSwap(false, true) {
		close(p.shutdown)
	}
	if timedOut {
		for _, worker := range p.workers {
			_ = worker.Shutdown(shutdownCtx)
		}
		metrics.UpdateWorkerActiveCount(0)
		return fmt.Errorf("worker pool drain: %w", shutdownCtx.Err())
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
