// Package metrics provides Prometheus metrics for the activity sync pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Webhook intake
	webhookReceived   *prometheus.CounterVec
	webhookDuplicates prometheus.Counter
	webhookDropped    prometheus.Counter
	webhookChallenges *prometheus.CounterVec

	// Synchronization
	syncResults    *prometheus.CounterVec
	syncLatency    prometheus.Histogram
	backfillStored prometheus.Counter

	// Remote API client
	apiRequests         *prometheus.CounterVec
	apiLatency          *prometheus.HistogramVec
	rateLimitWait       prometheus.Histogram
	rateLimitWindowUsed prometheus.Gauge
	tokenRefreshes      *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	breakerTransitions  *prometheus.CounterVec
	breakerRequests     *prometheus.CounterVec

	// TTL caches
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec

	// Notifications
	notifications *prometheus.CounterVec

	// Operational health
	queueSize   prometheus.Gauge
	workerCount prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	storedActivities        prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram
	repositoryErrors        *prometheus.CounterVec

	// Queue
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	workerRetryCount        prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "stravasync",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	waitBuckets := []float64{1, 10, 100, 1000, 10_000, 60_000, 300_000, 900_000}

	m.webhookReceived = m.counterVec("webhook_events_received_total", "Webhook deliveries accepted by object type and aspect", "object_type", "aspect_type")
	m.webhookDuplicates = m.counter("webhook_events_duplicate_total", "Webhook deliveries discarded as redeliveries")
	m.webhookDropped = m.counter("webhook_events_dropped_total", "Webhook deliveries dropped on queue backpressure")
	m.webhookChallenges = m.counterVec("webhook_challenges_total", "Subscription challenge requests by outcome", "outcome")

	m.syncResults = m.counterVec("sync_results_total", "Synchronization results by status and reason", "status", "reason")
	m.syncLatency = m.histogram("sync_latency_milliseconds", "End-to-end synchronization latency in milliseconds", m.histogramBuckets)
	m.backfillStored = m.counter("backfill_activities_total", "Activities stored by backfill runs")

	m.apiRequests = m.counterVec("api_requests_total", "Remote API requests by endpoint and status code", "endpoint", "status_code")
	m.apiLatency = m.histogramVec("api_latency_milliseconds", "Remote API latency in milliseconds", m.histogramBuckets, "endpoint")
	m.rateLimitWait = m.histogram("rate_limit_wait_milliseconds", "Time callers spent waiting for sliding window capacity", waitBuckets)
	m.rateLimitWindowUsed = m.gauge("rate_limit_window_used", "Requests recorded in the current sliding window")
	m.tokenRefreshes = m.counterVec("token_refreshes_total", "Access token refreshes by outcome", "outcome")
	m.breakerState = m.gaugeVec("circuit_breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open)", "name")
	m.breakerTransitions = m.counterVec("circuit_breaker_transitions_total", "Circuit breaker state transitions", "name", "from", "to")
	m.breakerRequests = m.counterVec("circuit_breaker_requests_total", "Requests seen by the circuit breaker by outcome", "name", "outcome")

	m.cacheHits = m.counterVec("cache_hits_total", "TTL cache hits", "cache")
	m.cacheMisses = m.counterVec("cache_misses_total", "TTL cache misses", "cache")
	m.cacheEvictions = m.counterVec("cache_evictions_total", "TTL cache removals by reason", "cache", "reason")
	m.cacheSize = m.gaugeVec("cache_entries", "Entries currently held by a TTL cache", "cache")

	m.notifications = m.counterVec("notifications_total", "Notification dispatch outcomes", "outcome")

	m.queueSize = m.gauge("queue_size", "Current size of the event queue")
	m.workerCount = m.gauge("worker_count", "Configured number of sync workers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.storedActivities = m.gauge("stored_activities", "Activities held in the relational store")
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Repository write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Repository read latency in milliseconds", m.histogramBuckets)
	m.repositoryErrors = m.counterVec("repository_errors_total", "Repository errors by operation", "operation")

	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average events processed per second by workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Events whose final result was a failure")
	m.workerRetryCount = m.counter("worker_retries_total", "Retry attempts made by workers")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", m.histogramBuckets, "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Webhook intake.

// RecordWebhookReceived counts an accepted webhook delivery.
func RecordWebhookReceived(objectType, aspectType string) {
	globalManager.webhookReceived.WithLabelValues(objectType, aspectType).Inc()
}

// RecordEventDuplicate counts a delivery discarded by the deduplicator.
func RecordEventDuplicate() {
	globalManager.webhookDuplicates.Inc()
}

// RecordWebhookDropped counts a delivery dropped on backpressure.
func RecordWebhookDropped() {
	globalManager.webhookDropped.Inc()
}

// RecordChallenge counts a subscription challenge by outcome.
func RecordChallenge(outcome string) {
	globalManager.webhookChallenges.WithLabelValues(outcome).Inc()
}

// Synchronization.

// RecordSyncResult counts a synchronization result.
func RecordSyncResult(status, reason string) {
	globalManager.syncResults.WithLabelValues(status, reason).Inc()
}

// RecordSyncLatency records synchronization latency in milliseconds.
func RecordSyncLatency(latencyMs float64) {
	globalManager.syncLatency.Observe(latencyMs)
}

// RecordBackfillStored adds n activities stored by a backfill run.
func RecordBackfillStored(n int) {
	globalManager.backfillStored.Add(float64(n))
}

// Remote API client.

// RecordAPIRequest counts a remote API exchange.
func RecordAPIRequest(endpoint, statusCode string) {
	globalManager.apiRequests.WithLabelValues(endpoint, statusCode).Inc()
}

// RecordAPILatency records remote API latency in milliseconds.
func RecordAPILatency(endpoint string, latencyMs float64) {
	globalManager.apiLatency.WithLabelValues(endpoint).Observe(latencyMs)
}

// RecordRateLimitWait records how long a caller waited for window capacity.
func RecordRateLimitWait(wait time.Duration) {
	globalManager.rateLimitWait.Observe(float64(wait.Milliseconds()))
}

// UpdateRateLimitWindowUsed sets the number of requests in the current window.
func UpdateRateLimitWindowUsed(n int) {
	globalManager.rateLimitWindowUsed.Set(float64(n))
}

// RecordTokenRefresh counts a token refresh by outcome.
func RecordTokenRefresh(outcome string) {
	globalManager.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// UpdateCircuitBreakerState sets the numeric state of a breaker.
func UpdateCircuitBreakerState(name string, state float64) {
	globalManager.breakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(name, from, to string) {
	globalManager.breakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordCircuitBreakerRequest counts a request seen by a breaker.
func RecordCircuitBreakerRequest(name, outcome string) {
	globalManager.breakerRequests.WithLabelValues(name, outcome).Inc()
}

// TTL caches.

// RecordCacheHit counts a cache hit.
func RecordCacheHit(cache string) {
	globalManager.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a cache miss.
func RecordCacheMiss(cache string) {
	globalManager.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordCacheEviction counts n removals from a cache.
func RecordCacheEviction(cache, reason string, n int) {
	globalManager.cacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
}

// UpdateCacheSize sets the number of entries in a cache.
func UpdateCacheSize(cache string, n int) {
	globalManager.cacheSize.WithLabelValues(cache).Set(float64(n))
}

// RecordNotification counts a notification outcome: sent, failed or suppressed.
func RecordNotification(outcome string) {
	globalManager.notifications.WithLabelValues(outcome).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository Metrics Functions.

// UpdateStoredActivities sets the number of stored activities.
func UpdateStoredActivities(count int) {
	globalManager.storedActivities.Set(float64(count))
}

// RecordRepositoryUpdateLatency records repository write latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordRepositoryError counts a failed repository operation.
func RecordRepositoryError(operation string) {
	globalManager.repositoryErrors.WithLabelValues(operation).Inc()
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average events processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordWorkerRetry increments the worker retry counter.
func RecordWorkerRetry() {
	globalManager.workerRetryCount.Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
