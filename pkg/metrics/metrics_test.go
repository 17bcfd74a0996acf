package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should use the pipeline namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "stravasync")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(5*time.Second),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.metricPrefix, ShouldEqual, "test_prefix")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.refreshInterval, ShouldEqual, 5*time.Second)
				So(manager.constLabels["env"], ShouldEqual, "test")
			})

			Convey("Then prefixed collectors should be registered", func() {
				manager.syncResults.WithLabelValues("synced", "").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_namespace_test_subsystem_test_prefix_sync_results_total")
			})
		})

		Convey("When empty values are passed to options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithRefreshInterval(0), WithPrometheusRegistry(registry))

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "stravasync")
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When a sync result is recorded", func() {
			before := testutil.ToFloat64(globalManager.syncResults.WithLabelValues("skipped", "duplicate"))
			RecordSyncResult("skipped", "duplicate")

			Convey("Then the labelled counter should increase", func() {
				after := testutil.ToFloat64(globalManager.syncResults.WithLabelValues("skipped", "duplicate"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When cache activity is recorded", func() {
			hits := testutil.ToFloat64(globalManager.cacheHits.WithLabelValues("test"))
			evictions := testutil.ToFloat64(globalManager.cacheEvictions.WithLabelValues("test", "expired"))
			RecordCacheHit("test")
			RecordCacheEviction("test", "expired", 3)
			UpdateCacheSize("test", 7)

			Convey("Then the per-cache series should move", func() {
				So(testutil.ToFloat64(globalManager.cacheHits.WithLabelValues("test"))-hits, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.cacheEvictions.WithLabelValues("test", "expired"))-evictions, ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.cacheSize.WithLabelValues("test")), ShouldEqual, 7)
			})
		})

		Convey("When webhook and notification outcomes are recorded", func() {
			dup := testutil.ToFloat64(globalManager.webhookDuplicates)
			dropped := testutil.ToFloat64(globalManager.webhookDropped)
			sent := testutil.ToFloat64(globalManager.notifications.WithLabelValues("sent"))
			RecordEventDuplicate()
			RecordWebhookDropped()
			RecordNotification("sent")

			Convey("Then each counter should increase by one", func() {
				So(testutil.ToFloat64(globalManager.webhookDuplicates)-dup, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.webhookDropped)-dropped, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.notifications.WithLabelValues("sent"))-sent, ShouldEqual, 1)
			})
		})

		Convey("When the remaining recorders are called", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					RecordWebhookReceived("activity", "create")
					RecordChallenge("ok")
					RecordSyncLatency(12)
					RecordBackfillStored(4)
					RecordAPIRequest("get_activity", "200")
					RecordAPILatency("get_activity", 30)
					RecordRateLimitWait(2 * time.Second)
					UpdateRateLimitWindowUsed(42)
					RecordTokenRefresh("success")
					UpdateCircuitBreakerState("strava", 0)
					RecordCircuitBreakerTransition("strava", "closed", "open")
					RecordCircuitBreakerRequest("strava", "success")
					RecordCacheMiss("test")
					UpdateQueueSize(1)
					UpdateWorkerCount(2)
					RecordHTTPRequest("/webhook", "POST", "200")
					RecordHTTPRequestDuration("/webhook", "POST", "200", 3)
					UpdateStoredActivities(10)
					RecordRepositoryUpdateLatency(1)
					RecordRepositoryQueryLatency(1)
					RecordRepositoryError("upsert")
					UpdateQueueCapacity(100)
					UpdateQueueUtilization(0.5)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueProcessingLatency(1)
					UpdateWorkerActiveCount(2)
					UpdateWorkerMessagesPerSecond(1.5)
					RecordWorkerProcessingLatency(4)
					RecordWorkerError()
					RecordWorkerRetry()
					RecordErrorByComponent("api", "timeout")
					RecordErrorByType("timeout", "warning")
					RecordErrorByEndpoint("/webhook", "POST", "bad_request")
					RecordErrorLatency("api", "timeout", 5)
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(10)
					RecordSystemGCPauseTime(0.5)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestRegistryAndRefreshInterval(t *testing.T) {
	Convey("Given the package level accessors", t, func() {
		Convey("Then the registry should gather pipeline metrics", func() {
			RecordQueueEnqueue()
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})

		Convey("Then the refresh interval should default to ten seconds", func() {
			So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})
	})
}
