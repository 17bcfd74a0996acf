package metrics

import (
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option tunes a Manager before its collectors are registered. Empty or
// non-positive arguments leave the default in place.
type Option func(*Manager)

// WithNamespace replaces the "stravasync" namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithSubsystem replaces the "pipeline" subsystem.
func WithSubsystem(sub string) Option {
	return func(m *Manager) {
		if sub != "" {
			m.subsystem = sub
		}
	}
}

// WithMetricPrefix inserts prefix between the subsystem and each metric name.
func WithMetricPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.metricPrefix = prefix
		}
	}
}

// WithHistogramBuckets sets the buckets of the generic latency histograms.
// Millisecond histograms keep their own bucket layout.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = append([]float64(nil), buckets...)
		}
	}
}

// WithConstLabels attaches labels to every series, e.g. a deployment name.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		if len(labels) > 0 {
			m.constLabels = maps.Clone(labels)
		}
	}
}

// WithRefreshInterval sets how often gauge samplers such as the system
// metrics loop should run.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshInterval = d
		}
	}
}

// WithPrometheusRegistry registers collectors on reg instead of the default.
func WithPrometheusRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// RefreshInterval reports the sampling interval of the global manager.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}
