package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/stravasync/pkg/metrics"
)

const healthTimeout = 2 * time.Second

// HealthChecker reports whether backing services are reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports a point-in-time snapshot of pipeline counters.
type StatsProvider interface {
	GetStats() map[string]any
}

// OpsDependencies is what the operational endpoints read from.
type OpsDependencies interface {
	HealthChecker
	StatsProvider
}

// HealthHandler serves /healthz, /metrics and /stats.
type HealthHandler struct {
	deps    OpsDependencies
	metrics http.Handler
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps OpsDependencies) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
		started: time.Now(),
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth handles GET /healthz requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.deps.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// HandleMetrics serves the Prometheus exposition from the custom registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// HandleStats returns the service snapshot plus the handler uptime.
// The provider's map is copied so callers may keep returning a shared one.
func (h *HealthHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.deps.GetStats()
	out := make(map[string]any, len(snapshot)+1)
	for k, v := range snapshot {
		out[k] = v
	}
	out["uptimeSeconds"] = int64(time.Since(h.started).Seconds())
	writeJSON(w, http.StatusOK, out)
}
