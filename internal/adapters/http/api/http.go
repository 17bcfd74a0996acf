// Package api serves the webhook endpoint and the operational HTTP surface.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/okian/stravasync/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	WebhookDependencies
	ActivityReader
	AdminDependencies
	OpsDependencies
}

// Server wires HTTP routes for the service.
type Server struct {
	verifyToken  string
	adminToken   string
	maxBodyBytes int64
	logger       logger.Logger

	healthHandler     *HealthHandler
	webhookHandler    *WebhookHandler
	activitiesHandler *ActivitiesHandler
	adminHandler      *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthHandler = NewHealthHandler(deps)
	s.webhookHandler = NewWebhookHandler(deps, s.verifyToken, s.maxBodyBytes, s.logger)
	s.activitiesHandler = NewActivitiesHandler(deps)
	s.adminHandler = NewAdminHandler(deps, s.adminToken, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	handle := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, SecurityHeaders(MetricsMiddleware(h, endpoint)))
	}

	handle("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	handle("GET /metrics", "metrics", s.healthHandler.HandleMetrics)
	handle("GET /stats", "stats", s.healthHandler.HandleStats)

	handle("GET /webhook", "webhook_challenge", s.webhookHandler.HandleChallenge)
	handle("POST /webhook", "webhook_event", s.webhookHandler.HandleEvent)

	handle("GET /activities/{id}", "activity", s.activitiesHandler.HandleGetActivity)
	handle("GET /athletes/{id}/totals", "totals", s.activitiesHandler.HandleGetTotals)

	if s.adminHandler.Enabled() {
		admin := func(pattern, endpoint string, h http.HandlerFunc) {
			handle(pattern, endpoint, s.adminHandler.Authorize(h))
		}
		admin("DELETE /admin/caches/webhook", "admin_clear_webhook", s.adminHandler.HandleClearWebhookCache)
		admin("DELETE /admin/caches/notifications", "admin_clear_notifications", s.adminHandler.HandleClearNotificationCache)
		admin("POST /admin/refresh/{principal}/{id}", "admin_refresh", s.adminHandler.HandleRefresh)
		admin("POST /admin/backfill/{principal}", "admin_backfill", s.adminHandler.HandleBackfill)
	}
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
