package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/internal/domain/types"
	"github.com/okian/stravasync/pkg/logger"
)

// AdminDependencies are the operator actions.
type AdminDependencies interface {
	ClearWebhookCache()
	ClearNotificationCache()
	// Refresh synchronizes one activity now, bypassing deduplication.
	Refresh(ctx context.Context, principalID, activityID int64) model.SyncResult
	// StartBackfill launches a backfill in the background. It fails fast for
	// unknown principals.
	StartBackfill(principalID int64) error
}

// AdminHandler serves operator routes behind a bearer token.
type AdminHandler struct {
	deps   AdminDependencies
	token  string
	logger logger.Logger
}

// NewAdminHandler creates an admin handler. An empty token disables it.
func NewAdminHandler(deps AdminDependencies, token string, log logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &AdminHandler{deps: deps, token: token, logger: log}
}

// Enabled reports whether admin routes should be registered.
func (h *AdminHandler) Enabled() bool {
	return h.token != ""
}

// Authorize rejects requests without the admin bearer token.
func (h *AdminHandler) Authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.admin_auth"
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
			return
		}
		next(w, r)
	}
}

type clearResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
}

// HandleClearWebhookCache handles DELETE /admin/caches/webhook.
func (h *AdminHandler) HandleClearWebhookCache(w http.ResponseWriter, r *http.Request) {
	h.deps.ClearWebhookCache()
	h.logger.Info(r.Context(), "webhook dedup cache cleared")
	writeJSON(w, http.StatusOK, clearResponse{Status: "cleared", Cache: "webhook"})
}

// HandleClearNotificationCache handles DELETE /admin/caches/notifications.
func (h *AdminHandler) HandleClearNotificationCache(w http.ResponseWriter, r *http.Request) {
	h.deps.ClearNotificationCache()
	h.logger.Info(r.Context(), "notification cache cleared")
	writeJSON(w, http.StatusOK, clearResponse{Status: "cleared", Cache: "notifications"})
}

// HandleRefresh handles POST /admin/refresh/{principal}/{id}.
func (h *AdminHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_refresh"
	principal, ok := pathID(w, r, op, "principal")
	if !ok {
		return
	}
	id, ok := pathID(w, r, op, "id")
	if !ok {
		return
	}
	res := h.deps.Refresh(r.Context(), principal, id)
	writeJSON(w, http.StatusOK, types.FromResult(res))
}

// HandleBackfill handles POST /admin/backfill/{principal}.
func (h *AdminHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_backfill"
	principal, ok := pathID(w, r, op, "principal")
	if !ok {
		return
	}
	if err := h.deps.StartBackfill(principal); err != nil {
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "started"})
}
