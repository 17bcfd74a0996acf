package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/internal/domain/types"
)

// ActivityReader exposes stored activities.
type ActivityReader interface {
	GetActivity(ctx context.Context, id int64) (model.Activity, bool, error)
	Totals(ctx context.Context, ownerID int64) (model.Totals, error)
}

// ActivitiesHandler serves read-only views of the local store.
type ActivitiesHandler struct {
	deps ActivityReader
}

// NewActivitiesHandler creates a new activities handler.
func NewActivitiesHandler(deps ActivityReader) *ActivitiesHandler {
	return &ActivitiesHandler{deps: deps}
}

// HandleGetActivity handles GET /activities/{id}.
func (h *ActivitiesHandler) HandleGetActivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_activity"
	id, ok := pathID(w, r, op, "id")
	if !ok {
		return
	}
	a, found, err := h.deps.GetActivity(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrUnavailable, err))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, types.FromActivity(a))
}

// HandleGetTotals handles GET /athletes/{id}/totals.
func (h *ActivitiesHandler) HandleGetTotals(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_totals"
	id, ok := pathID(w, r, op, "id")
	if !ok {
		return
	}
	t, err := h.deps.Totals(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromTotals(t))
}

// pathID parses a positive integer path value, writing a 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, op, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errInvalidID(name)))
		return 0, false
	}
	return id, true
}

type errInvalidID string

func (e errInvalidID) Error() string { return "invalid " + string(e) }
