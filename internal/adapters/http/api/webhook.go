package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
	"github.com/okian/stravasync/pkg/validation"
)

// WebhookDependencies defines what the webhook endpoint needs.
type WebhookDependencies interface {
	dedupe.Deduper
	// Enqueue pushes an event for async processing. Returns false on backpressure.
	Enqueue(ctx context.Context, e model.InboundEvent) bool
}

// webhookRequest is the platform's push payload.
type webhookRequest struct {
	ObjectType     string         `json:"object_type" validate:"required,oneof=activity athlete"`
	ObjectID       int64          `json:"object_id" validate:"gt=0"`
	AspectType     string         `json:"aspect_type" validate:"required,oneof=create update delete"`
	OwnerID        int64          `json:"owner_id" validate:"gt=0"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time" validate:"gt=0"`
	Updates        map[string]any `json:"updates"`
}

func (r webhookRequest) toEvent(id string, raw []byte, now time.Time) model.InboundEvent {
	e := model.InboundEvent{
		DeliveryID:     id,
		ObjectType:     model.ObjectType(r.ObjectType),
		EntityID:       r.ObjectID,
		PrincipalID:    r.OwnerID,
		Kind:           model.EventKind(r.AspectType),
		EventTime:      time.Unix(r.EventTime, 0).UTC(),
		SubscriptionID: r.SubscriptionID,
		RawPayload:     raw,
		ReceivedAt:     now,
	}
	if len(r.Updates) > 0 {
		e.Updates = make(map[string]string, len(r.Updates))
		for k, v := range r.Updates {
			e.Updates[k] = fmt.Sprint(v)
		}
	}
	return e
}

type challengeResponse struct {
	Challenge string `json:"hub.challenge"`
}

// WebhookHandler serves subscription validation and event intake.
type WebhookHandler struct {
	deps         WebhookDependencies
	verifyToken  string
	maxBodyBytes int64
	now          func() time.Time
	logger       logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(deps WebhookDependencies, verifyToken string, maxBodyBytes int64, log logger.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &WebhookHandler{
		deps:         deps,
		verifyToken:  verifyToken,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
		logger:       log,
	}
}

// HandleChallenge handles GET /webhook subscription validation.
func (h *WebhookHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook_challenge"
	q := r.URL.Query()
	challenge, token := q.Get("hub.challenge"), q.Get("hub.verify_token")
	if challenge == "" || token == "" {
		metrics.RecordChallenge("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, fmt.Errorf("hub.challenge and hub.verify_token are required")))
		return
	}
	if h.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		metrics.RecordChallenge("forbidden")
		h.logger.Warn(r.Context(), "webhook challenge with wrong verify token")
		writeError(w, http.StatusForbidden, "forbidden", NewKind(op, ErrForbidden))
		return
	}
	metrics.RecordChallenge("ok")
	writeJSON(w, http.StatusOK, challengeResponse{Challenge: challenge})
}

// HandleEvent handles POST /webhook. Any well-formed body is acknowledged
// with 200 so the platform does not retry; the status field tells what happened.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook_event"
	ctx := r.Context()

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: apiErr.Code, Message: apiErr.Message, Fields: apiErr.Fields})
		return
	}

	e := req.toEvent(uuid.NewString(), raw, h.now())
	metrics.RecordWebhookReceived(string(e.ObjectType), string(e.Kind))

	if !dedupe.ShouldProcess(ctx, h.deps, e) {
		metrics.RecordEventDuplicate()
		h.logger.Debug(ctx, "duplicate delivery", logger.Int64("object_id", e.EntityID),
			logger.String("kind", string(e.Kind)))
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate"})
		return
	}

	if ok := h.deps.Enqueue(ctx, e); !ok {
		// forget the fingerprint so a redelivery is accepted
		h.deps.Unrecord(ctx, dedupe.Fingerprint(e))
		metrics.RecordWebhookDropped()
		h.logger.Warn(ctx, "event dropped under backpressure",
			logger.String("delivery_id", e.DeliveryID),
			logger.Int64("object_id", e.EntityID),
			logger.Error(NewKind(op, ErrBackpressure)))
		writeJSON(w, http.StatusOK, ackResponse{Status: "dropped"})
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "accepted"})
}
