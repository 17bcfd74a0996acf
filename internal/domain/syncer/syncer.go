// Package syncer reconciles the local store with remote activities in
// response to webhook events.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/stravasync/internal/adapters/strava"
	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

// Remote is the read side of the platform API.
type Remote interface {
	Known(principalID int64) bool
	GetActivity(ctx context.Context, principalID, activityID int64) (model.Activity, bool, error)
	ListActivities(ctx context.Context, principalID int64, q model.ListQuery) ([]model.Activity, error)
	Forget(principalID, activityID int64)
}

// Store is the write side of the local store.
type Store interface {
	UpsertActivity(ctx context.Context, a model.Activity) (int64, error)
	DeleteActivity(ctx context.Context, id int64) (int64, error)
}

// Notifier is told about stored changes.
type Notifier interface {
	NotifyIfNew(ctx context.Context, a model.Activity, kind model.EventKind) bool
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	PrincipalID int64
	Fetched     int
	Stored      int
	Failed      int
	Duration    time.Duration
}

// Engine turns inbound events into store mutations.
// It never panics on remote or store failures; every outcome is a SyncResult.
type Engine struct {
	remote       Remote
	store        Store
	notifier     Notifier
	dedup        dedupe.Deduper
	writeTimeout time.Duration
	now          func() time.Time
	logger       logger.Logger
}

// New creates an Engine.
func New(remote Remote, store Store, opts ...Option) *Engine {
	e := &Engine{
		remote:       remote,
		store:        store,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		logger:       logger.Get().Named("syncer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dedup == nil {
		e.dedup = dedupe.NewInMemoryDeduper()
	}
	return e
}

// Handle processes ev unless its fingerprint was seen within the dedup window.
// A retryable failure forgets the fingerprint so a redelivery is processed.
func (e *Engine) Handle(ctx context.Context, ev model.InboundEvent) model.SyncResult {
	if !dedupe.ShouldProcess(ctx, e.dedup, ev) {
		metrics.RecordEventDuplicate()
		return e.record(ctx, ev, model.Skipped(model.ReasonDuplicate), e.now())
	}
	r := e.Sync(ctx, ev)
	if r.Retryable() {
		e.dedup.Unrecord(ctx, dedupe.Fingerprint(ev))
	}
	return r
}

// Sync processes an event that already passed deduplication.
func (e *Engine) Sync(ctx context.Context, ev model.InboundEvent) model.SyncResult {
	start := e.now()
	r := e.sync(ctx, ev)
	return e.record(ctx, ev, r, start)
}

func (e *Engine) sync(ctx context.Context, ev model.InboundEvent) model.SyncResult {
	if !ev.IsActivity() {
		if ev.ObjectType == model.ObjectAthlete && ev.Updates["authorized"] == "false" {
			e.logger.Info(ctx, "athlete revoked access", logger.Int64("principal_id", ev.PrincipalID))
		}
		return model.Skipped(model.ReasonUnsupportedObject)
	}
	if !e.remote.Known(ev.PrincipalID) {
		return model.Failed(model.ReasonUnknownPrincipal,
			fmt.Errorf("principal %d: %w", ev.PrincipalID, strava.ErrUnknownPrincipal))
	}

	switch ev.Kind {
	case model.KindDeleted:
		return e.delete(ctx, ev)
	case model.KindCreated, model.KindUpdated:
		return e.fetchAndStore(ctx, ev)
	default:
		return model.Failed(model.ReasonUnexpected, fmt.Errorf("unknown event kind %q", ev.Kind))
	}
}

func (e *Engine) delete(ctx context.Context, ev model.InboundEvent) model.SyncResult {
	e.remote.Forget(ev.PrincipalID, ev.EntityID)

	wctx, cancel := e.writeContext(ctx)
	defer cancel()
	n, err := e.store.DeleteActivity(wctx, ev.EntityID)
	if err != nil {
		return model.Failed(model.ReasonStoreFailure, err)
	}
	if n == 0 {
		e.logger.Debug(ctx, "delete of absent activity", logger.Int64("activity_id", ev.EntityID))
	}
	return model.Synced()
}

func (e *Engine) fetchAndStore(ctx context.Context, ev model.InboundEvent) model.SyncResult {
	if ev.Kind == model.KindUpdated {
		e.remote.Forget(ev.PrincipalID, ev.EntityID)
	}

	a, found, err := e.remote.GetActivity(ctx, ev.PrincipalID, ev.EntityID)
	if err != nil {
		return classify(err)
	}
	if !found {
		return model.Failed(model.ReasonRemoteEntityGone,
			fmt.Errorf("activity %d not found", ev.EntityID))
	}

	a = e.prepare(a, ev.PrincipalID)
	if err := e.upsert(ctx, a); err != nil {
		return model.Failed(model.ReasonStoreFailure, err)
	}
	if e.notifier != nil {
		e.notifier.NotifyIfNew(ctx, a, ev.Kind)
	}
	return model.Synced()
}

// Backfill stores up to limit activities of principalID started after after.
// No notifications are sent. A remote failure stops the run and is returned
// with the partial report; store failures are counted and skipped.
func (e *Engine) Backfill(ctx context.Context, principalID int64, after time.Time, limit int) (BackfillReport, error) {
	start := e.now()
	report := BackfillReport{PrincipalID: principalID}
	if !e.remote.Known(principalID) {
		return report, fmt.Errorf("principal %d: %w", principalID, strava.ErrUnknownPrincipal)
	}

	q := model.ListQuery{Page: 1}
	if !after.IsZero() {
		q.After = after
	}
	pager := strava.NewPager(e.remote.ListActivities, principalID, q, limit)
	for !pager.Done() {
		page, err := pager.Next(ctx)
		if err != nil {
			report.Duration = e.now().Sub(start)
			return report, fmt.Errorf("backfill principal %d: %w", principalID, err)
		}
		report.Fetched += len(page)
		for _, a := range page {
			if err := e.upsert(ctx, e.prepare(a, principalID)); err != nil {
				report.Failed++
				e.logger.Warn(ctx, "backfill upsert failed", logger.Int64("activity_id", a.ID), logger.Error(err))
				continue
			}
			report.Stored++
		}
	}

	report.Duration = e.now().Sub(start)
	metrics.RecordBackfillStored(report.Stored)
	e.logger.Info(ctx, "backfill complete",
		logger.Int64("principal_id", principalID),
		logger.Int("fetched", report.Fetched),
		logger.Int("stored", report.Stored),
		logger.Int("failed", report.Failed),
		logger.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) prepare(a model.Activity, principalID int64) model.Activity {
	if a.OwnerID == 0 {
		a.OwnerID = principalID
	}
	a.LastSyncedAt = e.now().UTC().Truncate(time.Second)
	return a
}

// upsert runs detached from ctx cancellation so a started write completes.
func (e *Engine) upsert(ctx context.Context, a model.Activity) error {
	wctx, cancel := e.writeContext(ctx)
	defer cancel()
	_, err := e.store.UpsertActivity(wctx, a)
	return err
}

func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
}

func (e *Engine) record(ctx context.Context, ev model.InboundEvent, r model.SyncResult, start time.Time) model.SyncResult {
	metrics.RecordSyncResult(string(r.Status), string(r.Reason))
	metrics.RecordSyncLatency(float64(e.now().Sub(start).Milliseconds()))

	fields := []logger.Field{
		logger.String("object_type", string(ev.ObjectType)),
		logger.Int64("object_id", ev.EntityID),
		logger.String("kind", string(ev.Kind)),
		logger.Int64("principal_id", ev.PrincipalID),
		logger.String("result", r.String()),
	}
	switch {
	case r.Status != model.StatusFailed:
		e.logger.Debug(ctx, "event processed", fields...)
	case r.Retryable():
		e.logger.Warn(ctx, "event failed, retryable", fields...)
	default:
		e.logger.Error(ctx, "event failed", fields...)
	}
	return r
}

// classify maps a remote error to a failed result.
func classify(err error) model.SyncResult {
	switch {
	case strava.IsRateLimit(err), strava.IsTransient(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		r := model.Failed(model.ReasonRetryable, err)
		r.RetryAfter = strava.RetryAfter(err)
		return r
	case strava.IsAuthentication(err):
		return model.Failed(model.ReasonAuthenticationFailed, err)
	case strava.IsAuthorization(err):
		return model.Failed(model.ReasonAuthorizationFailed, err)
	case errors.Is(err, strava.ErrUnknownPrincipal):
		return model.Failed(model.ReasonUnknownPrincipal, err)
	default:
		return model.Failed(model.ReasonUnexpected, err)
	}
}
