// Package service wires the sync pipeline together and implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/okian/stravasync/internal/adapters/mq/worker"
	"github.com/okian/stravasync/internal/adapters/notify"
	"github.com/okian/stravasync/internal/adapters/repository"
	"github.com/okian/stravasync/internal/adapters/strava"
	"github.com/okian/stravasync/internal/config"
	"github.com/okian/stravasync/internal/domain/dedupe"
	"github.com/okian/stravasync/internal/domain/dispatch"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/internal/domain/syncer"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

const (
	defaultRetryBase = time.Second
	notifyBurst      = 5
	backfillLimit    = 0 // unbounded, the lookback window limits a run
)

// Service owns every pipeline component for the lifetime of the process.
type Service struct {
	mu      sync.RWMutex
	cfg     *config.Config
	started bool

	store      repository.Store
	notifier   notify.Notifier
	httpClient *http.Client
	retryBase  time.Duration

	client     *strava.Client
	deduper    dedupe.Deduper
	dispatcher *dispatch.Dispatcher
	engine     *syncer.Engine
	pool       *worker.Pool

	// backfills run detached from requests and stop on shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc
	backfills sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service from cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:       cfg,
		retryBase: defaultRetryBase,
		logger:    logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, restores credentials and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting sync service...")

	if s.store == nil {
		st, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN,
			repository.WithOperationTimeout(cfg.StoreTimeout))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
	}

	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}

	clientOpts := []strava.Option{
		strava.WithBaseURL(cfg.APIBaseURL),
		strava.WithTokenURL(cfg.APITokenURL),
		strava.WithTimeout(cfg.APITimeout),
		strava.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
		strava.WithRefreshMargin(cfg.RefreshMargin),
		strava.WithCacheTTL(cfg.ActivityCacheTTL),
		strava.WithOnRefresh(s.store.SaveCredential),
	}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, strava.WithHTTPClient(s.httpClient))
	}
	s.client = strava.New(cfg.ClientID, cfg.ClientSecret, creds, clientOpts...)

	if s.notifier == nil {
		s.notifier = s.newNotifier()
	}
	s.dispatcher = dispatch.New(s.notifier, cfg.ModelPrincipals(),
		dispatch.WithTTL(cfg.NotifyTTL),
		dispatch.WithCleanupInterval(cfg.CacheCleanupInterval),
		dispatch.WithRate(rate.Limit(cfg.NotifyRate), notifyBurst),
	)
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(cfg.DedupeSize),
		dedupe.WithTTL(cfg.DedupeTTL),
		dedupe.WithCleanupInterval(cfg.CacheCleanupInterval),
	)
	s.engine = syncer.New(s.client, s.store,
		syncer.WithDeduper(s.deduper),
		syncer.WithNotifier(s.dispatcher),
		syncer.WithWriteTimeout(cfg.StoreTimeout),
	)
	s.pool = worker.NewPool(cfg.WorkerCount, cfg.EventQueueSize, s.engine,
		worker.WithRecorder(s.store),
		worker.WithUnrecorder(s.deduper),
		worker.WithRetry(cfg.RetryMaxAttempts, s.retryBase, cfg.RetryMaxBackoff),
	)

	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.pool.Start(s.runCtx)
	s.started = true

	s.logger.Info(ctx, "sync service started",
		logger.Int("workers", cfg.WorkerCount),
		logger.Int("queue_size", s.pool.Capacity()),
		logger.Int("principals", len(creds)),
		logger.String("store", cfg.StoreDriver),
	)
	return nil
}

// credentials merges configured credentials with the stored ones. A stored
// pair wins when it expires later, which is the case after any refresh.
func (s *Service) credentials(ctx context.Context) ([]model.Credential, error) {
	configured := s.cfg.Credentials()
	stored, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	byID := make(map[int64]model.Credential, len(stored))
	for _, c := range stored {
		byID[c.PrincipalID] = c
	}
	for i, c := range configured {
		if st, ok := byID[c.PrincipalID]; ok && st.ExpiresAt.After(c.ExpiresAt) {
			configured[i] = st
		}
	}
	return configured, nil
}

func (s *Service) newNotifier() notify.Notifier {
	cfg := s.cfg
	if cfg.NotifyProvider != "brevo" {
		return notify.NewLog(s.logger.Named("notify"))
	}
	opts := []notify.Option{
		notify.WithBaseURL(cfg.BrevoBaseURL),
		notify.WithSender(cfg.SenderEmail, cfg.SenderName),
	}
	if s.httpClient != nil {
		opts = append(opts, notify.WithHTTPClient(s.httpClient))
	}
	return notify.NewBrevo(cfg.BrevoAPIKey, opts...)
}

// Shutdown drains queued events, waits for backfills and pending
// notifications, then closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping sync service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	s.runCancel()
	s.backfills.Wait()
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	// a restarted service reopens the store from config
	s.store = nil

	s.started = false
	s.logger.Info(ctx, "sync service stopped", logger.Int64("processed", s.pool.Processed()))
	return errors.Join(errs...)
}

// Started reports whether Start has completed and Shutdown has not.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Clear forgets every recorded delivery.
func (s *Service) Clear() {
	s.deduper.Clear()
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits an event for asynchronous processing.
func (s *Service) Enqueue(ctx context.Context, e model.InboundEvent) bool {
	if !s.Started() {
		return false
	}
	return s.pool.Enqueue(ctx, e)
}

// GetActivity returns the stored activity with id.
func (s *Service) GetActivity(ctx context.Context, id int64) (model.Activity, bool, error) {
	a, err := s.store.GetActivity(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Activity{}, false, nil
	}
	if err != nil {
		return model.Activity{}, false, err
	}
	return a, true, nil
}

// Totals aggregates the stored activities of ownerID.
func (s *Service) Totals(ctx context.Context, ownerID int64) (model.Totals, error) {
	return s.store.Totals(ctx, ownerID)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if !s.Started() {
		return ErrNotStarted
	}
	return s.store.Ping(ctx)
}

// ClearWebhookCache forgets every delivery fingerprint.
func (s *Service) ClearWebhookCache() {
	s.deduper.Clear()
	s.logger.Info(context.Background(), "webhook cache cleared")
}

// ClearNotificationCache forgets every sent notification key.
func (s *Service) ClearNotificationCache() {
	s.dispatcher.Clear()
	s.logger.Info(context.Background(), "notification cache cleared")
}

// Refresh re-fetches one activity bypassing the activity cache and the
// delivery deduper, and stores it synchronously.
func (s *Service) Refresh(ctx context.Context, principalID, activityID int64) model.SyncResult {
	if !s.Started() {
		return model.Failed(model.ReasonUnexpected, ErrNotStarted)
	}
	now := time.Now()
	return s.engine.Sync(ctx, model.InboundEvent{
		DeliveryID:  uuid.NewString(),
		ObjectType:  model.ObjectActivity,
		EntityID:    activityID,
		PrincipalID: principalID,
		Kind:        model.KindUpdated,
		EventTime:   now.Truncate(time.Second),
		ReceivedAt:  now,
	})
}

// StartBackfill runs a backfill of principalID in the background.
func (s *Service) StartBackfill(principalID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotStarted
	}
	if !s.client.Known(principalID) {
		return fmt.Errorf("principal %d: %w", principalID, strava.ErrUnknownPrincipal)
	}
	s.backfills.Add(1)
	go func() {
		defer s.backfills.Done()
		s.backfill(s.runCtx, principalID)
	}()
	return nil
}

// BackfillAll backfills every known principal in turn and returns when done.
func (s *Service) BackfillAll(ctx context.Context) {
	if !s.Started() {
		return
	}
	for _, c := range s.client.Credentials() {
		if ctx.Err() != nil {
			return
		}
		s.backfill(ctx, c.PrincipalID)
	}
}

func (s *Service) backfill(ctx context.Context, principalID int64) {
	after := time.Now().Add(-s.cfg.BackfillLookback)
	if _, err := s.engine.Backfill(ctx, principalID, after, backfillLimit); err != nil {
		s.logger.Warn(ctx, "backfill stopped", logger.Int64("principal_id", principalID), logger.Error(err))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	queueLen := s.pool.Len(ctx)
	stats["queueLength"] = queueLen
	stats["processed"] = s.pool.Processed()
	stats["webhookCacheEntries"] = s.deduper.Size()
	stats["notificationCacheEntries"] = s.dispatcher.Size()
	stats["principals"] = len(s.client.Credentials())
	if n, err := s.store.CountActivities(ctx); err == nil {
		stats["storedActivities"] = n
		metrics.UpdateStoredActivities(int(n))
	}
	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.cfg.WorkerCount)
	return stats
}
