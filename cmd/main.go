package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/stravasync/internal/adapters/http/api"
	"github.com/okian/stravasync/internal/adapters/http/swagger"
	app "github.com/okian/stravasync/internal/app"
	"github.com/okian/stravasync/internal/config"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "stravasync exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logger.Get()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	if len(cfg.Principals) == 0 {
		log.Warn(ctx, "no principals configured; every event will fail as unknown principal")
	}

	svc := app.New(cfg, app.WithLogger(log.Named("service")))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startBackfillScheduler(ctx, svc, cfg.BackfillInterval)

	srv := newHTTPServer(ctx, cfg, svc)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newHTTPServer registers every route on a fresh mux.
func newHTTPServer(ctx context.Context, cfg *config.Config, deps api.Dependencies) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(deps,
		api.WithVerifyToken(cfg.VerifyToken),
		api.WithAdminToken(cfg.AdminToken),
		api.WithLogger(logger.Get().Named("api")),
	).Register(ctx, mux)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// backfiller is the part of the service the scheduler drives.
type backfiller interface {
	BackfillAll(ctx context.Context)
}

// startBackfillScheduler runs a backfill of every principal once at start and
// then every interval. A non-positive interval disables it.
func startBackfillScheduler(ctx context.Context, svc backfiller, interval time.Duration) {
	if interval <= 0 {
		return
	}
	svc.BackfillAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.BackfillAll(ctx)
		}
	}
}

// startSystemMetricsUpdater samples runtime stats every metrics refresh
// interval until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics publishes heap, goroutine and last GC pause figures.
func updateSystemMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC == 0 {
		return
	}
	last := time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	metrics.RecordSystemGCPauseTime(float64(last) / float64(time.Millisecond))
}
