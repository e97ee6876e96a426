package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/solturn/yieldbridge/internal/blob/s3"
	"github.com/solturn/yieldbridge/internal/notify"
	"github.com/solturn/yieldbridge/internal/server"
	"github.com/solturn/yieldbridge/internal/server/handler"
	"github.com/solturn/yieldbridge/internal/server/ws"
	"github.com/solturn/yieldbridge/internal/service"
	"github.com/solturn/yieldbridge/internal/watcher"
)

// WatcherMode runs the background half of the service: the deposit and
// withdrawal sweep, earnings refresh, cold archival, and notifications. No
// HTTP API is served.
func (a *App) WatcherMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watcher mode")

	g, ctx := errgroup.WithContext(ctx)
	orch := a.buildOrchestrator(deps)

	a.startBackgroundJobs(ctx, g, deps, orch)

	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket feed only. A separate watcher
// instance is expected to drive position lifecycles.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	orch := a.buildOrchestrator(deps)

	a.startHTTPServer(ctx, g, deps, orch)
	a.startNotifyListener(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything in one process: watcher, earnings refresh,
// archival, notifications, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	orch := a.buildOrchestrator(deps)

	a.startBackgroundJobs(ctx, g, deps, orch)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch)
	}

	return g.Wait()
}

// buildOrchestrator assembles the position orchestrator from wired
// dependencies and configuration.
func (a *App) buildOrchestrator(deps *Dependencies) *service.Orchestrator {
	return service.NewOrchestrator(
		deps.PositionStore,
		deps.AuditStore,
		deps.QuoteCache,
		deps.SignalBus,
		deps.Providers.Bridge,
		deps.Providers.Pool,
		a.cfg.Pool.DefaultPoolID,
		a.cfg.Watcher.AmountTolerancePercent,
		a.cfg.Bridge.QuoteTTL.Duration,
		a.logger,
	)
}

// startBackgroundJobs adds the watcher sweep, earnings refresher, archiver,
// and notification listener to the errgroup.
func (a *App) startBackgroundJobs(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *service.Orchestrator) {
	w := watcher.New(
		deps.PositionStore,
		orch,
		deps.Providers.Detector,
		deps.Providers.Bridge,
		deps.LockManager,
		deps.Metrics,
		watcher.Config{
			SweepInterval: a.cfg.Watcher.SweepInterval.Duration,
			MaxPendingAge: a.cfg.Watcher.MaxPendingAge.Duration,
			LockTTL:       a.cfg.Watcher.LockTTL.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		return w.Run(ctx)
	})

	refresher := service.NewEarningsRefresher(orch, deps.PositionStore, a.cfg.Watcher.EarningsInterval.Duration, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	retention := time.Duration(a.cfg.S3.ArchiveAfterDays) * 24 * time.Hour
	archiver := s3blob.NewArchiver(
		deps.BlobWriter,
		deps.PositionStore,
		deps.AuditStore,
		deps.Metrics,
		retention,
		a.cfg.S3.ArchiveInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return archiver.Run(ctx)
	})

	a.startNotifyListener(ctx, g, deps)
}

// startNotifyListener forwards position lifecycle events to the configured
// notification channels.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	listener := notify.NewListener(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return listener.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup and
// arranges graceful shutdown on context cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *service.Orchestrator) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Quotes:      handler.NewQuoteHandler(orch, a.logger),
		Positions:   handler.NewPositionHandler(orch, deps.QuoteCache, a.logger),
		Withdrawals: handler.NewWithdrawalHandler(orch, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
