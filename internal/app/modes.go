package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/server"
	"github.com/quantrail/alertledger/internal/server/handler"
	"github.com/quantrail/alertledger/internal/server/ws"
	"github.com/quantrail/alertledger/internal/service"
)

// services bundles the domain services built on top of the wired
// dependencies.
type services struct {
	allocator *service.AllocatorService
	valuation *service.ValuationService
	snapshot  *service.SnapshotService
}

// buildServices constructs the allocator, valuation, and snapshot services
// from the wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	allocator := service.NewAllocatorService(
		deps.LedgerStore, deps.PoolStore, deps.PriceSource, deps.EventBus, a.logger,
	)
	valuation := service.NewValuationService(
		allocator, deps.LedgerStore, deps.PoolStore, deps.PriceSource,
		deps.SnapshotStore, a.logger,
	)
	snapshot := service.NewSnapshotService(
		valuation, deps.SnapshotStore, deps.Archiver, a.logger,
	)
	return &services{
		allocator: allocator,
		valuation: valuation,
		snapshot:  snapshot,
	}
}

// ServeMode runs the HTTP + WebSocket API server only. Snapshot
// materialization is expected to run elsewhere (a materialize-mode replica or
// a manual trigger through the admin API).
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// MaterializeMode runs only the periodic snapshot job. Multiple replicas may
// run this mode concurrently; the distributed lock ensures a single writer
// per cycle, and the (pool, date) uniqueness makes overlap harmless anyway.
func (a *App) MaterializeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting materialize mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	g.Go(func() error {
		return a.runSnapshotJob(ctx, deps, svcs)
	})

	return g.Wait()
}

// FullMode runs the API server and the snapshot job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Snapshot.Enabled {
		g.Go(func() error {
			return a.runSnapshotJob(ctx, deps, svcs)
		})
	}

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// snapshotLockKey guards a materialization cycle across replicas.
const snapshotLockKey = "snapshot:daily"

// runSnapshotJob materializes a snapshot for every pool once immediately and
// then on every interval tick. Each cycle runs under a distributed lock so
// only one replica does the work; losing the lock race skips the cycle.
func (a *App) runSnapshotJob(ctx context.Context, deps *Dependencies, svcs *services) error {
	interval := a.cfg.Snapshot.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	a.runSnapshotCycle(ctx, deps, svcs)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runSnapshotCycle(ctx, deps, svcs)
		}
	}
}

// runSnapshotCycle materializes today's snapshot for every pool under the
// distributed lock. Failures are logged and retried on the next tick, never
// fatal: a missed day is reconstructed by carry-forward on read.
func (a *App) runSnapshotCycle(ctx context.Context, deps *Dependencies, svcs *services) {
	unlock, err := deps.LockManager.Acquire(ctx, snapshotLockKey, a.cfg.Snapshot.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "snapshot cycle skipped, lock held elsewhere")
			return
		}
		a.logger.WarnContext(ctx, "snapshot lock acquire failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	now := time.Now().UTC()
	for _, pool := range domain.Pools {
		if err := svcs.snapshot.MaterializeDaily(ctx, pool, now); err != nil {
			a.logger.ErrorContext(ctx, "snapshot materialization failed",
				slog.String("pool", string(pool)),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "snapshot materialized",
			slog.String("pool", string(pool)),
			slog.String("date", now.Format("2006-01-02")),
		)
	}
}

// startHTTPServer adds the API server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Portfolio: handler.NewPortfolioHandler(svcs.valuation, svcs.snapshot, a.logger),
		Positions: handler.NewPositionHandler(svcs.allocator, a.logger),
		Fills:     handler.NewFillHandler(svcs.allocator, a.logger),
		Admin:     handler.NewAdminHandler(svcs.allocator, deps.PoolStore, svcs.snapshot, a.logger),
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.Server.RateLimit > 0 {
		srvCfg.Limiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit
		srvCfg.RateLimitWindow = a.cfg.Server.RateLimitWindow.Duration
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
