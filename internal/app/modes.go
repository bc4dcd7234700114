package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/engine"
	"github.com/oddlotlabs/crossarb/internal/executor"
	"github.com/oddlotlabs/crossarb/internal/metrics"
	"github.com/oddlotlabs/crossarb/internal/server"
	"github.com/oddlotlabs/crossarb/internal/server/handler"
	"github.com/oddlotlabs/crossarb/internal/venue"
	"github.com/oddlotlabs/crossarb/internal/venue/kalshi"
	"github.com/oddlotlabs/crossarb/internal/venue/polymarket"
	"github.com/oddlotlabs/crossarb/internal/venue/sim"
)

const snapshotInterval = time.Minute

// liveMode trades against real venues. Order submitters must have been
// registered for every venue in the pair universe. With executor.dry_run
// set, orders route to simulated venues instead while the rest of the
// pipeline runs unchanged.
func (a *App) liveMode(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Executor.DryRun {
		exec := a.buildExecutor(deps, a.simRouter(deps), true)
		return a.runEngine(ctx, deps, a.marketFeeds(), exec)
	}
	router := venue.StaticRouter{}
	for v, s := range a.submitters {
		router[v] = s
	}
	for _, pair := range deps.Pairs {
		for _, key := range pair.Keys() {
			if _, ok := router[key.Venue]; !ok {
				return fmt.Errorf("app: live mode: no order submitter registered for venue %q", key.Venue)
			}
		}
	}
	exec := a.buildExecutor(deps, router, false)
	return a.runEngine(ctx, deps, a.marketFeeds(), exec)
}

// dryRunMode runs the full pipeline with fills simulated in process. Real
// market data drives detection unless synthetic opportunities are enabled.
func (a *App) dryRunMode(ctx context.Context, deps *Dependencies) error {
	feeds := a.marketFeeds()
	if a.cfg.Engine.Synthetic {
		feeds = []venue.BookFeed{
			sim.NewFeed(deps.Pairs, time.Second, time.Now().UnixNano(), a.logger),
		}
	}

	exec := a.buildExecutor(deps, a.simRouter(deps), true)
	return a.runEngine(ctx, deps, feeds, exec)
}

// simRouter builds one in-process simulated venue per venue in the pair
// universe.
func (a *App) simRouter(deps *Dependencies) venue.StaticRouter {
	router := venue.StaticRouter{}
	for _, pair := range deps.Pairs {
		for _, key := range pair.Keys() {
			if _, ok := router[key.Venue]; !ok {
				router[key.Venue] = sim.New(key.Venue, 50*time.Millisecond, a.logger)
			}
		}
	}
	return router
}

// monitorMode observes markets and publishes detected opportunities without
// ever submitting an order.
func (a *App) monitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runEngine(ctx, deps, a.marketFeeds(), nil)
}

// marketFeeds builds the venue feed set from the configured pairs.
func (a *App) marketFeeds() []venue.BookFeed {
	var feeds []venue.BookFeed

	var tickers []string
	for _, p := range a.cfg.Pairs {
		if p.KalshiMarket != "" {
			tickers = append(tickers, p.KalshiMarket)
		}
	}
	if len(tickers) > 0 {
		feeds = append(feeds, kalshi.NewFeed(a.cfg.Kalshi.WsURL, tickers, a.logger))
	}

	var bindings []polymarket.AssetBinding
	for _, p := range a.cfg.Pairs {
		if p.PolyYesToken == "" || p.PolyNoToken == "" {
			continue
		}
		bindings = append(bindings,
			polymarket.AssetBinding{TokenID: p.PolyYesToken, Key: polyKey(p.ID, true)},
			polymarket.AssetBinding{TokenID: p.PolyNoToken, Key: polyKey(p.ID, false)},
		)
	}
	if len(bindings) > 0 {
		feeds = append(feeds, polymarket.NewFeed(a.cfg.Polymarket.WsURL, bindings, a.logger))
	}
	return feeds
}

func (a *App) buildExecutor(deps *Dependencies, router venue.Router, dryRun bool) *executor.Executor {
	var reconciler executor.Reconciler
	if a.cfg.Executor.ReconcilePolicy == "offset" {
		reconciler = executor.OffsetReconciler{
			Router:  router,
			Cache:   deps.Cache,
			Tracker: deps.Tracker,
			Timeout: a.cfg.Executor.LegTimeout.Duration,
			Logger:  a.logger,
		}
	}

	exec := executor.New(executor.Config{
		LegTimeout:  a.cfg.Executor.LegTimeout.Duration,
		DryRun:      dryRun,
		DedupTTL:    a.cfg.Executor.DedupTTL.Duration,
		OrderLimit:  a.cfg.Executor.OrderRateLimit,
		OrderWindow: a.cfg.Executor.OrderRateWindow.Duration,
		PairLockTTL: a.cfg.Executor.PairLockTTL.Duration,
	}, router, deps.Cache, deps.Gate, deps.Tracker, reconciler, a.logger)

	if deps.Executions != nil {
		exec.SetStore(deps.Executions)
	}
	if deps.Audit != nil {
		exec.SetAudit(deps.Audit)
	}
	if deps.SignalBus != nil {
		exec.SetSignalBus(deps.SignalBus)
	}
	if deps.RateLimiter != nil {
		exec.SetRateLimiter(deps.RateLimiter)
	}
	if deps.LockManager != nil {
		exec.SetLockManager(deps.LockManager)
	}
	exec.SetAlerter(deps.Alerter)
	return exec
}

// runEngine starts the engine plus the periodic background chores and blocks
// until the context is cancelled.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, feeds []venue.BookFeed, exec *executor.Executor) error {
	eng := engine.New(engine.Config{
		EventBuffer:    a.cfg.Engine.EventBuffer,
		ExecutionSlots: a.cfg.Engine.ExecutionSlots,
		MaxOrderSize:   a.cfg.Detector.MaxOrderSize,
		MinEdgeCents:   domain.Cents(a.cfg.Detector.MinEdgeCents),
		MarkInterval:   a.cfg.Engine.MarkInterval.Duration,
	}, feeds, deps.Pairs, deps.Cache, deps.Gate, deps.Tracker, exec, a.logger)

	if deps.BookMirror != nil {
		eng.SetBookMirror(deps.BookMirror)
	}
	if deps.SignalBus != nil {
		eng.SetSignalBus(deps.SignalBus)
	}
	if deps.Alerter != nil {
		eng.SetAlerter(deps.Alerter)
	}
	if deps.Metrics != nil {
		eng.SetMetrics(deps.Metrics)
		metrics.Serve(ctx, fmt.Sprintf(":%d", a.cfg.Metrics.Port), deps.Metrics, a.logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:     handler.NewHealthHandler(),
			Status:     &handler.StatusHandler{Mode: a.cfg.Mode, Gate: deps.Gate, Tracker: deps.Tracker},
			Positions:  &handler.PositionHandler{Tracker: deps.Tracker},
			Executions: &handler.ExecutionHandler{Store: deps.Executions},
			Breaker:    &handler.BreakerHandler{Gate: deps.Gate, Audit: deps.Audit},
		}, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if deps.Positions != nil {
		g.Go(func() error {
			a.snapshotLoop(ctx, deps)
			return nil
		})
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			a.archiveLoop(ctx, deps)
			return nil
		})
	}
	return g.Wait()
}

// polyKey mirrors config.MarketPairs: Polymarket books are keyed by the
// pair ID, not the venue token.
func polyKey(pairID string, yes bool) domain.BookKey {
	outcome := domain.OutcomeYes
	if !yes {
		outcome = domain.OutcomeNo
	}
	return domain.BookKey{Venue: domain.VenuePolymarket, MarketID: pairID, Outcome: outcome}
}

// snapshotLoop periodically persists the position book so a restart can
// recover exposure.
func (a *App) snapshotLoop(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions := deps.Tracker.Snapshot()
			if err := deps.Positions.SaveSnapshot(ctx, time.Now().UTC(), positions); err != nil {
				a.logger.Warn("position snapshot save failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveLoop compacts aged executions and audit rows into blob storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if err := deps.Archiver.ArchiveBefore(ctx, cutoff); err != nil {
				a.logger.Warn("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
