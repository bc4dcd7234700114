// Package engine runs the event pump: book events from every venue feed
// flow through the market state cache, touched pairs are rescanned for
// arbitrage, and detected opportunities are handed to a bounded pool of
// execution workers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/oddlotlabs/crossarb/internal/book"
	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/detector"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/executor"
	"github.com/oddlotlabs/crossarb/internal/metrics"
	"github.com/oddlotlabs/crossarb/internal/position"
	"github.com/oddlotlabs/crossarb/internal/venue"
)

// Config holds engine tunables.
type Config struct {
	EventBuffer     int           // feed event channel depth
	ExecutionSlots  int64         // max concurrent execution attempts
	MaxOrderSize    int64         // per-attempt contract cap
	MinEdgeCents    domain.Cents  // strict detection threshold
	MarkInterval    time.Duration // mark-to-model and mirror sync cadence
	CleanupInterval time.Duration // dedup garbage collection cadence
}

func (c *Config) fillDefaults() {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 4096
	}
	if c.ExecutionSlots <= 0 {
		c.ExecutionSlots = 4
	}
	if c.MaxOrderSize <= 0 {
		c.MaxOrderSize = 10
	}
	if c.MarkInterval <= 0 {
		c.MarkInterval = 15 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
}

// Engine wires the hot path together. One pump goroutine owns cache writes
// and detection; execution attempts run on pool workers.
type Engine struct {
	cfg     Config
	feeds   []venue.BookFeed
	cache   *book.Cache
	gate    *breaker.Breaker
	tracker *position.Tracker
	exec    *executor.Executor
	logger  *slog.Logger

	pairs   []domain.MarketPair
	byKey   map[domain.BookKey][]int // key -> indices into pairs
	slots   *semaphore.Weighted

	// Optional collaborators.
	mirror  domain.BookMirror
	bus     domain.SignalBus
	stats   *metrics.Metrics
	alerter Alerter
}

// Alerter receives detected opportunities for operator notification.
// Implemented by the notify package, which throttles delivery.
type Alerter interface {
	OpportunityDetected(ctx context.Context, opp domain.Opportunity)
}

// New builds an engine over a fixed pair universe. A nil executor runs the
// engine in observation mode: detection and publication without dispatch.
func New(
	cfg Config,
	feeds []venue.BookFeed,
	pairs []domain.MarketPair,
	cache *book.Cache,
	gate *breaker.Breaker,
	tracker *position.Tracker,
	exec *executor.Executor,
	logger *slog.Logger,
) *Engine {
	cfg.fillDefaults()
	e := &Engine{
		cfg:     cfg,
		feeds:   feeds,
		cache:   cache,
		gate:    gate,
		tracker: tracker,
		exec:    exec,
		logger:  logger.With(slog.String("component", "engine")),
		pairs:   pairs,
		byKey:   make(map[domain.BookKey][]int),
		slots:   semaphore.NewWeighted(cfg.ExecutionSlots),
	}
	for i, p := range pairs {
		for _, k := range p.Keys() {
			e.byKey[k] = append(e.byKey[k], i)
		}
	}
	return e
}

// SetBookMirror enables periodic best-effort mirroring of book views.
func (e *Engine) SetBookMirror(m domain.BookMirror) { e.mirror = m }

// SetSignalBus enables opportunity publication.
func (e *Engine) SetSignalBus(bus domain.SignalBus) { e.bus = bus }

// SetMetrics enables Prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.stats = m }

// SetAlerter enables operator notifications for detected opportunities.
func (e *Engine) SetAlerter(a Alerter) { e.alerter = a }

// Run starts the feeds, the pump, and the maintenance loop, and blocks
// until the context is cancelled or a feed fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		slog.Int("pairs", len(e.pairs)),
		slog.Int("feeds", len(e.feeds)),
		slog.Int64("execution_slots", e.cfg.ExecutionSlots),
	)

	events := make(chan domain.BookEvent, e.cfg.EventBuffer)
	g, ctx := errgroup.WithContext(ctx)

	for _, feed := range e.feeds {
		feed := feed
		g.Go(func() error {
			err := feed.Run(ctx, events)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed %s: %w", feed.Name(), err)
		})
	}

	g.Go(func() error {
		e.pump(ctx, events)
		return nil
	})

	g.Go(func() error {
		e.maintain(ctx)
		return nil
	})

	err := g.Wait()
	if err != nil {
		e.logger.Error("engine stopped with error", slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("engine stopped cleanly")
	return nil
}

// pump is the single cache writer. Every applied event triggers a rescan of
// the pairs whose books the event touched.
func (e *Engine) pump(ctx context.Context, events <-chan domain.BookEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := e.cache.Apply(ev); err != nil {
				switch {
				case errors.Is(err, domain.ErrStaleSequence):
					// Ordinary reconnect replay, drop quietly.
					if e.stats != nil {
						e.stats.StaleDrops.Inc()
					}
				case errors.Is(err, domain.ErrInvalidDelta):
					e.logger.Warn("malformed book event dropped",
						slog.String("key", ev.Key.String()),
						slog.Uint64("seq", ev.Seq),
						slog.String("error", err.Error()),
					)
				default:
					e.logger.Warn("book event rejected", slog.String("error", err.Error()))
				}
				continue
			}
			if e.stats != nil {
				e.stats.BookEvents.WithLabelValues(string(ev.Key.Venue)).Inc()
			}
			e.scanTouched(ctx, ev.Key)
		}
	}
}

// scanTouched rescans every pair the updated book participates in. A
// halted breaker only stops execution dispatch, not detection. When
// executing, sizing is capped at the breaker's remaining headroom so
// attempts are not detected larger than Authorize could grant; at zero
// headroom the scan is skipped until settlement frees capacity.
func (e *Engine) scanTouched(ctx context.Context, key domain.BookKey) {
	maxSize := e.cfg.MaxOrderSize
	if e.exec != nil {
		if headroom, limited := e.gate.SizeHeadroom(); limited && headroom < maxSize {
			maxSize = headroom
		}
		if maxSize <= 0 {
			return
		}
	}
	now := time.Now().UTC()
	for _, idx := range e.byKey[key] {
		pair := e.pairs[idx]
		scanStart := time.Now()
		opp, found := detector.Scan(pair, e.views(pair), detector.Config{MinEdge: e.cfg.MinEdgeCents}, maxSize, now)
		if e.stats != nil {
			e.stats.DetectSeconds.Observe(time.Since(scanStart).Seconds())
		}
		if !found {
			continue
		}
		if e.stats != nil {
			e.stats.Opportunities.WithLabelValues(string(opp.Strategy)).Inc()
		}
		e.publishOpportunity(ctx, opp)
		if e.alerter != nil {
			// Off the pump goroutine; senders do network I/O.
			go e.alerter.OpportunityDetected(ctx, opp)
		}
		if e.exec == nil || e.gate.Halted() {
			continue
		}
		e.dispatch(ctx, opp)
	}
}

// views collects the pair's current book snapshots. Missing books come back
// as zero views, which the detector treats as no quote.
func (e *Engine) views(pair domain.MarketPair) detector.Views {
	read := func(key domain.BookKey) domain.BookView {
		if key.IsZero() {
			return domain.BookView{}
		}
		view, err := e.cache.Read(key)
		if err != nil {
			return domain.BookView{}
		}
		return view
	}
	return detector.Views{
		YesA: read(pair.YesA),
		NoA:  read(pair.NoA),
		YesB: read(pair.YesB),
		NoB:  read(pair.NoB),
	}
}

// dispatch hands the opportunity to a pool worker. When every slot is busy
// the opportunity is dropped; the next book event re-detects it if the
// prices persist.
func (e *Engine) dispatch(ctx context.Context, opp domain.Opportunity) {
	if !e.slots.TryAcquire(1) {
		e.logger.Debug("execution pool saturated, dropping opportunity",
			slog.String("pair", opp.PairID),
		)
		if e.stats != nil {
			e.stats.ExecutionsDropped.Inc()
		}
		return
	}
	go func() {
		defer e.slots.Release(1)
		start := time.Now()
		rec, ran := e.exec.Execute(ctx, opp)
		if ran && e.stats != nil {
			e.stats.Executions.WithLabelValues(string(rec.State)).Inc()
			e.stats.ExecuteSeconds.Observe(time.Since(start).Seconds())
		}
	}()
}

func (e *Engine) publishOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(opp)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "opportunities", payload); err != nil {
		e.logger.Debug("opportunity publish failed", slog.String("error", err.Error()))
	}
}

// maintain runs the periodic chores: unrealized marks, dedup cleanup,
// mirror sync, and the UTC day roll for daily PnL accounting.
func (e *Engine) maintain(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MarkInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	day := time.Now().UTC().YearDay()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if e.exec != nil {
				e.exec.Cleanup()
			}
		case <-ticker.C:
			e.tracker.MarkToModel(e.cache.Read)
			e.syncMirror(ctx)
			e.updateGauges()
			if d := time.Now().UTC().YearDay(); d != day {
				day = d
				e.tracker.ResetDaily()
				e.gate.RollDay()
				e.logger.Info("daily pnl window rolled")
			}
		}
	}
}

func (e *Engine) updateGauges() {
	if e.stats == nil {
		return
	}
	state := e.gate.CurrentState()
	e.stats.BreakerStatus.Set(float64(state.Status))
	e.stats.ConsecutiveErrors.Set(float64(state.ConsecutiveErrors))
	e.stats.DailyPnLCents.Set(float64(e.tracker.DailyPnL()))
	e.stats.OpenContracts.Set(float64(e.tracker.TotalAbsContracts()))
}

func (e *Engine) syncMirror(ctx context.Context) {
	if e.mirror == nil {
		return
	}
	e.cache.Range(func(view domain.BookView) bool {
		if err := e.mirror.SetView(ctx, view); err != nil {
			e.logger.Debug("book mirror write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	})
}
