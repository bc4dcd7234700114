// Package executor turns authorized opportunities into two-leg order
// submissions and drives each attempt through to a terminal state,
// reconciling stranded legs when only one side fills.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddlotlabs/crossarb/internal/book"
	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/position"
	"github.com/oddlotlabs/crossarb/internal/venue"
)

// Alerter delivers human-facing notifications for events that need operator
// attention. Implemented by the notify package.
type Alerter interface {
	ExecutionSettled(ctx context.Context, rec domain.ExecutionRecord)
	LegStranded(ctx context.Context, rec domain.ExecutionRecord)
}

// Config holds executor tunables.
type Config struct {
	LegTimeout  time.Duration // per-leg bound on waiting for a terminal fill
	DryRun      bool          // flag records as dry-run; callers wire simulated venues
	DedupTTL    time.Duration
	OrderLimit  int           // rate limit: orders per window per venue
	OrderWindow time.Duration
	PairLockTTL time.Duration
}

func (c *Config) fillDefaults() {
	if c.LegTimeout <= 0 {
		c.LegTimeout = 3 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.OrderWindow <= 0 {
		c.OrderWindow = time.Second
	}
	if c.PairLockTTL <= 0 {
		c.PairLockTTL = 10 * time.Second
	}
}

// Executor is the execution engine. It owns the full lifecycle of an
// attempt: rate limit and pair lock, breaker authorization, revalidation
// against the live cache, concurrent leg submission, classification, and
// reconciliation. Safe for concurrent use; attempts for distinct pairs run
// in parallel.
type Executor struct {
	cfg        Config
	router     venue.Router
	cache      *book.Cache
	gate       *breaker.Breaker
	tracker    *position.Tracker
	reconciler Reconciler
	dedup      *Dedup
	logger     *slog.Logger

	// Optional collaborators. Nil disables the concern.
	store   domain.ExecutionStore
	audit   domain.AuditStore
	bus     domain.SignalBus
	alerter Alerter
	limiter domain.RateLimiter
	locks   domain.LockManager
}

// New creates an executor. The reconciler decides what happens to a
// stranded leg; pass nil to accept exposure.
func New(
	cfg Config,
	router venue.Router,
	cache *book.Cache,
	gate *breaker.Breaker,
	tracker *position.Tracker,
	reconciler Reconciler,
	logger *slog.Logger,
) *Executor {
	cfg.fillDefaults()
	if reconciler == nil {
		reconciler = AcceptExposureReconciler{}
	}
	return &Executor{
		cfg:        cfg,
		router:     router,
		cache:      cache,
		gate:       gate,
		tracker:    tracker,
		reconciler: reconciler,
		dedup:      NewDedup(cfg.DedupTTL),
		logger:     logger.With(slog.String("component", "executor")),
	}
}

// SetStore enables execution record persistence.
func (e *Executor) SetStore(store domain.ExecutionStore) { e.store = store }

// SetAudit enables audit logging of reconciliations.
func (e *Executor) SetAudit(audit domain.AuditStore) { e.audit = audit }

// SetSignalBus enables publication of terminal records.
func (e *Executor) SetSignalBus(bus domain.SignalBus) { e.bus = bus }

// SetAlerter enables operator notifications.
func (e *Executor) SetAlerter(a Alerter) { e.alerter = a }

// SetRateLimiter enables distributed order rate limiting.
func (e *Executor) SetRateLimiter(l domain.RateLimiter) { e.limiter = l }

// SetLockManager enables cross-instance pair locking.
func (e *Executor) SetLockManager(l domain.LockManager) { e.locks = l }

// Cleanup expires stale dedup entries. Called periodically by the engine.
func (e *Executor) Cleanup() { e.dedup.Cleanup() }

// Execute runs one opportunity to a terminal state and returns the record.
// A false second return means the attempt was skipped before any exposure
// was taken (duplicate, rate limited, lock held, denied, or revalidation
// failed); skips are normal control flow, not errors.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionRecord, bool) {
	log := e.logger.With(
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.PairID),
		slog.String("strategy", string(opp.Strategy)),
	)

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "orders:"+string(opp.Leg1.Key.Venue), e.cfg.OrderLimit, e.cfg.OrderWindow)
		if err != nil {
			log.Warn("rate limiter unavailable, proceeding", slog.String("error", err.Error()))
		} else if !allowed {
			log.Debug("order rate limited, skipping")
			return domain.ExecutionRecord{}, false
		}
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "pair:"+opp.PairID, e.cfg.PairLockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				log.Warn("pair lock unavailable, proceeding", slog.String("error", err.Error()))
			} else {
				log.Debug("pair locked elsewhere, skipping")
				return domain.ExecutionRecord{}, false
			}
		} else {
			defer unlock()
		}
	}

	res, dec := e.gate.Authorize(opp)
	if !dec.Allowed {
		log.Debug("breaker denied", slog.String("reason", dec.Reason))
		return domain.ExecutionRecord{}, false
	}

	if !e.revalidate(opp) {
		e.gate.Release(res)
		log.Debug("opportunity gone on revalidation, skipping")
		return domain.ExecutionRecord{}, false
	}

	// Dedup only once the attempt is actually going to run. A skipped
	// attempt must not consume the fingerprint, or a transient failure
	// would suppress the same prices for the whole TTL.
	if e.dedup.IsDuplicate(Fingerprint(opp)) {
		e.gate.Release(res)
		log.Debug("duplicate opportunity, skipping")
		return domain.ExecutionRecord{}, false
	}

	rec := e.run(ctx, opp, res, log)
	e.report(ctx, rec, log)
	return rec, true
}

// revalidate re-reads both leg books and confirms the quoted asks are still
// present with enough size. The detector snapshot may be stale by the time
// the attempt is authorized.
func (e *Executor) revalidate(opp domain.Opportunity) bool {
	for _, leg := range [2]domain.OpportunityLeg{opp.Leg1, opp.Leg2} {
		view, err := e.cache.Read(leg.Key)
		if err != nil {
			return false
		}
		ask, ok := view.BestAsk()
		if !ok || ask.Price > leg.Price || ask.Size < opp.Size {
			return false
		}
	}
	return true
}

// run submits both legs concurrently and drives the attempt to a terminal
// state, settling the breaker reservation exactly once. Dry-run attempts
// take this same path; only the submitters differ.
func (e *Executor) run(ctx context.Context, opp domain.Opportunity, res *breaker.Reservation, log *slog.Logger) domain.ExecutionRecord {
	rec := domain.ExecutionRecord{
		ID:        uuid.New().String(),
		PairID:    opp.PairID,
		Strategy:  opp.Strategy,
		State:     domain.AttemptLegsSubmitted,
		EdgeCents: opp.Edge,
		Size:      opp.Size,
		DryRun:    e.cfg.DryRun,
		StartedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	fills := [2]domain.Fill{}
	legErrs := [2]error{}
	for i, leg := range [2]domain.OpportunityLeg{opp.Leg1, opp.Leg2} {
		wg.Add(1)
		go func(i int, leg domain.OpportunityLeg) {
			defer wg.Done()
			fills[i], legErrs[i] = e.submitLeg(ctx, leg, opp.Size)
		}(i, leg)
	}
	wg.Wait()
	rec.Leg1, rec.Leg2 = fills[0], fills[1]

	for i, err := range legErrs {
		if err != nil {
			log.Warn("leg submission error",
				slog.Int("leg", i+1),
				slog.String("venue", string(fills[i].Key.Venue)),
				slog.String("error", err.Error()),
			)
		}
	}

	// Book every contract that actually filled, then realize the matched
	// portion at the 100-cent settlement identity.
	var realized domain.Cents
	for _, f := range fills {
		if f.FilledSize > 0 {
			e.tracker.ApplyFill(f.Key, f.FilledSize, f.AvgPrice)
		}
	}
	matched := fills[0].FilledSize
	if fills[1].FilledSize < matched {
		matched = fills[1].FilledSize
	}
	if matched > 0 {
		realized += e.tracker.SettleMatched(fills[0].Key, fills[1].Key, matched)
	}

	switch {
	case matched == opp.Size:
		rec.State = domain.AttemptSettled
	case fills[0].FilledSize == 0 && fills[1].FilledSize == 0:
		rec.State = domain.AttemptFailed
	default:
		rec.State = domain.AttemptReconciling
		outcome, reconRealized := e.reconcile(ctx, &rec, fills, matched, log)
		rec.Reconcile = outcome
		realized += reconRealized
		rec.State = domain.AttemptSettled
	}

	rec.RealizedCents = realized
	rec.CompletedAt = time.Now().UTC()

	e.gate.RecordOutcome(res, breaker.Outcome{
		OK:       matched == opp.Size,
		Err:      legFailure(fills, matched, opp.Size),
		PnLCents: realized,
	})
	return rec
}

// submitLeg places one buy order and waits for its terminal fill, bounded
// by the leg timeout. A venue error is returned alongside a zero fill so
// classification treats it as an unfilled leg.
func (e *Executor) submitLeg(ctx context.Context, leg domain.OpportunityLeg, size int64) (domain.Fill, error) {
	sub, ok := e.router.SubmitterFor(leg.Key.Venue)
	if !ok {
		return domain.Fill{Key: leg.Key, Side: domain.OrderSideBuy, Status: domain.OrderStatusRejected},
			fmt.Errorf("no submitter for venue %q: %w", leg.Key.Venue, domain.ErrVenueDown)
	}
	legCtx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
	defer cancel()
	fill, err := sub.SubmitOrder(legCtx, domain.OrderRequest{
		ClientID: uuid.New().String(),
		Key:      leg.Key,
		Side:     domain.OrderSideBuy,
		Price:    leg.Price,
		Size:     size,
	})
	if err != nil {
		return domain.Fill{Key: leg.Key, Side: domain.OrderSideBuy, Status: domain.OrderStatusRejected}, err
	}
	return fill, nil
}

// reconcile resolves the unmatched excess on whichever leg over-filled.
// Exactly one reconciliation decision is made per attempt.
func (e *Executor) reconcile(ctx context.Context, rec *domain.ExecutionRecord, fills [2]domain.Fill, matched int64, log *slog.Logger) (domain.ReconcileOutcome, domain.Cents) {
	stranded := fills[0]
	if fills[1].FilledSize > fills[0].FilledSize {
		stranded = fills[1]
	}
	excess := stranded.FilledSize - matched

	log.Warn("leg stranded, reconciling",
		slog.String("venue", string(stranded.Key.Venue)),
		slog.String("market", stranded.Key.MarketID),
		slog.Int64("excess", excess),
	)

	outcome, realized, err := e.reconciler.Reconcile(ctx, stranded, excess)
	if err != nil {
		log.Error("reconciliation failed, accepting exposure", slog.String("error", err.Error()))
		outcome = domain.ReconcileExposureAccepted
	}

	if e.audit != nil {
		payload := map[string]any{
			"execution_id": rec.ID,
			"pair_id":      rec.PairID,
			"venue":        string(stranded.Key.Venue),
			"market_id":    stranded.Key.MarketID,
			"excess":       excess,
			"outcome":      string(outcome),
		}
		if err := e.audit.Log(ctx, "leg_reconciled", payload); err != nil {
			log.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	if e.alerter != nil {
		e.alerter.LegStranded(ctx, *rec)
	}
	return outcome, realized
}

// legFailure maps fill shortfalls to the recoverable error the breaker
// counts. nil when both legs filled in full.
func legFailure(fills [2]domain.Fill, matched, want int64) error {
	if matched == want {
		return nil
	}
	for _, f := range fills {
		if f.Status == domain.OrderStatusTimedOut {
			return domain.ErrLegTimedOut
		}
	}
	return domain.ErrLegRejected
}

// report persists, publishes, and notifies for a terminal record. All
// sinks are best-effort; failures are logged and do not affect the attempt.
func (e *Executor) report(ctx context.Context, rec domain.ExecutionRecord, log *slog.Logger) {
	log.Info("execution complete",
		slog.String("execution_id", rec.ID),
		slog.String("state", string(rec.State)),
		slog.Int64("size", rec.Size),
		slog.Int64("realized_cents", int64(rec.RealizedCents)),
		slog.Bool("dry_run", rec.DryRun),
	)

	if e.store != nil {
		if err := e.store.Create(ctx, rec); err != nil {
			log.Warn("execution record persist failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := e.bus.Publish(ctx, "executions", payload); err != nil {
				log.Warn("execution publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if e.alerter != nil && rec.State == domain.AttemptSettled && rec.Reconcile == domain.ReconcileNone && !rec.DryRun {
		e.alerter.ExecutionSettled(ctx, rec)
	}
}
