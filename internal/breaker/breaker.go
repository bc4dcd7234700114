// Package breaker implements the risk gate supervising execution. It is a
// small state machine (Normal, Cooldown, Halted) consulted immediately
// before every order placement and updated after every outcome.
//
// Authorize reserves exposure headroom under a single lock, so two
// concurrently authorized opportunities can never jointly exceed a position
// limit: the check and the reservation are atomic with respect to every
// other Authorize call.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Status is the breaker's coarse state.
type Status int32

const (
	StatusNormal Status = iota
	StatusCooldown
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusCooldown:
		return "cooldown"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Config holds the breaker limits. Zero-valued limits are treated as
// unlimited except MaxConsecutiveErrors, where zero halts on the first
// unrecovered error streak of length one.
type Config struct {
	MaxPositionPerMarket int64
	MaxTotalPosition     int64
	// MaxDailyLossCents bounds the UTC-day loss accumulator. Losses are
	// counted from realized settlement P&L, which excludes venue fees, so
	// the true daily loss runs slightly ahead of the accumulator.
	MaxDailyLossCents    int64
	MaxConsecutiveErrors int
	Cooldown             time.Duration
}

// PositionReader supplies current exposure. Implemented by the position
// tracker.
type PositionReader interface {
	NetContracts(key domain.BookKey) int64
	TotalAbsContracts() int64
}

// State is a read-only snapshot of the breaker for reporting.
type State struct {
	Status            Status
	ConsecutiveErrors int
	DailyLossCents    domain.Cents
	TrippedAt         time.Time
	CooldownUntil     time.Time
}

// Decision is the gate verdict. Deny is normal control flow, not an error.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, a ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, a...)}
}

// Reservation is the exposure hold created by a successful Authorize. It
// must be settled exactly once via RecordOutcome.
type Reservation struct {
	keys  [2]domain.BookKey
	size  int64
	freed bool
}

// Outcome reports how an authorized execution ended.
type Outcome struct {
	OK       bool
	Err      error        // non-nil for recoverable execution errors
	PnLCents domain.Cents // realized; negative values feed the loss accumulator
}

// Breaker is the circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg       Config
	positions PositionReader
	now       func() time.Time
	logger    *slog.Logger

	mu                sync.Mutex
	status            Status
	cooldownUntil     time.Time
	trippedAt         time.Time
	consecutiveErrors int
	dailyLoss         domain.Cents
	reservedByKey     map[domain.BookKey]int64
	reservedTotal     int64

	onTransition func(from, to Status, reason string)
}

// New creates a breaker in the Normal state.
func New(cfg Config, positions PositionReader, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:           cfg,
		positions:     positions,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "breaker")),
		reservedByKey: make(map[domain.BookKey]int64),
	}
}

// SetClock overrides the time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

// OnTransition registers a callback invoked (outside the lock is not
// guaranteed; keep it cheap) on every state change.
func (b *Breaker) OnTransition(f func(from, to Status, reason string)) { b.onTransition = f }

// Authorize decides whether the opportunity may be executed. On Allow it
// reserves the opportunity's exposure; the caller must settle the
// reservation with RecordOutcome exactly once, whatever happens.
func (b *Breaker) Authorize(opp domain.Opportunity) (*Reservation, Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.maybeRecoverLocked(now)

	switch b.status {
	case StatusHalted:
		return nil, deny("halted since %s", b.trippedAt.Format(time.RFC3339))
	case StatusCooldown:
		return nil, deny("cooling down until %s", b.cooldownUntil.Format(time.RFC3339))
	}

	if b.cfg.MaxDailyLossCents > 0 && int64(b.dailyLoss) > b.cfg.MaxDailyLossCents {
		b.tripLocked(StatusHalted, "daily loss limit exceeded")
		return nil, deny("daily loss %d exceeds max %d", b.dailyLoss, b.cfg.MaxDailyLossCents)
	}

	keys := [2]domain.BookKey{opp.Leg1.Key, opp.Leg2.Key}
	if b.cfg.MaxPositionPerMarket > 0 {
		for _, key := range keys {
			projected := abs(b.positions.NetContracts(key)) + b.reservedByKey[key] + opp.Size
			if projected > b.cfg.MaxPositionPerMarket {
				return nil, deny("market %s projected position %d exceeds max %d", key, projected, b.cfg.MaxPositionPerMarket)
			}
		}
	}
	if b.cfg.MaxTotalPosition > 0 {
		projected := b.positions.TotalAbsContracts() + b.reservedTotal + 2*opp.Size
		if projected > b.cfg.MaxTotalPosition {
			return nil, deny("projected total position %d exceeds max %d", projected, b.cfg.MaxTotalPosition)
		}
	}

	res := &Reservation{keys: keys, size: opp.Size}
	for _, key := range keys {
		b.reservedByKey[key] += opp.Size
	}
	b.reservedTotal += 2 * opp.Size
	return res, allow()
}

// RecordOutcome releases the reservation and updates the breaker counters.
// A successful outcome resets the error streak; a recoverable error enters
// Cooldown, or Halted once the streak exceeds the configured maximum.
func (b *Breaker) RecordOutcome(res *Reservation, out Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseLocked(res)

	if out.PnLCents < 0 {
		b.dailyLoss += -out.PnLCents
	}

	switch {
	case out.OK:
		b.consecutiveErrors = 0
	case out.Err != nil:
		b.consecutiveErrors++
		if b.consecutiveErrors > b.cfg.MaxConsecutiveErrors {
			b.tripLocked(StatusHalted, fmt.Sprintf("consecutive errors %d exceed max %d", b.consecutiveErrors, b.cfg.MaxConsecutiveErrors))
		} else if b.status != StatusHalted {
			// An error during an active cooldown restarts the window.
			b.cooldownUntil = b.now().Add(b.cfg.Cooldown)
			if b.status == StatusNormal {
				b.tripLocked(StatusCooldown, out.Err.Error())
			}
		}
	}

	if b.cfg.MaxDailyLossCents > 0 && int64(b.dailyLoss) > b.cfg.MaxDailyLossCents && b.status != StatusHalted {
		b.tripLocked(StatusHalted, "daily loss limit exceeded")
	}
}

// RollDay clears the daily-loss accumulator at the UTC day boundary. A halt
// stays in force; only the loss window restarts.
func (b *Breaker) RollDay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyLoss = 0
}

// Release abandons a reservation without recording an outcome. Used when an
// authorized opportunity is dropped before submission (failed revalidation).
func (b *Breaker) Release(res *Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(res)
}

// SizeHeadroom returns the largest per-attempt size the total-position
// limit could currently authorize, outstanding reservations included.
// The second return is false when no total limit is configured.
func (b *Breaker) SizeHeadroom() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxTotalPosition <= 0 {
		return 0, false
	}
	rem := (b.cfg.MaxTotalPosition - b.positions.TotalAbsContracts() - b.reservedTotal) / 2
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// Halted reports whether execution is fully stopped. Cache updates and
// detection continue regardless.
func (b *Breaker) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == StatusHalted
}

// CurrentState returns a snapshot for reporting.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked(b.now())
	return State{
		Status:            b.status,
		ConsecutiveErrors: b.consecutiveErrors,
		DailyLossCents:    b.dailyLoss,
		TrippedAt:         b.trippedAt,
		CooldownUntil:     b.cooldownUntil,
	}
}

// Reset is the operator action returning Halted to Normal. It clears the
// error streak and the daily-loss accumulator. Never automatic.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.status
	b.status = StatusNormal
	b.consecutiveErrors = 0
	b.dailyLoss = 0
	b.trippedAt = time.Time{}
	b.cooldownUntil = time.Time{}
	if from != StatusNormal {
		b.notifyLocked(from, StatusNormal, "operator reset")
	}
}

func (b *Breaker) releaseLocked(res *Reservation) {
	if res == nil || res.freed {
		return
	}
	res.freed = true
	for _, key := range res.keys {
		b.reservedByKey[key] -= res.size
		if b.reservedByKey[key] <= 0 {
			delete(b.reservedByKey, key)
		}
	}
	b.reservedTotal -= 2 * res.size
}

// maybeRecoverLocked transitions Cooldown back to Normal once the window
// has elapsed. Halted never recovers automatically.
func (b *Breaker) maybeRecoverLocked(now time.Time) {
	if b.status == StatusCooldown && !now.Before(b.cooldownUntil) {
		b.status = StatusNormal
		b.notifyLocked(StatusCooldown, StatusNormal, "cooldown elapsed")
	}
}

func (b *Breaker) tripLocked(to Status, reason string) {
	from := b.status
	b.status = to
	b.trippedAt = b.now()
	if from != to {
		b.notifyLocked(from, to, reason)
	}
}

func (b *Breaker) notifyLocked(from, to Status, reason string) {
	b.logger.Warn("breaker transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
	if b.onTransition != nil {
		b.onTransition(from, to, reason)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
