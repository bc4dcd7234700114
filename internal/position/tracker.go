// Package position is the authoritative record of net exposure per book.
// Mutation is serialized per key through a per-entry lock; distinct keys
// mutate concurrently and reads always see a consistent snapshot of a
// single position.
package position

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

type entry struct {
	mu  sync.Mutex
	pos domain.Position
}

// Tracker tracks positions and realized/unrealized P&L. Safe for concurrent
// use.
type Tracker struct {
	mu      sync.RWMutex // guards the entries map, not the positions
	entries map[domain.BookKey]*entry
	logger  *slog.Logger

	pnlMu         sync.Mutex
	dailyRealized domain.Cents
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[domain.BookKey]*entry),
		logger:  logger.With(slog.String("component", "positions")),
	}
}

func (t *Tracker) entryFor(key domain.BookKey) *entry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = &entry{pos: domain.Position{Key: key}}
	t.entries[key] = e
	return e
}

// ApplyFill applies a confirmed fill: positive quantities are buys, negative
// are sells. Closing quantity realizes P&L against the volume-weighted
// average cost; any remainder opens in the new direction. Returns the
// updated position.
func (t *Tracker) ApplyFill(key domain.BookKey, signedQty int64, price domain.Cents) domain.Position {
	if signedQty == 0 {
		return t.Get(key)
	}
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := &e.pos
	var realized domain.Cents

	sameDirection := pos.Net == 0 || (pos.Net > 0) == (signedQty > 0)
	if sameDirection {
		// Extend: re-weight the average cost.
		oldAbs := abs(pos.Net)
		addAbs := abs(signedQty)
		pos.AvgCost = domain.Cents((int64(pos.AvgCost)*oldAbs + int64(price)*addAbs) / (oldAbs + addAbs))
		pos.Net += signedQty
	} else {
		closing := min64(abs(signedQty), abs(pos.Net))
		if pos.Net > 0 {
			realized = (price - pos.AvgCost) * domain.Cents(closing)
		} else {
			realized = (pos.AvgCost - price) * domain.Cents(closing)
		}
		pos.RealizedCents += realized
		pos.Net += signedQty
		if pos.Net == 0 {
			pos.AvgCost = 0
		} else if (pos.Net > 0) == (signedQty > 0) {
			// Crossed through zero: remainder opens at the fill price.
			pos.AvgCost = price
		}
	}
	pos.UpdatedAt = time.Now().UTC()

	if realized != 0 {
		t.addRealized(realized)
	}
	return *pos
}

// SettleMatched books the guaranteed outcome of a matched YES+NO pair: qty
// contracts of each leg resolve to the fixed settlement value of 100 cents
// per pair. Both legs' nets are reduced and the locked-in edge is realized.
func (t *Tracker) SettleMatched(yesKey, noKey domain.BookKey, qty int64) domain.Cents {
	if qty <= 0 {
		return 0
	}
	yes := t.entryFor(yesKey)
	no := t.entryFor(noKey)
	// Consistent lock order to avoid deadlock with a concurrent settle of
	// the same two keys in reverse.
	first, second := yes, no
	if noKey.String() < yesKey.String() {
		first, second = no, yes
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	qty = min64(qty, min64(yes.pos.Net, no.pos.Net))
	if qty <= 0 {
		return 0
	}
	realized := domain.Cents(qty)*100 - domain.Cents(qty)*yes.pos.AvgCost - domain.Cents(qty)*no.pos.AvgCost
	now := time.Now().UTC()
	for _, e := range [2]*entry{yes, no} {
		e.pos.Net -= qty
		if e.pos.Net == 0 {
			e.pos.AvgCost = 0
		}
		e.pos.UpdatedAt = now
	}
	yes.pos.RealizedCents += realized

	t.addRealized(realized)
	return realized
}

// Restore seeds the tracker from a persisted snapshot. Intended for startup
// recovery before any fills flow; existing entries for the same keys are
// overwritten. Realized P&L from the snapshot does not re-enter the daily
// accumulator.
func (t *Tracker) Restore(positions []domain.Position) {
	for _, pos := range positions {
		e := t.entryFor(pos.Key)
		e.mu.Lock()
		e.pos = pos
		e.mu.Unlock()
	}
	if len(positions) > 0 {
		t.logger.Info("positions restored from snapshot", slog.Int("count", len(positions)))
	}
}

// Get returns a consistent snapshot of one position. A never-touched key
// returns the zero position for that key.
func (t *Tracker) Get(key domain.BookKey) domain.Position {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return domain.Position{Key: key}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// NetContracts implements the breaker's PositionReader.
func (t *Tracker) NetContracts(key domain.BookKey) int64 {
	return t.Get(key).Net
}

// TotalAbsContracts sums absolute exposure across all books.
func (t *Tracker) TotalAbsContracts() int64 {
	var total int64
	for _, pos := range t.Snapshot() {
		total += abs(pos.Net)
	}
	return total
}

// DailyPnL returns the realized P&L accumulated since the last reset.
func (t *Tracker) DailyPnL() domain.Cents {
	t.pnlMu.Lock()
	defer t.pnlMu.Unlock()
	return t.dailyRealized
}

// ResetDaily zeroes the daily realized accumulator (day roll).
func (t *Tracker) ResetDaily() {
	t.pnlMu.Lock()
	defer t.pnlMu.Unlock()
	t.dailyRealized = 0
}

// Snapshot returns a copy of every non-empty position.
func (t *Tracker) Snapshot() []domain.Position {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]domain.Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		pos := e.pos
		e.mu.Unlock()
		if pos.Net != 0 || pos.RealizedCents != 0 {
			out = append(out, pos)
		}
	}
	return out
}

// MarkToModel refreshes unrealized P&L against current best prices read
// from the market-state cache: longs mark against the best bid, shorts
// against the best ask.
func (t *Tracker) MarkToModel(read func(domain.BookKey) (domain.BookView, error)) {
	t.mu.RLock()
	entries := make(map[domain.BookKey]*entry, len(t.entries))
	for k, e := range t.entries {
		entries[k] = e
	}
	t.mu.RUnlock()

	for key, e := range entries {
		view, err := read(key)
		if err != nil {
			continue
		}
		e.mu.Lock()
		switch {
		case e.pos.Net > 0:
			if bid, ok := view.BestBid(); ok {
				e.pos.UnrealizedCents = (bid.Price - e.pos.AvgCost) * domain.Cents(e.pos.Net)
			}
		case e.pos.Net < 0:
			if ask, ok := view.BestAsk(); ok {
				e.pos.UnrealizedCents = (e.pos.AvgCost - ask.Price) * domain.Cents(-e.pos.Net)
			}
		default:
			e.pos.UnrealizedCents = 0
		}
		e.mu.Unlock()
	}
}

func (t *Tracker) addRealized(v domain.Cents) {
	t.pnlMu.Lock()
	t.dailyRealized += v
	t.pnlMu.Unlock()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
