// Package book holds the latest order-book state per (venue, market,
// outcome) key. Each key publishes an immutable snapshot through an atomic
// pointer: writers build the next snapshot and swap it in, readers load the
// pointer and can never observe a partially applied update. Writers for
// distinct keys never contend; there is no global lock.
package book

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// state is one published book snapshot. The level slices are never mutated
// after publication; updates copy-on-write.
type state struct {
	seq       uint64
	bids      []domain.PriceLevel // highest first
	asks      []domain.PriceLevel // lowest first
	updatedAt time.Time
}

type entry struct {
	ptr atomic.Pointer[state]
}

// Cache is the market-state cache. The zero value is not usable; call New.
type Cache struct {
	entries sync.Map // domain.BookKey -> *entry
}

// New creates an empty cache.
func New() *Cache { return &Cache{} }

func (c *Cache) entryFor(key domain.BookKey) *entry {
	if e, ok := c.entries.Load(key); ok {
		return e.(*entry)
	}
	e, _ := c.entries.LoadOrStore(key, &entry{})
	return e.(*entry)
}

// ApplyDelta applies a single level change to one book. A size of zero
// removes the level. Out-of-range prices and negative sizes are rejected
// with domain.ErrInvalidDelta; sequence numbers at or below the published
// one are rejected with domain.ErrStaleSequence. Neither rejection mutates
// state.
func (c *Cache) ApplyDelta(ev domain.BookEvent) error {
	if err := validateLevel(ev.Price, ev.Size); err != nil {
		return err
	}
	if ev.Side != domain.SideBid && ev.Side != domain.SideAsk {
		return fmt.Errorf("book: apply delta %s: side %q: %w", ev.Key, ev.Side, domain.ErrInvalidDelta)
	}

	e := c.entryFor(ev.Key)
	for {
		cur := e.ptr.Load()
		if cur != nil && ev.Seq <= cur.seq {
			return fmt.Errorf("book: apply delta %s: seq %d <= %d: %w", ev.Key, ev.Seq, cur.seq, domain.ErrStaleSequence)
		}
		next := &state{seq: ev.Seq, updatedAt: ev.At}
		var bids, asks []domain.PriceLevel
		if cur != nil {
			bids, asks = cur.bids, cur.asks
		}
		if ev.Side == domain.SideBid {
			bids = applyLevel(bids, ev.Price, ev.Size, true)
		} else {
			asks = applyLevel(asks, ev.Price, ev.Size, false)
		}
		if crossed(bids, asks) {
			return fmt.Errorf("book: apply delta %s: would cross book: %w", ev.Key, domain.ErrInvalidDelta)
		}
		next.bids, next.asks = bids, asks
		if e.ptr.CompareAndSwap(cur, next) {
			return nil
		}
		// Another writer published first; re-check sequence and retry.
	}
}

// ApplySnapshot replaces one book's full state. Replaying a snapshot with
// the same or an older sequence number leaves the cache unchanged and
// returns domain.ErrStaleSequence.
func (c *Cache) ApplySnapshot(ev domain.BookEvent) error {
	for _, lvl := range ev.Bids {
		if err := validateLevel(lvl.Price, lvl.Size); err != nil {
			return err
		}
	}
	for _, lvl := range ev.Asks {
		if err := validateLevel(lvl.Price, lvl.Size); err != nil {
			return err
		}
	}

	bids := make([]domain.PriceLevel, len(ev.Bids))
	copy(bids, ev.Bids)
	asks := make([]domain.PriceLevel, len(ev.Asks))
	copy(asks, ev.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if crossed(bids, asks) {
		return fmt.Errorf("book: apply snapshot %s: crossed book: %w", ev.Key, domain.ErrInvalidDelta)
	}

	e := c.entryFor(ev.Key)
	for {
		cur := e.ptr.Load()
		if cur != nil && ev.Seq <= cur.seq {
			return fmt.Errorf("book: apply snapshot %s: seq %d <= %d: %w", ev.Key, ev.Seq, cur.seq, domain.ErrStaleSequence)
		}
		next := &state{seq: ev.Seq, bids: bids, asks: asks, updatedAt: ev.At}
		if e.ptr.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Apply dispatches on the event kind.
func (c *Cache) Apply(ev domain.BookEvent) error {
	if ev.Kind == domain.EventSnapshot {
		return c.ApplySnapshot(ev)
	}
	return c.ApplyDelta(ev)
}

// Read returns a consistent point-in-time view of one book. The returned
// view's level slices are shared immutable data; callers must not modify
// them. Returns domain.ErrNotFound for keys that never received an update.
func (c *Cache) Read(key domain.BookKey) (domain.BookView, error) {
	e, ok := c.entries.Load(key)
	if !ok {
		return domain.BookView{}, domain.ErrNotFound
	}
	st := e.(*entry).ptr.Load()
	if st == nil {
		return domain.BookView{}, domain.ErrNotFound
	}
	return domain.BookView{
		Key:       key,
		Seq:       st.seq,
		Bids:      st.bids,
		Asks:      st.asks,
		UpdatedAt: st.updatedAt,
	}, nil
}

// Range calls f with a view of every populated book. Used for mark-to-model
// and monitoring; not on the hot path.
func (c *Cache) Range(f func(view domain.BookView) bool) {
	c.entries.Range(func(k, v any) bool {
		st := v.(*entry).ptr.Load()
		if st == nil {
			return true
		}
		return f(domain.BookView{
			Key:       k.(domain.BookKey),
			Seq:       st.seq,
			Bids:      st.bids,
			Asks:      st.asks,
			UpdatedAt: st.updatedAt,
		})
	})
}

func validateLevel(price domain.Cents, size int64) error {
	if price < 0 || price > 100 {
		return fmt.Errorf("book: price %d out of range: %w", price, domain.ErrInvalidDelta)
	}
	if size < 0 {
		return fmt.Errorf("book: negative size %d: %w", size, domain.ErrInvalidDelta)
	}
	return nil
}

func crossed(bids, asks []domain.PriceLevel) bool {
	return len(bids) > 0 && len(asks) > 0 && asks[0].Price < bids[0].Price
}

// applyLevel returns a new sorted level slice with the given price set to
// size (removed when size is zero). The input slice is never mutated.
func applyLevel(levels []domain.PriceLevel, price domain.Cents, size int64, descending bool) []domain.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= price
		}
		return levels[i].Price >= price
	})
	exists := idx < len(levels) && levels[idx].Price == price

	switch {
	case size == 0 && !exists:
		return levels
	case size == 0:
		out := make([]domain.PriceLevel, 0, len(levels)-1)
		out = append(out, levels[:idx]...)
		return append(out, levels[idx+1:]...)
	case exists:
		out := make([]domain.PriceLevel, len(levels))
		copy(out, levels)
		out[idx] = domain.PriceLevel{Price: price, Size: size}
		return out
	default:
		out := make([]domain.PriceLevel, 0, len(levels)+1)
		out = append(out, levels[:idx]...)
		out = append(out, domain.PriceLevel{Price: price, Size: size})
		return append(out, levels[idx:]...)
	}
}
