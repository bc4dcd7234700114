// Package domain defines the core value types shared across the arbitrage
// engine: order-book state, market pairs, opportunities, executions, and
// positions, plus the store/cache interfaces implemented by the adapters.
package domain

import (
	"strconv"
	"time"
)

// Venue identifies a trading venue.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Cents is a fixed-point price in hundredths of the settlement value.
// Valid book prices are in [0, 100]. All hot-path arithmetic is integer.
type Cents int64

// Dollars returns the display value.
func (c Cents) Dollars() float64 { return float64(c) / 100 }

// String renders the amount for logs and alerts, e.g. "42c" or "-10c".
func (c Cents) String() string { return strconv.FormatInt(int64(c), 10) + "c" }

// BookKey identifies one outcome's book on one venue.
type BookKey struct {
	Venue    Venue
	MarketID string
	Outcome  Outcome
}

// IsZero reports whether the key is unset.
func (k BookKey) IsZero() bool { return k.MarketID == "" }

func (k BookKey) String() string {
	return string(k.Venue) + "/" + k.MarketID + "/" + string(k.Outcome)
}

// PriceLevel is a single price+size entry in a book side. Immutable once
// constructed.
type PriceLevel struct {
	Price Cents
	Size  int64 // contracts available at Price
}

// BookView is an immutable, point-in-time copy of one book's state. It is
// published by the market-state cache; readers never see a partially applied
// update.
type BookView struct {
	Key       BookKey
	Seq       uint64
	Bids      []PriceLevel // best (highest) first
	Asks      []PriceLevel // best (lowest) first
	UpdatedAt time.Time
}

// BestBid returns the top bid level, or false when the side is empty.
func (v BookView) BestBid() (PriceLevel, bool) {
	if len(v.Bids) == 0 {
		return PriceLevel{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the top ask level, or false when the side is empty.
func (v BookView) BestAsk() (PriceLevel, bool) {
	if len(v.Asks) == 0 {
		return PriceLevel{}, false
	}
	return v.Asks[0], true
}

// BookSide distinguishes the bid and ask sides of a book.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// BookEventKind distinguishes incremental deltas from full snapshots.
type BookEventKind int

const (
	EventDelta BookEventKind = iota
	EventSnapshot
)

// BookEvent is a normalized order-book update from a venue feed. Deltas
// carry a single level change (Size 0 removes the level); snapshots carry
// the full replacement book in Bids/Asks.
type BookEvent struct {
	Key   BookKey
	Seq   uint64
	Kind  BookEventKind
	Side  BookSide
	Price Cents
	Size  int64
	Bids  []PriceLevel
	Asks  []PriceLevel
	At    time.Time
}
