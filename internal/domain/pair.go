package domain

// Strategy names the four recognized arbitrage structures over a pair.
type Strategy string

const (
	// StrategyCrossAB buys YES on venue A and NO on venue B.
	StrategyCrossAB Strategy = "cross_venue_ab"
	// StrategyCrossBA buys YES on venue B and NO on venue A.
	StrategyCrossBA Strategy = "cross_venue_ba"
	// StrategySameA buys YES and NO on venue A.
	StrategySameA Strategy = "same_venue_a"
	// StrategySameB buys YES and NO on venue B.
	StrategySameB Strategy = "same_venue_b"
)

// CrossVenue reports whether the strategy spans both venues.
func (s Strategy) CrossVenue() bool {
	return s == StrategyCrossAB || s == StrategyCrossBA
}

// FeeSchedule holds the per-venue taker fee parameters. RateBps of zero
// means the venue charges no trading fee.
type FeeSchedule struct {
	RateBps int64 // e.g. 700 = 7%
}

// MarketPair binds a YES/NO market on venue A to its logical counterpart.
// For same-venue pairs the B-side keys are zero. Pairs are produced by
// market discovery and are read-only to the core.
type MarketPair struct {
	ID   string
	YesA BookKey
	NoA  BookKey
	YesB BookKey
	NoB  BookKey
	FeeA FeeSchedule
	FeeB FeeSchedule
}

// HasVenueB reports whether the pair has a cross-venue counterpart.
func (p MarketPair) HasVenueB() bool { return !p.YesB.IsZero() && !p.NoB.IsZero() }

// Keys returns every non-zero book key the pair covers.
func (p MarketPair) Keys() []BookKey {
	keys := make([]BookKey, 0, 4)
	for _, k := range [4]BookKey{p.YesA, p.NoA, p.YesB, p.NoB} {
		if !k.IsZero() {
			keys = append(keys, k)
		}
	}
	return keys
}
