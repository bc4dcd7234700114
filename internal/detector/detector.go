// Package detector computes arbitrage opportunities from book views. Scan is
// a pure function of its inputs: it performs no I/O, holds no state across
// calls, and is safe to invoke concurrently from any number of update
// triggers. All price arithmetic is integer cents so threshold comparisons
// are exactly reproducible.
package detector

import (
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Config holds the static detection parameters.
type Config struct {
	// MinEdge is the strict lower bound: an opportunity is emitted only when
	// its fee-adjusted edge exceeds this value, in cents per contract.
	MinEdge domain.Cents
}

// Views bundles the four book views a pair can span. Same-venue strategies
// use only one venue's YES/NO views; for single-venue pairs YesB/NoB are
// zero views.
type Views struct {
	YesA domain.BookView
	NoA  domain.BookView
	YesB domain.BookView
	NoB  domain.BookView
}

// candidate is one evaluated strategy. Kept as a plain value so Scan does
// not allocate unless it emits.
type candidate struct {
	strategy domain.Strategy
	leg1     domain.OpportunityLeg
	leg2     domain.OpportunityLeg
	edge     domain.Cents
	size     int64
	ok       bool
}

// FeeCents returns the per-contract fee in cents for buying qty contracts at
// the given price: ceil(rate * qty * p * (1 - p)) evaluated in integer
// arithmetic. A zero rate (fee-free venue) always returns zero.
func FeeCents(sched domain.FeeSchedule, qty int64, price domain.Cents) domain.Cents {
	if sched.RateBps == 0 || qty <= 0 {
		return 0
	}
	raw := sched.RateBps * qty * int64(price) * (100 - int64(price))
	den := qty * 1_000_000
	return domain.Cents((raw + den - 1) / den)
}

// Scan evaluates the four strategies over the supplied views and returns the
// best eligible opportunity, if any. maxSize caps the matched quantity (the
// exposure headroom supplied by the risk gate); a non-positive cap means no
// capacity and nothing is emitted. Ties on edge prefer cross-venue
// strategies over same-venue.
func Scan(pair domain.MarketPair, views Views, cfg Config, maxSize int64, now time.Time) (domain.Opportunity, bool) {
	if maxSize <= 0 {
		return domain.Opportunity{}, false
	}

	cands := [4]candidate{
		evaluate(domain.StrategyCrossAB, views.YesA, views.NoB, pair.FeeA, pair.FeeB, cfg.MinEdge, maxSize),
		evaluate(domain.StrategyCrossBA, views.YesB, views.NoA, pair.FeeB, pair.FeeA, cfg.MinEdge, maxSize),
		evaluate(domain.StrategySameA, views.YesA, views.NoA, pair.FeeA, pair.FeeA, cfg.MinEdge, maxSize),
		evaluate(domain.StrategySameB, views.YesB, views.NoB, pair.FeeB, pair.FeeB, cfg.MinEdge, maxSize),
	}

	best := candidate{}
	for _, c := range cands {
		if !c.ok {
			continue
		}
		switch {
		case !best.ok,
			c.edge > best.edge,
			c.edge == best.edge && c.strategy.CrossVenue() && !best.strategy.CrossVenue():
			best = c
		}
	}
	if !best.ok {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		PairID:     pair.ID,
		Strategy:   best.strategy,
		Leg1:       best.leg1,
		Leg2:       best.leg2,
		TotalCost:  best.leg1.Price + best.leg2.Price,
		Edge:       best.edge,
		Size:       best.size,
		DetectedAt: now,
	}, true
}

func evaluate(strat domain.Strategy, yes, no domain.BookView, yesFees, noFees domain.FeeSchedule, minEdge domain.Cents, maxSize int64) candidate {
	ask1, ok1 := yes.BestAsk()
	ask2, ok2 := no.BestAsk()
	if !ok1 || !ok2 {
		return candidate{}
	}

	size := ask1.Size
	if ask2.Size < size {
		size = ask2.Size
	}
	if maxSize < size {
		size = maxSize
	}
	if size <= 0 {
		return candidate{}
	}

	fee1 := FeeCents(yesFees, size, ask1.Price)
	fee2 := FeeCents(noFees, size, ask2.Price)
	edge := 100 - ask1.Price - ask2.Price - fee1 - fee2
	if edge <= minEdge {
		return candidate{}
	}

	return candidate{
		strategy: strat,
		leg1:     domain.OpportunityLeg{Key: yes.Key, Price: ask1.Price, Fee: fee1, Available: ask1.Size},
		leg2:     domain.OpportunityLeg{Key: no.Key, Price: ask2.Price, Fee: fee2, Available: ask2.Size},
		edge:     edge,
		size:     size,
		ok:       true,
	}
}
