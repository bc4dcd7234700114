package domain

import "time"

// OpportunityLeg describes one side of a detected arbitrage: the book to buy
// on, the ask price quoted at detection time, the per-contract fee, and the
// size available at that price.
type OpportunityLeg struct {
	Key       BookKey
	Price     Cents
	Fee       Cents // per contract
	Available int64
}

// Opportunity is an immutable snapshot of a detected arbitrage. A new
// detection cycle produces a new value; nothing mutates one after creation.
type Opportunity struct {
	ID         string
	PairID     string
	Strategy   Strategy
	Leg1       OpportunityLeg
	Leg2       OpportunityLeg
	TotalCost  Cents // Leg1.Price + Leg2.Price
	Edge       Cents // 100 - TotalCost - fees, per contract
	Size       int64 // matched contracts across both legs
	DetectedAt time.Time
}

// TotalFees returns the combined per-contract fee across both legs.
func (o Opportunity) TotalFees() Cents { return o.Leg1.Fee + o.Leg2.Fee }

// ExpectedProfit returns the edge across the full matched size, in cents.
func (o Opportunity) ExpectedProfit() Cents { return o.Edge * Cents(o.Size) }
