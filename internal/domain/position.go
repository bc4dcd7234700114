package domain

import "time"

// Position is the net exposure for one outcome's book. Mutated only by the
// position tracker in response to confirmed fills.
type Position struct {
	Key             BookKey
	Net             int64 // signed contracts; positive = long
	AvgCost         Cents // volume-weighted entry price of the open net
	RealizedCents   Cents
	UnrealizedCents Cents
	UpdatedAt       time.Time
}

// Notional returns the absolute exposure at average cost, in cents.
func (p Position) Notional() Cents {
	n := p.Net
	if n < 0 {
		n = -n
	}
	return p.AvgCost * Cents(n)
}
