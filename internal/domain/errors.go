package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidDelta  = errors.New("invalid delta")
	ErrStaleSequence = errors.New("stale sequence")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrHalted        = errors.New("breaker halted")
	ErrLegRejected   = errors.New("leg rejected")
	ErrLegTimedOut   = errors.New("leg timed out")
	ErrVenueDown     = errors.New("venue unavailable")
)
