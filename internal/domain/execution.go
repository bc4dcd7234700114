package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the terminal status reported for a submitted order.
type OrderStatus string

const (
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partially_filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusTimedOut  OrderStatus = "timed_out"
)

// OrderRequest is a normalized order submitted to a venue.
type OrderRequest struct {
	ClientID string // UUID assigned by the executor
	Key      BookKey
	Side     OrderSide
	Price    Cents
	Size     int64
}

// Fill is the observed outcome for one submitted order.
type Fill struct {
	OrderID    string
	Key        BookKey
	Side       OrderSide
	FilledSize int64
	AvgPrice   Cents
	Status     OrderStatus
	At         time.Time
}

// Filled reports whether the order filled in full.
func (f Fill) Filled() bool { return f.Status == OrderStatusFilled }

// AttemptState tracks the lifecycle of an execution attempt.
type AttemptState string

const (
	AttemptPending         AttemptState = "pending"
	AttemptLegsSubmitted   AttemptState = "legs_submitted"
	AttemptPartiallyFilled AttemptState = "partially_filled"
	AttemptReconciling     AttemptState = "reconciling"
	AttemptSettled         AttemptState = "settled"
	AttemptFailed          AttemptState = "failed"
)

// Terminal reports whether the state is final.
func (s AttemptState) Terminal() bool {
	return s == AttemptSettled || s == AttemptFailed
}

// ReconcileOutcome records how a stranded leg was resolved.
type ReconcileOutcome string

const (
	ReconcileNone             ReconcileOutcome = ""
	ReconcileOffsetFilled     ReconcileOutcome = "offset_filled"
	ReconcileExposureAccepted ReconcileOutcome = "exposure_accepted"
)

// ExecutionRecord is the persisted trace of one execution attempt. The
// in-flight attempt is owned exclusively by the execution engine; once
// terminal it is recorded here and discarded.
type ExecutionRecord struct {
	ID            string
	PairID        string
	Strategy      Strategy
	State         AttemptState
	Leg1          Fill
	Leg2          Fill
	EdgeCents     Cents
	Size          int64
	RealizedCents Cents
	Reconcile     ReconcileOutcome
	DryRun        bool
	StartedAt     time.Time
	CompletedAt   time.Time
}
