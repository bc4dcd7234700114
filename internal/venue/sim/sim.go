// Package sim provides an in-process venue used for dry-run mode and tests.
// Orders fill immediately at the quoted price unless a fault hook says
// otherwise, so the decision pipeline goes through exactly the same state
// transitions as against a live venue.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// FaultFn lets tests script per-order outcomes. Returning a non-nil fill
// overrides the default full fill; returning an error simulates a venue
// outage.
type FaultFn func(req domain.OrderRequest) (*domain.Fill, error)

// Venue is a simulated order submitter. Safe for concurrent use.
type Venue struct {
	name   domain.Venue
	delay  time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	fault     FaultFn
	submitted []domain.OrderRequest
}

// New creates a simulated venue. delay is applied before each fill to mimic
// network round-trip; zero means instant fills.
func New(name domain.Venue, delay time.Duration, logger *slog.Logger) *Venue {
	return &Venue{
		name:   name,
		delay:  delay,
		logger: logger.With(slog.String("component", "sim_venue"), slog.String("venue", string(name))),
	}
}

// SetFault installs or clears the fault hook.
func (v *Venue) SetFault(f FaultFn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fault = f
}

// Submitted returns a copy of every order seen so far.
func (v *Venue) Submitted() []domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.OrderRequest, len(v.submitted))
	copy(out, v.submitted)
	return out
}

// SubmitOrder records the order and returns a full fill at the quoted
// price, honoring the configured delay and fault hook.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	v.mu.Lock()
	v.submitted = append(v.submitted, req)
	fault := v.fault
	v.mu.Unlock()

	if v.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Fill{
				OrderID: req.ClientID,
				Key:     req.Key,
				Side:    req.Side,
				Status:  domain.OrderStatusTimedOut,
				At:      time.Now().UTC(),
			}, nil
		case <-time.After(v.delay):
		}
	}

	if fault != nil {
		if fill, err := fault(req); err != nil || fill != nil {
			if err != nil {
				return domain.Fill{}, err
			}
			return *fill, nil
		}
	}

	fill := domain.Fill{
		OrderID:    uuid.New().String(),
		Key:        req.Key,
		Side:       req.Side,
		FilledSize: req.Size,
		AvgPrice:   req.Price,
		Status:     domain.OrderStatusFilled,
		At:         time.Now().UTC(),
	}
	v.logger.Debug("simulated fill",
		slog.String("key", req.Key.String()),
		slog.Int64("size", fill.FilledSize),
		slog.Int64("price_cents", int64(fill.AvgPrice)),
	)
	return fill, nil
}
