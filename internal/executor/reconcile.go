package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oddlotlabs/crossarb/internal/book"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/position"
	"github.com/oddlotlabs/crossarb/internal/venue"
)

// Reconciler resolves the unmatched excess of a stranded leg. It returns
// the outcome taken, the realized cents from any offsetting trade, and an
// error only when the chosen policy could not be carried out at all.
type Reconciler interface {
	Reconcile(ctx context.Context, stranded domain.Fill, excess int64) (domain.ReconcileOutcome, domain.Cents, error)
}

// AcceptExposureReconciler leaves the stranded contracts on the book as a
// tracked directional position. The default policy.
type AcceptExposureReconciler struct{}

// Reconcile keeps the exposure.
func (AcceptExposureReconciler) Reconcile(context.Context, domain.Fill, int64) (domain.ReconcileOutcome, domain.Cents, error) {
	return domain.ReconcileExposureAccepted, 0, nil
}

// OffsetReconciler sells the excess back into the stranded leg's own book
// at the current best bid, realizing whatever loss the round trip costs.
// Falls back to accepting exposure when there is no bid to hit.
type OffsetReconciler struct {
	Router  venue.Router
	Cache   *book.Cache
	Tracker *position.Tracker
	Timeout time.Duration
	Logger  *slog.Logger
}

// Reconcile submits the offsetting sell and books its fill.
func (r OffsetReconciler) Reconcile(ctx context.Context, stranded domain.Fill, excess int64) (domain.ReconcileOutcome, domain.Cents, error) {
	view, err := r.Cache.Read(stranded.Key)
	if err != nil {
		return domain.ReconcileNone, 0, fmt.Errorf("offset: read book: %w", err)
	}
	bid, ok := view.BestBid()
	if !ok {
		r.Logger.Warn("offset: no bid to hit, accepting exposure",
			slog.String("venue", string(stranded.Key.Venue)),
			slog.String("market", stranded.Key.MarketID),
		)
		return domain.ReconcileExposureAccepted, 0, nil
	}

	sub, ok := r.Router.SubmitterFor(stranded.Key.Venue)
	if !ok {
		return domain.ReconcileNone, 0, fmt.Errorf("offset: no submitter for venue %q: %w", stranded.Key.Venue, domain.ErrVenueDown)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	sellCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fill, err := sub.SubmitOrder(sellCtx, domain.OrderRequest{
		ClientID: uuid.New().String(),
		Key:      stranded.Key,
		Side:     domain.OrderSideSell,
		Price:    bid.Price,
		Size:     excess,
	})
	if err != nil {
		return domain.ReconcileNone, 0, fmt.Errorf("offset: submit: %w", err)
	}
	if fill.FilledSize == 0 {
		r.Logger.Warn("offset order did not fill, accepting exposure",
			slog.String("status", string(fill.Status)),
		)
		return domain.ReconcileExposureAccepted, 0, nil
	}

	before := r.Tracker.Get(stranded.Key).RealizedCents
	after := r.Tracker.ApplyFill(stranded.Key, -fill.FilledSize, fill.AvgPrice)
	realized := after.RealizedCents - before

	r.Logger.Info("stranded leg offset",
		slog.String("venue", string(stranded.Key.Venue)),
		slog.String("market", stranded.Key.MarketID),
		slog.Int64("size", fill.FilledSize),
		slog.Int64("realized_cents", int64(realized)),
	)
	return domain.ReconcileOffsetFilled, realized, nil
}
