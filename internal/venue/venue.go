// Package venue defines the boundary to external trading venues: a
// normalized book feed in, and an order-submission capability out. Concrete
// clients live in the sub-packages; the core engine depends only on these
// interfaces.
package venue

import (
	"context"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// BookFeed streams normalized order-book events onto out until the context
// is cancelled. Implementations own reconnection.
type BookFeed interface {
	Name() string
	Run(ctx context.Context, out chan<- domain.BookEvent) error
}

// OrderSubmitter places one order and blocks until its terminal outcome is
// observed or the context deadline expires. Venue-level failures (endpoint
// unreachable) are returned as errors wrapping domain.ErrVenueDown;
// order-level failures come back as a Fill with a Rejected or TimedOut
// status and a nil error.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// Router picks the submitter for a leg's venue.
type Router interface {
	SubmitterFor(v domain.Venue) (OrderSubmitter, bool)
}

// StaticRouter is a fixed venue -> submitter table.
type StaticRouter map[domain.Venue]OrderSubmitter

// SubmitterFor implements Router.
func (r StaticRouter) SubmitterFor(v domain.Venue) (OrderSubmitter, bool) {
	s, ok := r[v]
	return s, ok
}
