// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Events can be filtered by type so operators receive
// only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Event types accepted in the notifier's filter list.
const (
	EventOpportunity = "opportunity"
	EventExecution   = "execution"
	EventStranded    = "stranded_leg"
	EventBreaker     = "breaker"
)

// minSendInterval bounds delivery per event type. Opportunity and execution
// alerts arrive in bursts when prices sit on an edge; anything inside the
// window is dropped, the next burst re-alerts.
const minSendInterval = 500 * time.Millisecond

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Alerter formats trading events into human-readable notifications and fans
// them out to all registered senders. It maintains a set of allowed event
// types; events outside the set are dropped. An empty set allows everything.
// Each event type is additionally throttled to one delivery per
// minSendInterval.
//
// Delivery is best effort. Sender failures are logged and never propagate to
// the trading path.
type Alerter struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	lastSend map[string]time.Time
}

// NewAlerter creates an Alerter delivering to the given senders. Only events
// whose type appears in the events slice are forwarded; if events is empty,
// all event types are allowed.
func NewAlerter(senders []Sender, events []string, logger *slog.Logger) *Alerter {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = true
		}
	}
	return &Alerter{
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "alerter")),
		clock:    time.Now,
		lastSend: make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Test hook.
func (a *Alerter) SetClock(clock func() time.Time) { a.clock = clock }

// OpportunityDetected reports a detected arbitrage opportunity.
func (a *Alerter) OpportunityDetected(ctx context.Context, opp domain.Opportunity) {
	title := fmt.Sprintf("Opportunity %s %s", opp.PairID, opp.Strategy)
	msg := fmt.Sprintf("size %d, edge %s, expected profit %s",
		opp.Size, opp.Edge, opp.ExpectedProfit())
	a.send(ctx, EventOpportunity, title, msg)
}

// ExecutionSettled reports a cleanly settled execution attempt.
func (a *Alerter) ExecutionSettled(ctx context.Context, rec domain.ExecutionRecord) {
	title := fmt.Sprintf("Settled %s %s", rec.PairID, rec.Strategy)
	msg := fmt.Sprintf("size %d, edge %s, realized %s",
		rec.Size, rec.EdgeCents, rec.RealizedCents)
	a.send(ctx, EventExecution, title, msg)
}

// LegStranded reports an attempt that ended with unmatched exposure on one
// leg and describes how it was reconciled.
func (a *Alerter) LegStranded(ctx context.Context, rec domain.ExecutionRecord) {
	title := fmt.Sprintf("Stranded leg on %s", rec.PairID)
	msg := fmt.Sprintf("leg1 %s filled %d/%d, leg2 %s filled %d/%d, reconcile %s, realized %s",
		rec.Leg1.Key.Venue, rec.Leg1.FilledSize, rec.Size,
		rec.Leg2.Key.Venue, rec.Leg2.FilledSize, rec.Size,
		rec.Reconcile, rec.RealizedCents)
	a.send(ctx, EventStranded, title, msg)
}

// BreakerTransition reports a circuit breaker state change.
func (a *Alerter) BreakerTransition(ctx context.Context, from, to, reason string) {
	title := fmt.Sprintf("Breaker %s -> %s", from, to)
	a.send(ctx, EventBreaker, title, reason)
}

func (a *Alerter) send(ctx context.Context, event, title, message string) {
	if len(a.senders) == 0 {
		return
	}
	if len(a.events) > 0 && !a.events[event] {
		a.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}
	if !a.admit(event) {
		a.logger.DebugContext(ctx, "event throttled", slog.String("event", event))
		return
	}

	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// admit enforces the per-event-type minimum interval.
func (a *Alerter) admit(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock()
	if last, ok := a.lastSend[event]; ok && now.Sub(last) < minSendInterval {
		return false
	}
	a.lastSend[event] = now
	return true
}
