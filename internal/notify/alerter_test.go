package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

type recordingSender struct {
	titles   []string
	messages []string
	fail     bool
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	if r.fail {
		return assert.AnError
	}
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func settledRecord() domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:            "a1",
		PairID:        "NFL-KC",
		Strategy:      domain.StrategyCrossAB,
		State:         domain.AttemptSettled,
		EdgeCents:     2,
		Size:          10,
		RealizedCents: 60,
	}
}

func TestAlerterDeliversExecution(t *testing.T) {
	rec := &recordingSender{}
	a := NewAlerter([]Sender{rec}, nil, slog.Default())

	a.ExecutionSettled(context.Background(), settledRecord())

	assert.Equal(t, []string{"Settled NFL-KC cross_venue_ab"}, rec.titles)
	assert.Contains(t, rec.messages[0], "realized 60c")
}

func TestAlerterFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	a := NewAlerter([]Sender{rec}, []string{EventBreaker}, slog.Default())

	a.ExecutionSettled(context.Background(), settledRecord())
	assert.Empty(t, rec.titles)

	a.BreakerTransition(context.Background(), "normal", "halted", "error streak")
	assert.Equal(t, []string{"Breaker normal -> halted"}, rec.titles)
	assert.Equal(t, []string{"error streak"}, rec.messages)
}

func TestAlerterDeliversOpportunity(t *testing.T) {
	rec := &recordingSender{}
	a := NewAlerter([]Sender{rec}, nil, slog.Default())

	a.OpportunityDetected(context.Background(), domain.Opportunity{
		PairID:   "NFL-KC",
		Strategy: domain.StrategyCrossAB,
		Edge:     2,
		Size:     10,
	})

	assert.Equal(t, []string{"Opportunity NFL-KC cross_venue_ab"}, rec.titles)
	assert.Contains(t, rec.messages[0], "edge 2c")
}

// A burst of same-type events collapses to one delivery per interval; a
// different event type is not held back, and the window reopens once the
// interval passes.
func TestAlerterThrottlesBursts(t *testing.T) {
	rec := &recordingSender{}
	a := NewAlerter([]Sender{rec}, nil, slog.Default())

	now := time.Unix(1700000000, 0)
	a.SetClock(func() time.Time { return now })

	opp := domain.Opportunity{PairID: "NFL-KC", Strategy: domain.StrategyCrossAB, Edge: 2, Size: 10}
	for i := 0; i < 5; i++ {
		a.OpportunityDetected(context.Background(), opp)
	}
	assert.Len(t, rec.titles, 1)

	a.BreakerTransition(context.Background(), "normal", "halted", "error streak")
	assert.Len(t, rec.titles, 2)

	now = now.Add(501 * time.Millisecond)
	a.OpportunityDetected(context.Background(), opp)
	assert.Len(t, rec.titles, 3)
}

func TestAlerterSenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{fail: true}
	good := &recordingSender{}
	a := NewAlerter([]Sender{bad, good}, nil, slog.Default())

	a.LegStranded(context.Background(), settledRecord())

	assert.Len(t, good.titles, 1)
	assert.Contains(t, good.titles[0], "Stranded leg on NFL-KC")
}
