package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/book"
	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/executor"
	"github.com/oddlotlabs/crossarb/internal/position"
	"github.com/oddlotlabs/crossarb/internal/venue"
	"github.com/oddlotlabs/crossarb/internal/venue/sim"
)

var (
	yesK = domain.BookKey{Venue: domain.VenueKalshi, MarketID: "NFL-KC", Outcome: domain.OutcomeYes}
	noK  = domain.BookKey{Venue: domain.VenueKalshi, MarketID: "NFL-KC", Outcome: domain.OutcomeNo}
	yesP = domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "nfl-kc", Outcome: domain.OutcomeYes}
	noP  = domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "nfl-kc", Outcome: domain.OutcomeNo}
)

func testPair() domain.MarketPair {
	return domain.MarketPair{
		ID:   "nfl-kc",
		YesA: yesK, NoA: noK,
		YesB: yesP, NoB: noP,
		FeeA: domain.FeeSchedule{RateBps: 700},
		FeeB: domain.FeeSchedule{},
	}
}

// scriptedFeed replays a fixed event sequence then idles until cancelled.
type scriptedFeed struct {
	name   string
	events []domain.BookEvent
}

func (f *scriptedFeed) Name() string { return f.name }

func (f *scriptedFeed) Run(ctx context.Context, out chan<- domain.BookEvent) error {
	for _, ev := range f.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// memoryBus records published payloads per channel.
type memoryBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newMemoryBus() *memoryBus { return &memoryBus{payloads: make(map[string][][]byte)} }

func (b *memoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[channel] = append(b.payloads[channel], payload)
	return nil
}

func (b *memoryBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memoryBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads[channel])
}

func snapshot(key domain.BookKey, seq uint64, bidPrice, askPrice domain.Cents, size int64) domain.BookEvent {
	ev := domain.BookEvent{Key: key, Seq: seq, Kind: domain.EventSnapshot, At: time.Now()}
	if bidPrice > 0 {
		ev.Bids = []domain.PriceLevel{{Price: bidPrice, Size: size}}
	}
	if askPrice > 0 {
		ev.Asks = []domain.PriceLevel{{Price: askPrice, Size: size}}
	}
	return ev
}

type fixture struct {
	engine  *Engine
	gate    *breaker.Breaker
	tracker *position.Tracker
	kalshi  *sim.Venue
	poly    *sim.Venue
	bus     *memoryBus
}

// arbEvents quotes YES on Kalshi at 40 and NO on Polymarket at 54, a
// cross-venue opportunity with edge 100-94-2 = 4 after the Kalshi fee.
func arbEvents() []domain.BookEvent {
	return []domain.BookEvent{
		snapshot(yesK, 1, 39, 40, 100),
		snapshot(noK, 1, 58, 62, 100),
		snapshot(yesP, 1, 43, 47, 100),
		snapshot(noP, 1, 53, 54, 100),
	}
}

func newFixture(t *testing.T, events []domain.BookEvent) *fixture {
	return newFixtureGate(t, events, breaker.Config{
		MaxPositionPerMarket: 1000,
		MaxTotalPosition:     10000,
		MaxConsecutiveErrors: 100,
		Cooldown:             time.Minute,
	})
}

func newFixtureGate(t *testing.T, events []domain.BookEvent, gateCfg breaker.Config) *fixture {
	t.Helper()
	f := &fixture{
		tracker: position.NewTracker(slog.Default()),
		kalshi:  sim.New(domain.VenueKalshi, 0, slog.Default()),
		poly:    sim.New(domain.VenuePolymarket, 0, slog.Default()),
		bus:     newMemoryBus(),
	}
	f.gate = breaker.New(gateCfg, f.tracker, slog.Default())

	cache := book.New()
	router := venue.StaticRouter{
		domain.VenueKalshi:     f.kalshi,
		domain.VenuePolymarket: f.poly,
	}
	exec := executor.New(executor.Config{LegTimeout: time.Second}, router, cache, f.gate, f.tracker, nil, slog.Default())

	feed := &scriptedFeed{name: "scripted", events: events}
	f.engine = New(Config{
		MinEdgeCents:   1,
		MaxOrderSize:   10,
		ExecutionSlots: 2,
	}, []venue.BookFeed{feed}, []domain.MarketPair{testPair()}, cache, f.gate, f.tracker, exec, slog.Default())
	f.engine.SetSignalBus(f.bus)
	return f
}

func TestEngineDetectsAndExecutes(t *testing.T) {
	f := newFixture(t, arbEvents())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(f.kalshi.Submitted()) == 1 && len(f.poly.Submitted()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	orders := f.kalshi.Submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, yesK, orders[0].Key)
	assert.Equal(t, domain.Cents(40), orders[0].Price)
	assert.Equal(t, int64(10), orders[0].Size)

	// Matched settlement: 10 * (100 - 40 - 54) = 60 cents.
	assert.Equal(t, domain.Cents(60), f.tracker.DailyPnL())
	assert.GreaterOrEqual(t, f.bus.count("opportunities"), 1)
}

// Attempt sizing shrinks to what the total-position limit can still grant
// instead of detecting at the static cap and getting denied.
func TestEngineSizesAttemptsToBreakerHeadroom(t *testing.T) {
	f := newFixtureGate(t, arbEvents(), breaker.Config{
		MaxTotalPosition:     14,
		MaxConsecutiveErrors: 100,
		Cooldown:             time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(f.kalshi.Submitted()) == 1 && len(f.poly.Submitted()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	orders := f.kalshi.Submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(7), orders[0].Size)
}

// recordingAlerter counts opportunity notifications.
type recordingAlerter struct {
	mu    sync.Mutex
	pairs []string
}

func (r *recordingAlerter) OpportunityDetected(_ context.Context, opp domain.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, opp.PairID)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func TestEngineNotifiesDetectedOpportunities(t *testing.T) {
	f := newFixture(t, arbEvents())
	alerter := &recordingAlerter{}
	f.engine.SetAlerter(alerter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return alerter.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Equal(t, "nfl-kc", alerter.pairs[0])
}

func TestEngineHaltedObservesWithoutExecuting(t *testing.T) {
	f := newFixture(t, arbEvents())

	// Force a halt before any event flows.
	f.gate.Reset()
	haltGate(f.gate)
	require.True(t, f.gate.Halted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.bus.count("opportunities") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Empty(t, f.kalshi.Submitted())
	assert.Empty(t, f.poly.Submitted())
}

func TestEngineNoEdgeNoOrders(t *testing.T) {
	// Total cost 99 plus fees leaves no positive edge.
	events := []domain.BookEvent{
		snapshot(yesK, 1, 44, 45, 100),
		snapshot(noP, 1, 53, 54, 100),
	}
	f := newFixture(t, events)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = f.engine.Run(ctx)

	assert.Empty(t, f.kalshi.Submitted())
	assert.Empty(t, f.poly.Submitted())
	assert.Equal(t, 0, f.bus.count("opportunities"))
}

// haltGate trips the breaker by recording an unrecoverable error streak.
func haltGate(b *breaker.Breaker) {
	for i := 0; i < 101; i++ {
		b.RecordOutcome(nil, breaker.Outcome{Err: domain.ErrLegRejected})
	}
}
