package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

type stubPositions struct {
	mu    sync.Mutex
	net   map[domain.BookKey]int64
	total int64
}

func (s *stubPositions) NetContracts(key domain.BookKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net[key]
}

func (s *stubPositions) TotalAbsContracts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func testOpp(size int64) domain.Opportunity {
	return domain.Opportunity{
		PairID:   "pair-1",
		Strategy: domain.StrategyCrossAB,
		Leg1:     domain.OpportunityLeg{Key: domain.BookKey{Venue: domain.VenueKalshi, MarketID: "m1", Outcome: domain.OutcomeYes}, Price: 40},
		Leg2:     domain.OpportunityLeg{Key: domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "m2", Outcome: domain.OutcomeNo}, Price: 56},
		Edge:     2,
		Size:     size,
	}
}

func newTestBreaker(cfg Config) (*Breaker, *stubPositions) {
	pos := &stubPositions{net: make(map[domain.BookKey]int64)}
	b := New(cfg, pos, slog.Default())
	return b, pos
}

func TestAuthorizeAllowsWithinLimits(t *testing.T) {
	b, _ := newTestBreaker(Config{
		MaxPositionPerMarket: 100,
		MaxTotalPosition:     100,
		MaxDailyLossCents:    1000,
		MaxConsecutiveErrors: 3,
		Cooldown:             time.Second,
	})
	res, dec := b.Authorize(testOpp(10))
	require.True(t, dec.Allowed)
	b.RecordOutcome(res, Outcome{OK: true, PnLCents: 20})
	assert.Equal(t, StatusNormal, b.CurrentState().Status)
}

func TestSizeHeadroomTracksPositionsAndReservations(t *testing.T) {
	b, pos := newTestBreaker(Config{MaxTotalPosition: 100})

	headroom, limited := b.SizeHeadroom()
	require.True(t, limited)
	assert.Equal(t, int64(50), headroom)

	pos.mu.Lock()
	pos.total = 60
	pos.mu.Unlock()
	headroom, _ = b.SizeHeadroom()
	assert.Equal(t, int64(20), headroom)

	res, dec := b.Authorize(testOpp(10))
	require.True(t, dec.Allowed)
	headroom, _ = b.SizeHeadroom()
	assert.Equal(t, int64(10), headroom)

	b.Release(res)
	headroom, _ = b.SizeHeadroom()
	assert.Equal(t, int64(20), headroom)

	pos.mu.Lock()
	pos.total = 200
	pos.mu.Unlock()
	headroom, _ = b.SizeHeadroom()
	assert.Equal(t, int64(0), headroom)
}

func TestSizeHeadroomUnlimitedWithoutTotalCap(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxPositionPerMarket: 100})
	_, limited := b.SizeHeadroom()
	assert.False(t, limited)
}

func TestDailyLossHaltsUntilExplicitReset(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxDailyLossCents: 100, MaxConsecutiveErrors: 10, Cooldown: time.Second})

	res, dec := b.Authorize(testOpp(5))
	require.True(t, dec.Allowed)
	b.RecordOutcome(res, Outcome{OK: true, PnLCents: -150})

	// Over the loss limit: every authorize denies, even concurrently.
	var denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, dec := b.Authorize(testOpp(1)); !dec.Allowed {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8), denied.Load())
	assert.Equal(t, StatusHalted, b.CurrentState().Status)

	// Cooldown never rescues a halt; only Reset does.
	_, dec = b.Authorize(testOpp(1))
	assert.False(t, dec.Allowed)

	b.Reset()
	_, dec = b.Authorize(testOpp(1))
	assert.True(t, dec.Allowed)
}

func TestRecoverableErrorEntersCooldownThenRecovers(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxConsecutiveErrors: 3, Cooldown: 30 * time.Second})
	now := time.Unix(1_700_000_000, 0).UTC()
	b.SetClock(func() time.Time { return now })

	res, dec := b.Authorize(testOpp(5))
	require.True(t, dec.Allowed)
	b.RecordOutcome(res, Outcome{Err: domain.ErrLegRejected})
	assert.Equal(t, StatusCooldown, b.CurrentState().Status)

	_, dec = b.Authorize(testOpp(5))
	assert.False(t, dec.Allowed)

	// Window elapses with no new errors: automatic recovery.
	now = now.Add(31 * time.Second)
	_, dec = b.Authorize(testOpp(5))
	assert.True(t, dec.Allowed)
}

func TestErrorDuringCooldownRestartsWindow(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxConsecutiveErrors: 5, Cooldown: 30 * time.Second})
	now := time.Unix(1_700_000_000, 0).UTC()
	b.SetClock(func() time.Time { return now })

	res, _ := b.Authorize(testOpp(1))
	b.RecordOutcome(res, Outcome{Err: domain.ErrLegTimedOut})

	now = now.Add(20 * time.Second)
	b.RecordOutcome(nil, Outcome{Err: domain.ErrLegTimedOut})

	// Original window would have elapsed here, but the second error reset it.
	now = now.Add(15 * time.Second)
	_, dec := b.Authorize(testOpp(1))
	assert.False(t, dec.Allowed)

	now = now.Add(16 * time.Second)
	_, dec = b.Authorize(testOpp(1))
	assert.True(t, dec.Allowed)
}

func TestConsecutiveErrorsHalt(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxConsecutiveErrors: 2, Cooldown: time.Nanosecond})
	now := time.Unix(1_700_000_000, 0).UTC()
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		now = now.Add(time.Second) // past any cooldown
		res, dec := b.Authorize(testOpp(1))
		require.True(t, dec.Allowed, "attempt %d", i)
		b.RecordOutcome(res, Outcome{Err: errors.New("leg rejected")})
	}
	assert.Equal(t, StatusCooldown, b.CurrentState().Status)

	now = now.Add(time.Second)
	res, dec := b.Authorize(testOpp(1))
	require.True(t, dec.Allowed)
	b.RecordOutcome(res, Outcome{Err: errors.New("leg rejected")})
	assert.Equal(t, StatusHalted, b.CurrentState().Status)
}

func TestSuccessResetsErrorStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxConsecutiveErrors: 2, Cooldown: time.Nanosecond})
	now := time.Unix(1_700_000_000, 0).UTC()
	b.SetClock(func() time.Time { return now })

	res, _ := b.Authorize(testOpp(1))
	b.RecordOutcome(res, Outcome{Err: errors.New("timeout")})
	now = now.Add(time.Second)

	res, dec := b.Authorize(testOpp(1))
	require.True(t, dec.Allowed)
	b.RecordOutcome(res, Outcome{OK: true})
	assert.Equal(t, 0, b.CurrentState().ConsecutiveErrors)
}

// N concurrent authorizations that would jointly exceed the total-position
// limit: only the subset that fits may be allowed, never all N.
func TestConcurrentAuthorizeRespectsTotalLimit(t *testing.T) {
	// Each opportunity reserves 2*10=20 contracts; the limit fits two.
	b, _ := newTestBreaker(Config{MaxTotalPosition: 40, MaxConsecutiveErrors: 5, Cooldown: time.Second})

	const n = 8
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opp := testOpp(10)
			opp.Leg1.Key.MarketID = "distinct-" + opp.Leg1.Key.MarketID
			if _, dec := b.Authorize(opp); dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, allowed.Load(), int64(2))
	assert.Greater(t, allowed.Load(), int64(0))
}

func TestPerMarketLimitCountsLiveAndReserved(t *testing.T) {
	b, pos := newTestBreaker(Config{MaxPositionPerMarket: 25, MaxConsecutiveErrors: 5, Cooldown: time.Second})
	opp := testOpp(10)
	pos.net[opp.Leg1.Key] = 10

	res, dec := b.Authorize(opp) // projected 10+10 = 20, fits
	require.True(t, dec.Allowed)

	_, dec = b.Authorize(opp) // projected 10+10+10 = 30 > 25
	assert.False(t, dec.Allowed)

	// Releasing the first reservation frees the headroom again.
	b.Release(res)
	_, dec = b.Authorize(opp)
	assert.True(t, dec.Allowed)
}

func TestReleaseIsIdempotent(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxTotalPosition: 20, MaxConsecutiveErrors: 5, Cooldown: time.Second})
	res, dec := b.Authorize(testOpp(10))
	require.True(t, dec.Allowed)
	b.Release(res)
	b.Release(res)
	b.RecordOutcome(res, Outcome{OK: true})

	_, dec = b.Authorize(testOpp(10))
	assert.True(t, dec.Allowed)
}
