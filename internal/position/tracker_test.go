package position

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

var (
	yesKey = domain.BookKey{Venue: domain.VenueKalshi, MarketID: "m1", Outcome: domain.OutcomeYes}
	noKey  = domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "m2", Outcome: domain.OutcomeNo}
)

func TestApplyFillOpensAndExtends(t *testing.T) {
	tr := NewTracker(slog.Default())

	pos := tr.ApplyFill(yesKey, 10, 40)
	assert.Equal(t, int64(10), pos.Net)
	assert.Equal(t, domain.Cents(40), pos.AvgCost)

	// Extending re-weights the average cost: (10*40 + 10*50) / 20 = 45.
	pos = tr.ApplyFill(yesKey, 10, 50)
	assert.Equal(t, int64(20), pos.Net)
	assert.Equal(t, domain.Cents(45), pos.AvgCost)
	assert.Equal(t, domain.Cents(0), pos.RealizedCents)
}

func TestApplyFillRealizesOnClose(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)

	// Sell 6 at 45: realize (45-40)*6 = 30 cents.
	pos := tr.ApplyFill(yesKey, -6, 45)
	assert.Equal(t, int64(4), pos.Net)
	assert.Equal(t, domain.Cents(30), pos.RealizedCents)
	assert.Equal(t, domain.Cents(40), pos.AvgCost)
	assert.Equal(t, domain.Cents(30), tr.DailyPnL())

	// Close out at a loss: (35-40)*4 = -20.
	pos = tr.ApplyFill(yesKey, -4, 35)
	assert.Equal(t, int64(0), pos.Net)
	assert.Equal(t, domain.Cents(0), pos.AvgCost)
	assert.Equal(t, domain.Cents(10), pos.RealizedCents)
	assert.Equal(t, domain.Cents(10), tr.DailyPnL())
}

func TestApplyFillCrossesThroughZero(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 5, 40)

	pos := tr.ApplyFill(yesKey, -8, 50)
	assert.Equal(t, int64(-3), pos.Net)
	// Remainder opens short at the fill price.
	assert.Equal(t, domain.Cents(50), pos.AvgCost)
	assert.Equal(t, domain.Cents(50), pos.RealizedCents) // (50-40)*5
}

func TestSettleMatchedRealizesLockedEdge(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)
	tr.ApplyFill(noKey, 10, 56)

	realized := tr.SettleMatched(yesKey, noKey, 10)
	// 100 - 40 - 56 = 4 cents per pair over 10 contracts.
	assert.Equal(t, domain.Cents(40), realized)
	assert.Equal(t, int64(0), tr.Get(yesKey).Net)
	assert.Equal(t, int64(0), tr.Get(noKey).Net)
	assert.Equal(t, domain.Cents(40), tr.DailyPnL())
}

func TestSettleMatchedCapsAtAvailableNet(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)
	tr.ApplyFill(noKey, 4, 56)

	realized := tr.SettleMatched(yesKey, noKey, 10)
	assert.Equal(t, domain.Cents(16), realized) // only 4 matched pairs
	assert.Equal(t, int64(6), tr.Get(yesKey).Net)
	assert.Equal(t, int64(0), tr.Get(noKey).Net)
}

func TestTotalAbsContracts(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)
	tr.ApplyFill(noKey, -4, 56)
	assert.Equal(t, int64(14), tr.TotalAbsContracts())
	assert.Equal(t, int64(10), tr.NetContracts(yesKey))
	assert.Equal(t, int64(-4), tr.NetContracts(noKey))
}

func TestMarkToModel(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)
	tr.ApplyFill(noKey, -5, 60)

	books := map[domain.BookKey]domain.BookView{
		yesKey: {Key: yesKey, Bids: []domain.PriceLevel{{Price: 45, Size: 1}}},
		noKey:  {Key: noKey, Asks: []domain.PriceLevel{{Price: 55, Size: 1}}},
	}
	tr.MarkToModel(func(key domain.BookKey) (domain.BookView, error) {
		v, ok := books[key]
		if !ok {
			return domain.BookView{}, domain.ErrNotFound
		}
		return v, nil
	})

	assert.Equal(t, domain.Cents(50), tr.Get(yesKey).UnrealizedCents)  // (45-40)*10
	assert.Equal(t, domain.Cents(25), tr.Get(noKey).UnrealizedCents)   // (60-55)*5
}

func TestResetDaily(t *testing.T) {
	tr := NewTracker(slog.Default())
	tr.ApplyFill(yesKey, 10, 40)
	tr.ApplyFill(yesKey, -10, 45)
	require.Equal(t, domain.Cents(50), tr.DailyPnL())
	tr.ResetDaily()
	assert.Equal(t, domain.Cents(0), tr.DailyPnL())
}

// Concurrent fills across distinct keys must not interfere; fills on the
// same key are serialized.
func TestConcurrentFills(t *testing.T) {
	tr := NewTracker(slog.Default())
	keys := []domain.BookKey{
		{Venue: domain.VenueKalshi, MarketID: "a", Outcome: domain.OutcomeYes},
		{Venue: domain.VenueKalshi, MarketID: "b", Outcome: domain.OutcomeYes},
		{Venue: domain.VenuePolymarket, MarketID: "c", Outcome: domain.OutcomeNo},
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(key domain.BookKey) {
				defer wg.Done()
				for i := 0; i < 250; i++ {
					tr.ApplyFill(key, 1, 50)
				}
			}(key)
		}
	}
	wg.Wait()

	for _, key := range keys {
		assert.Equal(t, int64(1000), tr.Get(key).Net)
		assert.Equal(t, domain.Cents(50), tr.Get(key).AvgCost)
	}
	assert.Equal(t, int64(3000), tr.TotalAbsContracts())
}
