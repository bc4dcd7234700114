package book

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

var testKey = domain.BookKey{Venue: domain.VenueKalshi, MarketID: "NFL-KC-YES", Outcome: domain.OutcomeYes}

func snapshotEvent(key domain.BookKey, seq uint64, bids, asks []domain.PriceLevel) domain.BookEvent {
	return domain.BookEvent{
		Key:  key,
		Seq:  seq,
		Kind: domain.EventSnapshot,
		Bids: bids,
		Asks: asks,
		At:   time.Now(),
	}
}

func TestApplySnapshotAndRead(t *testing.T) {
	c := New()
	ev := snapshotEvent(testKey, 1,
		[]domain.PriceLevel{{Price: 40, Size: 100}, {Price: 39, Size: 50}},
		[]domain.PriceLevel{{Price: 42, Size: 80}, {Price: 43, Size: 10}},
	)
	require.NoError(t, c.ApplySnapshot(ev))

	view, err := c.Read(testKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Seq)

	bid, ok := view.BestBid()
	require.True(t, ok)
	assert.Equal(t, domain.Cents(40), bid.Price)

	ask, ok := view.BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.Cents(42), ask.Price)
	assert.Equal(t, int64(80), ask.Size)
}

func TestReadUnknownKey(t *testing.T) {
	c := New()
	_, err := c.Read(testKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyDeltaInsertUpdateRemove(t *testing.T) {
	c := New()
	require.NoError(t, c.ApplySnapshot(snapshotEvent(testKey, 1,
		[]domain.PriceLevel{{Price: 40, Size: 100}},
		[]domain.PriceLevel{{Price: 44, Size: 80}},
	)))

	// Insert a better ask.
	require.NoError(t, c.ApplyDelta(domain.BookEvent{
		Key: testKey, Seq: 2, Side: domain.SideAsk, Price: 42, Size: 30,
	}))
	view, _ := c.Read(testKey)
	ask, _ := view.BestAsk()
	assert.Equal(t, domain.Cents(42), ask.Price)
	assert.Len(t, view.Asks, 2)

	// Update the level in place.
	require.NoError(t, c.ApplyDelta(domain.BookEvent{
		Key: testKey, Seq: 3, Side: domain.SideAsk, Price: 42, Size: 55,
	}))
	view, _ = c.Read(testKey)
	ask, _ = view.BestAsk()
	assert.Equal(t, int64(55), ask.Size)

	// Remove it; the deeper level becomes best again.
	require.NoError(t, c.ApplyDelta(domain.BookEvent{
		Key: testKey, Seq: 4, Side: domain.SideAsk, Price: 42, Size: 0,
	}))
	view, _ = c.Read(testKey)
	ask, _ = view.BestAsk()
	assert.Equal(t, domain.Cents(44), ask.Price)
	assert.Len(t, view.Asks, 1)
}

func TestApplyDeltaRejectsMalformed(t *testing.T) {
	c := New()
	cases := []struct {
		name string
		ev   domain.BookEvent
	}{
		{"price above range", domain.BookEvent{Key: testKey, Seq: 1, Side: domain.SideBid, Price: 101, Size: 1}},
		{"negative price", domain.BookEvent{Key: testKey, Seq: 1, Side: domain.SideBid, Price: -1, Size: 1}},
		{"negative size", domain.BookEvent{Key: testKey, Seq: 1, Side: domain.SideBid, Price: 50, Size: -5}},
		{"unknown side", domain.BookEvent{Key: testKey, Seq: 1, Side: "mid", Price: 50, Size: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, c.ApplyDelta(tc.ev), domain.ErrInvalidDelta)
		})
	}
	// Nothing was applied.
	_, err := c.Read(testKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStaleSequenceRejectedWithoutMutation(t *testing.T) {
	c := New()
	require.NoError(t, c.ApplySnapshot(snapshotEvent(testKey, 5,
		[]domain.PriceLevel{{Price: 40, Size: 100}},
		[]domain.PriceLevel{{Price: 42, Size: 80}},
	)))

	// Same sequence replay: rejected, state unchanged.
	replay := snapshotEvent(testKey, 5,
		[]domain.PriceLevel{{Price: 10, Size: 1}},
		[]domain.PriceLevel{{Price: 90, Size: 1}},
	)
	assert.ErrorIs(t, c.ApplySnapshot(replay), domain.ErrStaleSequence)

	// Older delta: rejected too.
	old := domain.BookEvent{Key: testKey, Seq: 3, Side: domain.SideBid, Price: 41, Size: 7}
	assert.ErrorIs(t, c.ApplyDelta(old), domain.ErrStaleSequence)

	view, err := c.Read(testKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), view.Seq)
	bid, _ := view.BestBid()
	assert.Equal(t, domain.Cents(40), bid.Price)
	assert.Equal(t, int64(100), bid.Size)
}

func TestCrossedBookRejected(t *testing.T) {
	c := New()
	crossed := snapshotEvent(testKey, 1,
		[]domain.PriceLevel{{Price: 60, Size: 10}},
		[]domain.PriceLevel{{Price: 55, Size: 10}},
	)
	assert.ErrorIs(t, c.ApplySnapshot(crossed), domain.ErrInvalidDelta)
}

// TestNoTornReads hammers a single key with sequential snapshots while
// readers verify every observed view is internally consistent: all sizes in
// a view must equal its sequence number, so a view mixing data from two
// updates would be caught immediately.
func TestNoTornReads(t *testing.T) {
	c := New()
	const writes = 5000
	done := make(chan struct{})

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				view, err := c.Read(testKey)
				if err != nil {
					continue
				}
				for _, lvl := range append(append([]domain.PriceLevel{}, view.Bids...), view.Asks...) {
					if lvl.Size != int64(view.Seq) {
						t.Errorf("torn read: seq %d saw level size %d", view.Seq, lvl.Size)
						return
					}
				}
			}
		}()
	}

	for seq := uint64(1); seq <= writes; seq++ {
		size := int64(seq)
		ev := snapshotEvent(testKey, seq,
			[]domain.PriceLevel{{Price: 40, Size: size}, {Price: 39, Size: size}},
			[]domain.PriceLevel{{Price: 42, Size: size}, {Price: 43, Size: size}},
		)
		require.NoError(t, c.ApplySnapshot(ev))
	}
	close(done)
	wg.Wait()
}

// Writers on distinct keys proceed independently.
func TestConcurrentWritersDistinctKeys(t *testing.T) {
	c := New()
	keys := []domain.BookKey{
		{Venue: domain.VenueKalshi, MarketID: "m1", Outcome: domain.OutcomeYes},
		{Venue: domain.VenueKalshi, MarketID: "m2", Outcome: domain.OutcomeNo},
		{Venue: domain.VenuePolymarket, MarketID: "m3", Outcome: domain.OutcomeYes},
		{Venue: domain.VenuePolymarket, MarketID: "m4", Outcome: domain.OutcomeNo},
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key domain.BookKey) {
			defer wg.Done()
			for seq := uint64(1); seq <= 2000; seq++ {
				ev := snapshotEvent(key, seq,
					[]domain.PriceLevel{{Price: 40, Size: int64(seq)}},
					[]domain.PriceLevel{{Price: 42, Size: int64(seq)}},
				)
				if err := c.ApplySnapshot(ev); err != nil {
					t.Errorf("apply %s seq %d: %v", key, seq, err)
					return
				}
			}
		}(key)
	}
	wg.Wait()

	for _, key := range keys {
		view, err := c.Read(key)
		require.NoError(t, err)
		assert.Equal(t, uint64(2000), view.Seq)
	}
}
