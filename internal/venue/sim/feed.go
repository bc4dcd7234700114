package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Feed emits synthetic book snapshots for a fixed pair universe. It exists
// for dry-run mode: roughly one tick in five prices the two venues so that
// buying YES on one and NO on the other sums below a dollar, which drives
// the whole detection and execution path without touching a live venue.
type Feed struct {
	pairs    []domain.MarketPair
	interval time.Duration
	logger   *slog.Logger

	rng  *rand.Rand
	seqs map[domain.BookKey]uint64
}

// NewFeed creates a synthetic feed ticking at the given interval. A zero
// interval defaults to one second.
func NewFeed(pairs []domain.MarketPair, interval time.Duration, seed int64, logger *slog.Logger) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		pairs:    pairs,
		interval: interval,
		logger:   logger.With(slog.String("component", "sim_feed")),
		rng:      rand.New(rand.NewSource(seed)),
		seqs:     make(map[domain.BookKey]uint64),
	}
}

// Name identifies the feed in engine logs.
func (f *Feed) Name() string { return "sim" }

// Run emits snapshots until the context is cancelled. The rng and sequence
// map are only touched from this goroutine.
func (f *Feed) Run(ctx context.Context, events chan<- domain.BookEvent) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("synthetic feed started",
		slog.Int("pairs", len(f.pairs)),
		slog.Duration("interval", f.interval),
	)

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(f.pairs) == 0 {
				continue
			}
			pair := f.pairs[i%len(f.pairs)]
			i++
			for _, ev := range f.tick(pair) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case events <- ev:
				}
			}
		}
	}
}

// tick produces one snapshot per book in the pair. The fair probability
// drifts per tick; venue B is occasionally priced rich enough against venue
// A to open a cross-venue edge.
func (f *Feed) tick(pair domain.MarketPair) []domain.BookEvent {
	p := domain.Cents(20 + f.rng.Intn(61)) // fair YES probability in [20,80]

	spreadA := domain.Cents(1 + f.rng.Intn(2))
	spreadB := domain.Cents(1 + f.rng.Intn(2))

	// Venue B quotes around a shifted probability. A negative shift makes
	// NO on B cheap relative to YES on A.
	shift := domain.Cents(f.rng.Intn(3))
	if f.rng.Intn(5) == 0 {
		shift = -domain.Cents(3 + f.rng.Intn(4))
	}
	q := clampPrice(p + shift)

	var events []domain.BookEvent
	emit := func(key domain.BookKey, prob, spread domain.Cents) {
		if key.IsZero() {
			return
		}
		bid := clampPrice(prob - spread)
		ask := clampPrice(prob)
		if bid >= ask {
			bid = ask - 1
		}
		if bid < 1 {
			bid = 1
			ask = 2
		}
		f.seqs[key]++
		events = append(events, domain.BookEvent{
			Key:  key,
			Kind: domain.EventSnapshot,
			Seq:  f.seqs[key],
			Bids: []domain.PriceLevel{{Price: bid, Size: int64(50 + f.rng.Intn(150))}},
			Asks: []domain.PriceLevel{{Price: ask, Size: int64(50 + f.rng.Intn(150))}},
			At:   time.Now().UTC(),
		})
	}

	emit(pair.YesA, p, spreadA)
	emit(pair.NoA, 100-p, spreadA)
	emit(pair.YesB, q, spreadB)
	emit(pair.NoB, 100-q, spreadB)
	return events
}

func clampPrice(c domain.Cents) domain.Cents {
	if c < 2 {
		return 2
	}
	if c > 98 {
		return 98
	}
	return c
}
