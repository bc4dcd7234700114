package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Dedup suppresses repeat execution of the same opportunity. The detector
// re-emits an opportunity on every book event while the prices persist, so
// attempts are keyed by pair, strategy, and leg prices rather than by the
// opportunity's unique ID. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that considers an opportunity a duplicate if the
// same fingerprint has been seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Fingerprint returns the dedup key for an opportunity.
func Fingerprint(opp domain.Opportunity) string {
	return fmt.Sprintf("%s|%s|%d|%d", opp.PairID, opp.Strategy, opp.Leg1.Price, opp.Leg2.Price)
}

// IsDuplicate reports whether the fingerprint was seen within the TTL
// window, recording it if not.
func (d *Dedup) IsDuplicate(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[fingerprint]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[fingerprint] = now
	return false
}

// Cleanup removes expired entries. Called periodically by the engine to
// prevent unbounded growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
