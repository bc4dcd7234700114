package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// mirrorTTL keeps stale books from lingering after a market is delisted or
// the engine stops mirroring it.
const mirrorTTL = 5 * time.Minute

// BookMirror implements domain.BookMirror by storing each book view as a
// JSON blob.
//
// Key schema:
//
//	mirror:book:{venue}:{market}:{outcome} - JSON-encoded BookView with TTL
type BookMirror struct {
	rdb *redis.Client
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{rdb: c.Underlying()}
}

func mirrorKey(key domain.BookKey) string {
	return fmt.Sprintf("mirror:book:%s:%s:%s", key.Venue, key.MarketID, key.Outcome)
}

// SetView writes the view, replacing any previous mirror of the same book.
func (m *BookMirror) SetView(ctx context.Context, view domain.BookView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal book view: %w", err)
	}
	if err := m.rdb.Set(ctx, mirrorKey(view.Key), data, mirrorTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book view %s: %w", view.Key, err)
	}
	return nil
}

// GetView reads a mirrored view. Returns domain.ErrNotFound when the book
// has never been mirrored or its TTL expired.
func (m *BookMirror) GetView(ctx context.Context, key domain.BookKey) (domain.BookView, error) {
	data, err := m.rdb.Get(ctx, mirrorKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.BookView{}, domain.ErrNotFound
		}
		return domain.BookView{}, fmt.Errorf("redis: get book view %s: %w", key, err)
	}
	var view domain.BookView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.BookView{}, fmt.Errorf("redis: unmarshal book view %s: %w", key, err)
	}
	return view, nil
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
