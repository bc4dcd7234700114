// Package kalshi streams Kalshi order-book data over WebSocket and
// normalizes it into domain book events. Kalshi quotes prices in cents
// natively, and NO-side books are derived from the venue's yes/no arrays.
// Venue sequence numbers restart per subscription, so the feed assigns
// its own monotonic per-market sequence that survives reconnects.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 30 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Feed subscribes to orderbook_snapshot / orderbook_delta for a set of
// market tickers and emits normalized book events. It keeps a copy of
// each market's resting book so deltas, which carry signed size changes,
// can be resolved to absolute level sizes.
type Feed struct {
	wsURL   string
	tickers []string
	books   map[string]*marketBook
	seqs    map[string]uint64
	logger  *slog.Logger
	cmdID   atomic.Int64
}

// marketBook holds one market's resting YES and NO bids by venue price.
type marketBook struct {
	yes map[int64]int64
	no  map[int64]int64
}

// NewFeed creates a feed for the given WebSocket endpoint and tickers.
func NewFeed(wsURL string, tickers []string, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:   wsURL,
		tickers: tickers,
		books:   make(map[string]*marketBook, len(tickers)),
		seqs:    make(map[string]uint64, len(tickers)),
		logger:  logger.With(slog.String("component", "kalshi_feed")),
	}
}

// Name returns the venue name.
func (f *Feed) Name() string { return string(domain.VenueKalshi) }

// Run connects, subscribes, and pumps events onto out until ctx is
// cancelled. Reconnects with exponential backoff on disconnect.
func (f *Feed) Run(ctx context.Context, out chan<- domain.BookEvent) error {
	if len(f.tickers) == 0 {
		f.logger.Info("no tickers to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("kalshi ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *Feed) runConnection(ctx context.Context, out chan<- domain.BookEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sub := wsCommand{
		ID:  f.cmdID.Add(1),
		Cmd: "subscribe",
		Params: wsParams{
			Channels:      []string{"orderbook_snapshot", "orderbook_delta"},
			MarketTickers: f.tickers,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("kalshi: subscribe: %w", err)
	}
	f.logger.Info("kalshi ws subscribed", slog.Int("tickers", len(f.tickers)))

	// Each subscription starts with fresh snapshots; drop any book state
	// carried over from the previous connection.
	f.books = make(map[string]*marketBook, len(f.tickers))

	// Ping loop; exits when ctx or the connection dies.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kalshi: read: %w", err)
		}
		for _, ev := range f.normalize(data) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type wsCommand struct {
	ID     int64    `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

type wsMessage struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type snapshotMsg struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"` // [price_cents, size]
	No           [][2]int64 `json:"no"`
}

type deltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"` // "yes" or "no"
}

// normalize converts one raw frame into zero or more book events. Kalshi
// publishes resting YES and NO bids; a YES bid at p is equivalently a NO
// ask at 100 - p, which is the side arbitrage buys. We emit each outcome's
// book from its own array as bid levels and the complement as ask levels.
func (f *Feed) normalize(data []byte) []domain.BookEvent {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("kalshi: skip unparseable frame", slog.String("error", err.Error()))
		return nil
	}
	now := time.Now().UTC()

	switch msg.Type {
	case "orderbook_snapshot":
		var snap snapshotMsg
		if err := json.Unmarshal(msg.Msg, &snap); err != nil {
			return nil
		}
		f.books[snap.MarketTicker] = &marketBook{
			yes: sizesFrom(snap.Yes),
			no:  sizesFrom(snap.No),
		}
		yes := domain.BookEvent{
			Key:  domain.BookKey{Venue: domain.VenueKalshi, MarketID: snap.MarketTicker, Outcome: domain.OutcomeYes},
			Seq:  f.nextSeq(snap.MarketTicker),
			Kind: domain.EventSnapshot,
			Bids: levelsFrom(snap.Yes),
			Asks: complementLevels(snap.No),
			At:   now,
		}
		no := domain.BookEvent{
			Key:  domain.BookKey{Venue: domain.VenueKalshi, MarketID: snap.MarketTicker, Outcome: domain.OutcomeNo},
			Seq:  f.nextSeq(snap.MarketTicker),
			Kind: domain.EventSnapshot,
			Bids: levelsFrom(snap.No),
			Asks: complementLevels(snap.Yes),
			At:   now,
		}
		return []domain.BookEvent{yes, no}

	case "orderbook_delta":
		var delta deltaMsg
		if err := json.Unmarshal(msg.Msg, &delta); err != nil {
			return nil
		}
		book, ok := f.books[delta.MarketTicker]
		if !ok {
			// No snapshot yet for this market; nothing to apply against.
			f.logger.Debug("kalshi: delta before snapshot", slog.String("ticker", delta.MarketTicker))
			return nil
		}
		outcome := domain.OutcomeYes
		opposite := domain.OutcomeNo
		levels := book.yes
		if delta.Side == "no" {
			outcome, opposite = domain.OutcomeNo, domain.OutcomeYes
			levels = book.no
		}
		size := levels[delta.Price] + delta.Delta
		if size <= 0 {
			size = 0
			delete(levels, delta.Price)
		} else {
			levels[delta.Price] = size
		}
		own := domain.BookEvent{
			Key:   domain.BookKey{Venue: domain.VenueKalshi, MarketID: delta.MarketTicker, Outcome: outcome},
			Seq:   f.nextSeq(delta.MarketTicker),
			Kind:  domain.EventDelta,
			Side:  domain.SideBid,
			Price: domain.Cents(delta.Price),
			Size:  size,
			At:    now,
		}
		other := domain.BookEvent{
			Key:   domain.BookKey{Venue: domain.VenueKalshi, MarketID: delta.MarketTicker, Outcome: opposite},
			Seq:   f.nextSeq(delta.MarketTicker),
			Kind:  domain.EventDelta,
			Side:  domain.SideAsk,
			Price: domain.Cents(100 - delta.Price),
			Size:  size,
			At:    now,
		}
		return []domain.BookEvent{own, other}
	}
	return nil
}

// nextSeq is only called from the single read loop, so no lock is needed.
func (f *Feed) nextSeq(ticker string) uint64 {
	f.seqs[ticker]++
	return f.seqs[ticker]
}

func sizesFrom(raw [][2]int64) map[int64]int64 {
	out := make(map[int64]int64, len(raw))
	for _, lvl := range raw {
		out[lvl[0]] = lvl[1]
	}
	return out
}

func levelsFrom(raw [][2]int64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, domain.PriceLevel{Price: domain.Cents(lvl[0]), Size: lvl[1]})
	}
	return out
}

// complementLevels mirrors the opposite outcome's bids into this outcome's
// asks at 100 - p.
func complementLevels(raw [][2]int64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, domain.PriceLevel{Price: domain.Cents(100 - lvl[0]), Size: lvl[1]})
	}
	return out
}
