// Package polymarket streams the Polymarket CLOB market channel and
// normalizes it into domain book events. The CLOB quotes prices as
// decimal strings in dollars; they are converted to integer cents here.
// The market channel carries no sequence numbers, so the feed assigns a
// monotonic per-asset sequence, restarting above the last value after a
// reconnect so downstream staleness checks keep working.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
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

// AssetBinding maps one CLOB token to the book key its updates feed.
type AssetBinding struct {
	TokenID string
	Key     domain.BookKey
}

// Feed subscribes to the market channel for a set of token IDs.
type Feed struct {
	wsURL  string
	assets map[string]domain.BookKey
	seqs   map[string]uint64
	logger *slog.Logger
}

// NewFeed creates a feed for the given endpoint and token bindings.
func NewFeed(wsURL string, bindings []AssetBinding, logger *slog.Logger) *Feed {
	assets := make(map[string]domain.BookKey, len(bindings))
	for _, b := range bindings {
		assets[b.TokenID] = b.Key
	}
	return &Feed{
		wsURL:  wsURL,
		assets: assets,
		seqs:   make(map[string]uint64, len(bindings)),
		logger: logger.With(slog.String("component", "polymarket_feed")),
	}
}

// Name returns the venue name.
func (f *Feed) Name() string { return string(domain.VenuePolymarket) }

// Run connects, subscribes, and pumps events onto out until ctx is
// cancelled. Reconnects with exponential backoff on disconnect.
func (f *Feed) Run(ctx context.Context, out chan<- domain.BookEvent) error {
	if len(f.assets) == 0 {
		f.logger.Info("no assets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("polymarket ws disconnected, reconnecting",
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
		return fmt.Errorf("polymarket: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	tokens := make([]string, 0, len(f.assets))
	for id := range f.assets {
		tokens = append(tokens, id)
	}
	sort.Strings(tokens)
	sub := subscribeMsg{AssetsIDs: tokens, Type: "market"}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("polymarket: subscribe: %w", err)
	}
	f.logger.Info("polymarket ws subscribed", slog.Int("assets", len(tokens)))

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
			return fmt.Errorf("polymarket: read: %w", err)
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

type subscribeMsg struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMsg struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
}

type priceChangeMsg struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"` // "BUY" or "SELL"
		Size  string `json:"size"`
	} `json:"changes"`
}

// normalize converts one raw frame into zero or more book events. Market
// channel frames arrive as a JSON array of envelopes.
func (f *Feed) normalize(data []byte) []domain.BookEvent {
	var frames []json.RawMessage
	if err := json.Unmarshal(data, &frames); err != nil {
		// Some control frames arrive as single objects.
		frames = []json.RawMessage{data}
	}
	var events []domain.BookEvent
	now := time.Now().UTC()
	for _, frame := range frames {
		var head struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(frame, &head); err != nil {
			continue
		}
		switch head.EventType {
		case "book":
			var msg bookMsg
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			key, ok := f.assets[msg.AssetID]
			if !ok {
				continue
			}
			events = append(events, domain.BookEvent{
				Key:  key,
				Seq:  f.nextSeq(msg.AssetID),
				Kind: domain.EventSnapshot,
				Bids: parseLevels(msg.Bids),
				Asks: parseLevels(msg.Asks),
				At:   now,
			})
		case "price_change":
			var msg priceChangeMsg
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			key, ok := f.assets[msg.AssetID]
			if !ok {
				continue
			}
			for _, ch := range msg.Changes {
				price, ok := parseCents(ch.Price)
				if !ok {
					continue
				}
				size, ok := parseSize(ch.Size)
				if !ok {
					continue
				}
				side := domain.SideBid
				if strings.EqualFold(ch.Side, "SELL") {
					side = domain.SideAsk
				}
				events = append(events, domain.BookEvent{
					Key:   key,
					Seq:   f.nextSeq(msg.AssetID),
					Kind:  domain.EventDelta,
					Side:  side,
					Price: price,
					Size:  size,
					At:    now,
				})
			}
		}
	}
	return events
}

// nextSeq is only called from the single read loop, so no lock is needed.
func (f *Feed) nextSeq(assetID string) uint64 {
	f.seqs[assetID]++
	return f.seqs[assetID]
}

func parseLevels(raw []rawLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, ok := parseCents(lvl.Price)
		if !ok {
			continue
		}
		size, ok := parseSize(lvl.Size)
		if !ok || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// parseCents converts a dollar-decimal string like "0.42" to cents,
// rounding to the nearest cent.
func parseCents(s string) (domain.Cents, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, false
	}
	return domain.Cents(v*100 + 0.5), true
}

// parseSize truncates fractional share sizes to whole contracts.
func parseSize(s string) (int64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0, false
	}
	return int64(v), true
}
