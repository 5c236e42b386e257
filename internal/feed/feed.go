// Package feed connects to an exchange market-data WebSocket and routes
// ticks and book snapshots into the time-series ledger and the price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/ledger"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is the wire format for a subscription request.
type subscribeCommand struct {
	Type        string   `json:"type"`
	Channels    []string `json:"channels"`
	Instruments []string `json:"instruments"`
}

// tickMessage is the wire format for a trade print.
type tickMessage struct {
	InstrumentID string  `json:"instrument_id"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Timestamp    int64   `json:"timestamp"` // Unix nanoseconds
}

// bookMessage is the wire format for a depth snapshot.
type bookMessage struct {
	InstrumentID  string    `json:"instrument_id"`
	BidPrices     []float64 `json:"bid_prices"`
	BidQuantities []float64 `json:"bid_quantities"`
	AskPrices     []float64 `json:"ask_prices"`
	AskQuantities []float64 `json:"ask_quantities"`
	Timestamp     int64     `json:"timestamp"`
}

// Feed streams market data into the ledger. Ticks additionally refresh the
// price cache so consumers read last prices without touching the ledger.
type Feed struct {
	wsURL       string
	instruments []string
	ledger      *ledger.Ledger
	prices      domain.PriceCache
	logger      *slog.Logger

	handlerMu sync.RWMutex
	onTick    domain.TickHandler

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Feed subscribing to the given instrument ids.
func New(wsURL string, instruments []string, lg *ledger.Ledger, prices domain.PriceCache, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:       wsURL,
		instruments: instruments,
		ledger:      lg,
		prices:      prices,
		logger:      logger.With(slog.String("component", "feed")),
		done:        make(chan struct{}),
	}
}

// OnTick registers an optional handler invoked after each tick is ingested.
// The paper broker uses this to match resting orders. Safe to call while the
// feed is running.
func (f *Feed) OnTick(h domain.TickHandler) {
	f.handlerMu.Lock()
	f.onTick = h
	f.handlerMu.Unlock()
}

func (f *Feed) tickHandler() domain.TickHandler {
	f.handlerMu.RLock()
	defer f.handlerMu.RUnlock()
	return f.onTick
}

// Run connects, subscribes, and pumps messages until ctx is cancelled or the
// feed is closed. It reconnects with exponential backoff on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cmd := subscribeCommand{
		Type:        "subscribe",
		Channels:    []string{"ticks", "book"},
		Instruments: f.instruments,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("instruments", len(f.instruments)))

	// Close the connection when ctx or the feed shuts down so ReadMessage
	// unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}()

	go f.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes it by channel. Unparseable
// messages are dropped.
func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Channel {
	case "ticks":
		var msg tickMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			return
		}
		f.handleTick(ctx, msg)
	case "book":
		var msg bookMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			return
		}
		f.handleBook(ctx, msg)
	}
}

func (f *Feed) handleTick(ctx context.Context, msg tickMessage) {
	tick := domain.Tick{
		Time:         time.Unix(0, msg.Timestamp),
		InstrumentID: msg.InstrumentID,
		Price:        msg.Price,
		Quantity:     msg.Quantity,
	}
	if err := f.ledger.Ingest(ctx, tick); err != nil {
		f.logger.Warn("tick rejected",
			slog.String("instrument_id", msg.InstrumentID),
			slog.String("error", err.Error()),
		)
		return
	}
	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, tick.InstrumentID, tick.Price, tick.Time); err != nil {
			f.logger.Warn("price cache update failed",
				slog.String("instrument_id", tick.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	if h := f.tickHandler(); h != nil {
		h(ctx, tick)
	}
}

func (f *Feed) handleBook(ctx context.Context, msg bookMessage) {
	snap := domain.BookSnapshot{
		Time:          time.Unix(0, msg.Timestamp),
		InstrumentID:  msg.InstrumentID,
		BidPrices:     msg.BidPrices,
		BidQuantities: msg.BidQuantities,
		AskPrices:     msg.AskPrices,
		AskQuantities: msg.AskQuantities,
	}
	if err := f.ledger.Ingest(ctx, snap); err != nil {
		f.logger.Warn("book snapshot rejected",
			slog.String("instrument_id", msg.InstrumentID),
			slog.String("error", err.Error()),
		)
	}
}
