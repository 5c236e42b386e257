// Package broker provides broker adapters. The paper broker simulates
// executions against cached market prices so strategies run end to end
// without touching a live venue.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tickstore/internal/domain"
)

// Paper is a simulated broker. Market orders fill immediately at the cached
// last price; limit orders fill at their limit price. Fills are reported
// through the registered FillHandler, exactly as a live adapter would.
type Paper struct {
	prices domain.PriceCache
	logger *slog.Logger
	nowFn  func() time.Time

	mu      sync.RWMutex
	onFill  domain.FillHandler
	tickSub map[string]domain.TickHandler
}

// NewPaper creates a paper broker reading last prices from the given cache.
func NewPaper(prices domain.PriceCache, logger *slog.Logger) *Paper {
	return &Paper{
		prices:  prices,
		logger:  logger.With(slog.String("component", "paper_broker")),
		nowFn:   time.Now,
		tickSub: make(map[string]domain.TickHandler),
	}
}

// OnFill registers the handler receiving simulated fills.
func (p *Paper) OnFill(h domain.FillHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFill = h
}

// Authenticate always succeeds for the paper broker.
func (p *Paper) Authenticate(_ context.Context) error {
	return nil
}

// PlaceOrder simulates the order and reports a single full fill. The broker
// order id identifies the simulated execution.
func (p *Paper) PlaceOrder(ctx context.Context, order domain.Order) (string, error) {
	price, err := p.executionPrice(ctx, order)
	if err != nil {
		return "", err
	}

	brokerOrderID := "paper-" + uuid.New().String()

	p.mu.RLock()
	handler := p.onFill
	p.mu.RUnlock()

	p.logger.InfoContext(ctx, "paper order executed",
		slog.String("order_id", order.ID),
		slog.String("broker_order_id", brokerOrderID),
		slog.Float64("price", price),
		slog.Float64("quantity", order.Quantity),
	)

	if handler != nil {
		handler(ctx, domain.Fill{
			OrderID:  order.ID,
			Quantity: order.Quantity,
			Price:    price,
			At:       p.nowFn().UTC(),
		})
	}
	return brokerOrderID, nil
}

func (p *Paper) executionPrice(ctx context.Context, order domain.Order) (float64, error) {
	if order.Kind == domain.OrderKindLimit && order.Price != nil {
		return *order.Price, nil
	}
	price, _, err := p.prices.GetPrice(ctx, order.InstrumentID)
	if err != nil {
		return 0, fmt.Errorf("broker: no market price for %s: %w", order.InstrumentID, err)
	}
	return price, nil
}

// GetPositions returns nothing: the position ledger, not the broker, is the
// source of truth in paper mode.
func (p *Paper) GetPositions(_ context.Context) ([]domain.Position, error) {
	return nil, nil
}

// SubscribeToData registers a tick handler per instrument. Ticks arrive via
// HandleTick, wired to the market-data feed.
func (p *Paper) SubscribeToData(_ context.Context, instrumentIDs []string, h domain.TickHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range instrumentIDs {
		p.tickSub[id] = h
	}
	return nil
}

// HandleTick fans a tick out to the instrument's subscriber. It satisfies
// domain.TickHandler so the feed can deliver directly.
func (p *Paper) HandleTick(ctx context.Context, tick domain.Tick) {
	p.mu.RLock()
	h := p.tickSub[tick.InstrumentID]
	p.mu.RUnlock()
	if h != nil {
		h(ctx, tick)
	}
}

// Compile-time interface check.
var _ domain.Broker = (*Paper)(nil)
