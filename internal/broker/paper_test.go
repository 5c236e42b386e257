package broker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	cachemem "github.com/quantforge/tickstore/internal/cache/memory"
	"github.com/quantforge/tickstore/internal/domain"
)

func newPaper(t *testing.T) (*Paper, *cachemem.PriceCache) {
	t.Helper()
	prices := cachemem.NewPriceCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPaper(prices, logger), prices
}

func TestMarketOrderFillsAtLastPrice(t *testing.T) {
	ctx := context.Background()
	p, prices := newPaper(t)

	if err := prices.SetPrice(ctx, "inst-1", 101.5, time.Now()); err != nil {
		t.Fatalf("seed price: %v", err)
	}

	var fill domain.Fill
	p.OnFill(func(_ context.Context, f domain.Fill) { fill = f })

	order := domain.Order{
		ID:           "ord-1",
		InstrumentID: "inst-1",
		Transaction:  domain.TransactionBuy,
		Quantity:     10,
		Kind:         domain.OrderKindMarket,
	}
	brokerID, err := p.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !strings.HasPrefix(brokerID, "paper-") {
		t.Fatalf("broker order id = %q", brokerID)
	}
	if fill.OrderID != "ord-1" || fill.Price != 101.5 || fill.Quantity != 10 {
		t.Fatalf("fill = %+v", fill)
	}
}

func TestLimitOrderFillsAtLimitPrice(t *testing.T) {
	ctx := context.Background()
	p, _ := newPaper(t)

	var fill domain.Fill
	p.OnFill(func(_ context.Context, f domain.Fill) { fill = f })

	limit := 99.0
	order := domain.Order{
		ID:           "ord-2",
		InstrumentID: "inst-1",
		Transaction:  domain.TransactionSell,
		Quantity:     5,
		Price:        &limit,
		Kind:         domain.OrderKindLimit,
	}
	if _, err := p.PlaceOrder(ctx, order); err != nil {
		t.Fatalf("place: %v", err)
	}
	if fill.Price != 99.0 {
		t.Fatalf("fill price = %v, want limit 99", fill.Price)
	}
}

func TestMarketOrderWithoutPriceFails(t *testing.T) {
	ctx := context.Background()
	p, _ := newPaper(t)

	order := domain.Order{
		ID:           "ord-3",
		InstrumentID: "unknown",
		Quantity:     1,
		Kind:         domain.OrderKindMarket,
	}
	if _, err := p.PlaceOrder(ctx, order); err == nil {
		t.Fatal("market order filled without a cached price")
	}
}

func TestTickFanOut(t *testing.T) {
	ctx := context.Background()
	p, _ := newPaper(t)

	var got domain.Tick
	if err := p.SubscribeToData(ctx, []string{"inst-1"}, func(_ context.Context, tick domain.Tick) {
		got = tick
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tick := domain.Tick{Time: time.Now(), InstrumentID: "inst-1", Price: 50, Quantity: 2}
	p.HandleTick(ctx, tick)
	if got.Price != 50 {
		t.Fatalf("tick not delivered: %+v", got)
	}

	// Unsubscribed instruments are ignored.
	p.HandleTick(ctx, domain.Tick{Time: time.Now(), InstrumentID: "other", Price: 1, Quantity: 1})
	if got.InstrumentID != "inst-1" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}
