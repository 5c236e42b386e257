package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	cachemem "github.com/quantforge/tickstore/internal/cache/memory"
	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/ledger"
)

func newFeed(t *testing.T) (*Feed, *ledger.Ledger, *cachemem.PriceCache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lg, err := ledger.New(nil, logger)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	prices := cachemem.NewPriceCache()
	return New("ws://localhost/feed", []string{"inst-1"}, lg, prices, logger), lg, prices
}

func tickEnvelope(t *testing.T, msg tickMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal tick: %v", err)
	}
	raw, err := json.Marshal(map[string]any{"channel": "ticks", "data": json.RawMessage(data)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestTickRoutesToLedgerAndCache(t *testing.T) {
	ctx := context.Background()
	f, lg, prices := newFeed(t)

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.handleMessage(ctx, tickEnvelope(t, tickMessage{
		InstrumentID: "inst-1",
		Price:        42.5,
		Quantity:     3,
		Timestamp:    at.UnixNano(),
	}))

	stats := lg.Stats()
	if stats[domain.SeriesTicks].Records != 1 {
		t.Fatalf("tick records = %d, want 1", stats[domain.SeriesTicks].Records)
	}
	price, ts, err := prices.GetPrice(ctx, "inst-1")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price != 42.5 || !ts.Equal(at) {
		t.Fatalf("cached price = %v at %v", price, ts)
	}
}

func TestMalformedMessagesDropped(t *testing.T) {
	ctx := context.Background()
	f, lg, _ := newFeed(t)

	f.handleMessage(ctx, []byte("not json"))
	f.handleMessage(ctx, []byte(`{"channel":"ticks","data":"not an object"}`))
	f.handleMessage(ctx, tickEnvelope(t, tickMessage{InstrumentID: "", Price: 1, Quantity: 1, Timestamp: time.Now().UnixNano()}))

	stats := lg.Stats()
	if stats[domain.SeriesTicks].Records != 0 {
		t.Fatalf("tick records = %d, want 0", stats[domain.SeriesTicks].Records)
	}
}

// Handlers register from another goroutine while the read loop is delivering,
// so registration and delivery must not race.
func TestOnTickRegistersWhileDelivering(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newFeed(t)

	const messages = 200
	var mu sync.Mutex
	seen := 0

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		base := time.Now().UnixNano()
		for i := 0; i < messages; i++ {
			f.handleMessage(ctx, tickEnvelope(t, tickMessage{
				InstrumentID: "inst-1",
				Price:        10,
				Quantity:     1,
				Timestamp:    base + int64(i),
			}))
		}
	}()
	go func() {
		defer wg.Done()
		f.OnTick(func(context.Context, domain.Tick) {
			mu.Lock()
			seen++
			mu.Unlock()
		})
	}()
	wg.Wait()

	// Delivery after registration settles always reaches the handler.
	before := seen
	f.handleMessage(ctx, tickEnvelope(t, tickMessage{
		InstrumentID: "inst-1",
		Price:        11,
		Quantity:     1,
		Timestamp:    time.Now().UnixNano(),
	}))
	if seen != before+1 {
		t.Fatalf("handler saw %d ticks after final delivery, want %d", seen, before+1)
	}
}
