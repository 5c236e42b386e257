package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

func newOrder(id string, status domain.OrderStatus, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		StrategyID:   "strat-1",
		InstrumentID: "inst-1",
		Transaction:  domain.TransactionBuy,
		Quantity:     100,
		Kind:         domain.OrderKindMarket,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestOrderCreateRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	now := time.Now()

	o := newOrder("o-1", domain.OrderStatusPending, now)
	entry := domain.OrderHistory{Status: domain.OrderStatusPending, Timestamp: now}
	if err := s.Create(ctx, o, entry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, o, entry); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("duplicate Create: got %v, want ErrDuplicateKey", err)
	}
}

func TestOrderTransitionIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	now := time.Now()

	o := newOrder("o-1", domain.OrderStatusPending, now)
	if err := s.Create(ctx, o, domain.OrderHistory{Status: o.Status, Timestamp: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	filled := o
	filled.Status = domain.OrderStatusFilled
	filled.FilledQuantity = o.Quantity
	if err := s.Transition(ctx, filled, domain.OrderStatusPending,
		domain.OrderHistory{Status: filled.Status, Timestamp: now}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	// The stored status is no longer PENDING, so a second swap from PENDING
	// must fail.
	cancelled := o
	cancelled.Status = domain.OrderStatusCancelled
	err := s.Transition(ctx, cancelled, domain.OrderStatusPending,
		domain.OrderHistory{Status: cancelled.Status, Timestamp: now})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stale Transition: got %v, want ErrInvalidTransition", err)
	}

	got, err := s.GetByID(ctx, "o-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", got.Status)
	}
}

func TestOrderTransitionUnknownOrder(t *testing.T) {
	s := NewOrderStore()
	err := s.Transition(context.Background(), newOrder("ghost", domain.OrderStatusFilled, time.Now()),
		domain.OrderStatusPending, domain.OrderHistory{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestOrderConcurrentTransitionsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	now := time.Now()

	o := newOrder("o-1", domain.OrderStatusPending, now)
	if err := s.Create(ctx, o, domain.OrderHistory{Status: o.Status, Timestamp: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := o
			next.Status = domain.OrderStatusCancelled
			err := s.Transition(ctx, next, domain.OrderStatusPending,
				domain.OrderHistory{Status: next.Status, Timestamp: time.Now()})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}

	h, err := s.History(ctx, "o-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("history length = %d, want 2 (create + one transition)", len(h))
	}
}

func TestOrderHistoryOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	now := time.Now()

	o := newOrder("o-1", domain.OrderStatusPending, now)
	if err := s.Create(ctx, o, domain.OrderHistory{Status: o.Status, Timestamp: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	partial := o
	partial.Status = domain.OrderStatusPartial
	if err := s.Transition(ctx, partial, domain.OrderStatusPending,
		domain.OrderHistory{Status: partial.Status, Timestamp: now.Add(time.Second)}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	h, err := s.History(ctx, "o-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("history length = %d, want 2", len(h))
	}
	if h[0].Status != domain.OrderStatusPending || h[1].Status != domain.OrderStatusPartial {
		t.Fatalf("history order = [%s, %s], want [PENDING, PARTIAL]", h[0].Status, h[1].Status)
	}
	if h[0].ID >= h[1].ID {
		t.Fatalf("history ids not monotonic: %d, %d", h[0].ID, h[1].ID)
	}

	if _, err := s.History(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("History(ghost): got %v, want ErrNotFound", err)
	}
}

func TestOrderListByStrategyNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	base := time.Now()

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		o := newOrder(id, domain.OrderStatusPending, base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, o, domain.OrderHistory{Status: o.Status, Timestamp: o.CreatedAt}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	out, err := s.ListByStrategy(ctx, "strat-1", domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListByStrategy: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ID != "o-3" || out[1].ID != "o-2" {
		t.Fatalf("order = [%s, %s], want [o-3, o-2]", out[0].ID, out[1].ID)
	}

	since := base.Add(90 * time.Second)
	out, err = s.ListByStrategy(ctx, "strat-1", domain.ListOpts{Since: &since})
	if err != nil {
		t.Fatalf("ListByStrategy since: %v", err)
	}
	if len(out) != 1 || out[0].ID != "o-3" {
		t.Fatalf("since filter returned %d orders, want just o-3", len(out))
	}
}

func TestOrderListOpenExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	now := time.Now()

	open := newOrder("o-open", domain.OrderStatusPending, now)
	if err := s.Create(ctx, open, domain.OrderHistory{Status: open.Status, Timestamp: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	done := newOrder("o-done", domain.OrderStatusPending, now)
	if err := s.Create(ctx, done, domain.OrderHistory{Status: done.Status, Timestamp: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	filled := done
	filled.Status = domain.OrderStatusFilled
	if err := s.Transition(ctx, filled, domain.OrderStatusPending,
		domain.OrderHistory{Status: filled.Status, Timestamp: now}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	out, err := s.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(out) != 1 || out[0].ID != "o-open" {
		t.Fatalf("ListOpen = %v, want just o-open", out)
	}
}
