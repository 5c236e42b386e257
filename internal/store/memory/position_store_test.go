package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

func newPosition(id string, status domain.PositionStatus, openedAt time.Time) domain.Position {
	return domain.Position{
		ID:                id,
		StrategyID:        "strat-1",
		InstrumentID:      "inst-1",
		Quantity:          100,
		AverageEntryPrice: 10,
		Status:            status,
		OpenedAt:          openedAt,
	}
}

func TestPositionSecondOpenForPairRejected(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	now := time.Now()

	if err := s.Create(ctx, newPosition("p-1", domain.PositionStatusOpen, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, newPosition("p-2", domain.PositionStatusOpen, now))
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("second open Create: got %v, want ErrInvariantViolation", err)
	}

	// A different pair is unaffected.
	other := newPosition("p-3", domain.PositionStatusOpen, now)
	other.InstrumentID = "inst-2"
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create other pair: %v", err)
	}
}

func TestPositionCloseFreesThePair(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	now := time.Now()

	pos := newPosition("p-1", domain.PositionStatusOpen, now)
	if err := s.Create(ctx, pos); err != nil {
		t.Fatalf("Create: %v", err)
	}

	closedAt := now.Add(time.Hour)
	pos.Status = domain.PositionStatusClosed
	pos.Quantity = 0
	pos.ClosedAt = &closedAt
	if err := s.Update(ctx, pos); err != nil {
		t.Fatalf("Update close: %v", err)
	}

	if _, err := s.GetOpen(ctx, "strat-1", "inst-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetOpen after close: got %v, want ErrNotFound", err)
	}

	// The pair is free again.
	if err := s.Create(ctx, newPosition("p-2", domain.PositionStatusOpen, closedAt)); err != nil {
		t.Fatalf("Create after close: %v", err)
	}

	hist, err := s.ListHistory(ctx, "strat-1", domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != "p-1" {
		t.Fatalf("history = %v, want just p-1", hist)
	}
}

func TestPositionReopenGuardsIndex(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	now := time.Now()

	closed := newPosition("p-1", domain.PositionStatusClosed, now)
	if err := s.Create(ctx, closed); err != nil {
		t.Fatalf("Create closed: %v", err)
	}
	open := newPosition("p-2", domain.PositionStatusOpen, now)
	if err := s.Create(ctx, open); err != nil {
		t.Fatalf("Create open: %v", err)
	}

	// Reopening p-1 while p-2 holds the pair must fail.
	closed.Status = domain.PositionStatusOpen
	if err := s.Update(ctx, closed); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("reopen Update: got %v, want ErrInvariantViolation", err)
	}
}

func TestPositionUpdateUnknownID(t *testing.T) {
	s := NewPositionStore()
	err := s.Update(context.Background(), newPosition("ghost", domain.PositionStatusOpen, time.Now()))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPositionListOpenFiltersByStrategy(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	now := time.Now()

	a := newPosition("p-1", domain.PositionStatusOpen, now)
	b := newPosition("p-2", domain.PositionStatusOpen, now.Add(time.Minute))
	b.StrategyID = "strat-2"
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := s.Create(ctx, b); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	out, err := s.ListOpen(ctx, "strat-2")
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(out) != 1 || out[0].ID != "p-2" {
		t.Fatalf("ListOpen(strat-2) = %v, want just p-2", out)
	}

	all, err := s.ListOpen(ctx, "")
	if err != nil {
		t.Fatalf("ListOpen all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListOpen(\"\") = %d positions, want 2", len(all))
	}
}
