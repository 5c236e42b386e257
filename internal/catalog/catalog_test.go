package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/store/memory"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.NewInstrumentStore(), logger)
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	inst, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "NSE", Type: domain.InstrumentStock})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !inst.IsActive {
		t.Fatal("new instrument not active")
	}

	byID, err := c.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	bySym, err := c.GetBySymbol(ctx, "ACME")
	if err != nil {
		t.Fatalf("get by symbol: %v", err)
	}
	if byID.ID != inst.ID || bySym.ID != inst.ID {
		t.Fatalf("lookup mismatch: %s vs %s vs %s", inst.ID, byID.ID, bySym.ID)
	}
}

func TestRegisterDuplicateSymbol(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	if _, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "NSE", Type: domain.InstrumentStock}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "BSE", Type: domain.InstrumentStock}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("duplicate symbol: %v, want ErrDuplicateKey", err)
	}
}

func TestAttachTypeDetails(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	stock, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "NSE", Type: domain.InstrumentStock})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	details := domain.StockDetails{Sector: "Energy", Industry: "Solar", MarketCap: 1.2e9}
	if err := c.AttachTypeDetails(ctx, stock.ID, details); err != nil {
		t.Fatalf("attach: %v", err)
	}

	got, err := c.TypeDetails(ctx, stock.ID)
	if err != nil {
		t.Fatalf("get details: %v", err)
	}
	sd, ok := got.(domain.StockDetails)
	if !ok {
		t.Fatalf("details type %T, want StockDetails", got)
	}
	if sd.Sector != "Energy" || sd.MarketCap != 1.2e9 {
		t.Fatalf("details = %+v", sd)
	}

	// Second attach is rejected.
	if err := c.AttachTypeDetails(ctx, stock.ID, details); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("second attach: %v, want ErrDuplicateKey", err)
	}
}

func TestAttachMismatchedDetails(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	stock, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "NSE", Type: domain.InstrumentStock})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	expiry := time.Now().AddDate(0, 1, 0)
	opt := domain.OptionDetails{UnderlyingID: stock.ID, StrikePrice: 100, Expiry: expiry, Right: domain.OptionCall}
	if err := c.AttachTypeDetails(ctx, stock.ID, opt); !errors.Is(err, domain.ErrTypeMismatch) {
		t.Fatalf("mismatched attach: %v, want ErrTypeMismatch", err)
	}
	if _, err := c.TypeDetails(ctx, stock.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("details after rejected attach: %v, want ErrNotFound", err)
	}
}

func TestDelist(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	inst, err := c.Register(ctx, InstrumentSpec{Symbol: "ACME", Exchange: "NSE", Type: domain.InstrumentStock})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Delist(ctx, inst.ID, time.Now()); err != nil {
		t.Fatalf("delist: %v", err)
	}

	active, err := c.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active after delist = %d, want 0", len(active))
	}

	// Delisted instruments stay resolvable for historical data.
	got, err := c.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get delisted: %v", err)
	}
	if got.IsActive {
		t.Fatal("delisted instrument still active")
	}
}
