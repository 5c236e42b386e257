// Package catalog manages the instrument catalog: registration, lookup, and
// the type-specific extension rows.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tickstore/internal/domain"
)

// InstrumentSpec describes a new instrument to register.
type InstrumentSpec struct {
	Symbol      string
	Exchange    string
	Type        domain.InstrumentType
	ListingDate *time.Time
}

// Catalog is the instrument catalog service. All writes are immediately
// visible to readers.
type Catalog struct {
	instruments domain.InstrumentStore
	logger      *slog.Logger
}

// New creates a Catalog.
func New(instruments domain.InstrumentStore, logger *slog.Logger) *Catalog {
	return &Catalog{
		instruments: instruments,
		logger:      logger.With(slog.String("component", "catalog")),
	}
}

// Register creates a new active instrument. It fails with ErrDuplicateKey
// when the symbol is already registered.
func (c *Catalog) Register(ctx context.Context, spec InstrumentSpec) (domain.Instrument, error) {
	symbol := strings.TrimSpace(spec.Symbol)
	if symbol == "" {
		return domain.Instrument{}, fmt.Errorf("catalog: empty symbol")
	}
	if !spec.Type.Valid() {
		return domain.Instrument{}, fmt.Errorf("catalog: unknown instrument type %q", spec.Type)
	}

	now := time.Now().UTC()
	inst := domain.Instrument{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Exchange:    spec.Exchange,
		Type:        spec.Type,
		IsActive:    true,
		ListingDate: spec.ListingDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.instruments.Create(ctx, inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("catalog: register %s: %w", symbol, err)
	}

	c.logger.InfoContext(ctx, "instrument registered",
		slog.String("instrument_id", inst.ID),
		slog.String("symbol", inst.Symbol),
		slog.String("type", string(inst.Type)),
	)
	return inst, nil
}

// Get retrieves an instrument by id.
func (c *Catalog) Get(ctx context.Context, id string) (domain.Instrument, error) {
	inst, err := c.instruments.GetByID(ctx, id)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return inst, nil
}

// GetBySymbol retrieves an instrument by its unique symbol.
func (c *Catalog) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	inst, err := c.instruments.GetBySymbol(ctx, symbol)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("catalog: get symbol %s: %w", symbol, err)
	}
	return inst, nil
}

// ListActive returns active instruments.
func (c *Catalog) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Instrument, error) {
	return c.instruments.ListActive(ctx, opts)
}

// Delist marks an instrument inactive and records the delisting date.
func (c *Catalog) Delist(ctx context.Context, id string, at time.Time) error {
	if err := c.instruments.SetActive(ctx, id, false, &at); err != nil {
		return fmt.Errorf("catalog: delist %s: %w", id, err)
	}
	return nil
}

// AttachTypeDetails stores the type-specific extension row for an
// instrument. It fails with ErrTypeMismatch when the details variant does not
// match the instrument's declared type, and with ErrDuplicateKey when a
// details row already exists.
func (c *Catalog) AttachTypeDetails(ctx context.Context, instrumentID string, details domain.TypeDetails) error {
	inst, err := c.instruments.GetByID(ctx, instrumentID)
	if err != nil {
		return fmt.Errorf("catalog: attach details %s: %w", instrumentID, err)
	}
	if details == nil {
		return fmt.Errorf("catalog: nil details for %s", instrumentID)
	}
	if details.InstrumentKind() != inst.Type {
		return fmt.Errorf("catalog: %s details on %s instrument %s: %w",
			details.InstrumentKind(), inst.Type, inst.Symbol, domain.ErrTypeMismatch)
	}

	if err := c.instruments.AttachDetails(ctx, instrumentID, details); err != nil {
		return fmt.Errorf("catalog: attach details %s: %w", instrumentID, err)
	}

	c.logger.InfoContext(ctx, "type details attached",
		slog.String("instrument_id", instrumentID),
		slog.String("type", string(inst.Type)),
	)
	return nil
}

// TypeDetails retrieves the extension row of an instrument.
func (c *Catalog) TypeDetails(ctx context.Context, instrumentID string) (domain.TypeDetails, error) {
	d, err := c.instruments.GetDetails(ctx, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("catalog: get details %s: %w", instrumentID, err)
	}
	return d, nil
}
