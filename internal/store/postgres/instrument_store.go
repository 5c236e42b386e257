package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantforge/tickstore/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL. Type
// details live in per-variant side tables keyed by instrument id.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates a new InstrumentStore backed by the given connection pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

const instrumentSelectCols = `id, symbol, exchange, type, is_active,
	listing_date, delisting_date, created_at, updated_at`

func scanInstrumentFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Instrument, error) {
	var inst domain.Instrument
	var typ string

	err := scanner.Scan(
		&inst.ID, &inst.Symbol, &inst.Exchange, &typ, &inst.IsActive,
		&inst.ListingDate, &inst.DelistingDate, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return domain.Instrument{}, err
	}
	inst.Type = domain.InstrumentType(typ)
	return inst, nil
}

// Create inserts a new instrument.
func (s *InstrumentStore) Create(ctx context.Context, inst domain.Instrument) error {
	const query = `
		INSERT INTO instruments (
			id, symbol, exchange, type, is_active,
			listing_date, delisting_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		inst.ID, inst.Symbol, inst.Exchange, string(inst.Type), inst.IsActive,
		inst.ListingDate, inst.DelistingDate, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: instrument symbol %q: %w", inst.Symbol, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("postgres: create instrument %s: %w", inst.ID, err)
	}
	return nil
}

// GetByID retrieves an instrument by id.
func (s *InstrumentStore) GetByID(ctx context.Context, id string) (domain.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE id = $1`, id)

	inst, err := scanInstrumentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", id, err)
	}
	return inst, nil
}

// GetBySymbol retrieves an instrument by its unique symbol.
func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE symbol = $1`, symbol)

	inst, err := scanInstrumentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument symbol %s: %w", symbol, err)
	}
	return inst, nil
}

// ListActive returns active instruments ordered by symbol.
func (s *InstrumentStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Instrument, error) {
	query := `SELECT ` + instrumentSelectCols + ` FROM instruments WHERE is_active ORDER BY symbol`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrumentFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active instruments rows: %w", err)
	}
	return instruments, nil
}

// SetActive flips an instrument's active flag, recording the delisting date
// when deactivating.
func (s *InstrumentStore) SetActive(ctx context.Context, id string, active bool, delistedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instruments SET is_active = $2, delisting_date = $3, updated_at = NOW() WHERE id = $1`,
		id, active, delistedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: set instrument %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AttachDetails stores the type-specific extension row for an instrument.
func (s *InstrumentStore) AttachDetails(ctx context.Context, instrumentID string, details domain.TypeDetails) error {
	var err error
	switch d := details.(type) {
	case domain.StockDetails:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO stock_details (instrument_id, sector, industry, market_cap)
			 VALUES ($1, $2, $3, $4)`,
			instrumentID, d.Sector, d.Industry, d.MarketCap)
	case domain.OptionDetails:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO option_details (instrument_id, underlying_id, strike_price, expiry, opt_right)
			 VALUES ($1, $2, $3, $4, $5)`,
			instrumentID, d.UnderlyingID, d.StrikePrice, d.Expiry, string(d.Right))
	case domain.FutureDetails:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO future_details (instrument_id, underlying_id, expiry, margin_percent)
			 VALUES ($1, $2, $3, $4)`,
			instrumentID, d.UnderlyingID, d.Expiry, d.MarginPercent)
	default:
		return fmt.Errorf("postgres: details variant %T for %s: %w", details, instrumentID, domain.ErrTypeMismatch)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: details already attached to %s: %w", instrumentID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("postgres: attach details %s: %w", instrumentID, err)
	}
	return nil
}

// GetDetails retrieves the extension row of an instrument. The instrument's
// declared type selects which side table is consulted.
func (s *InstrumentStore) GetDetails(ctx context.Context, instrumentID string) (domain.TypeDetails, error) {
	inst, err := s.GetByID(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	switch inst.Type {
	case domain.InstrumentStock:
		var d domain.StockDetails
		err = s.pool.QueryRow(ctx,
			`SELECT sector, industry, market_cap FROM stock_details WHERE instrument_id = $1`,
			instrumentID).Scan(&d.Sector, &d.Industry, &d.MarketCap)
		if err == nil {
			return d, nil
		}
	case domain.InstrumentOption:
		var d domain.OptionDetails
		var right string
		err = s.pool.QueryRow(ctx,
			`SELECT underlying_id, strike_price, expiry, opt_right FROM option_details WHERE instrument_id = $1`,
			instrumentID).Scan(&d.UnderlyingID, &d.StrikePrice, &d.Expiry, &right)
		if err == nil {
			d.Right = domain.OptionRight(right)
			return d, nil
		}
	case domain.InstrumentFuture:
		var d domain.FutureDetails
		err = s.pool.QueryRow(ctx,
			`SELECT underlying_id, expiry, margin_percent FROM future_details WHERE instrument_id = $1`,
			instrumentID).Scan(&d.UnderlyingID, &d.Expiry, &d.MarginPercent)
		if err == nil {
			return d, nil
		}
	default:
		// INDEX instruments carry no extension.
		return nil, domain.ErrNotFound
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return nil, fmt.Errorf("postgres: get details %s: %w", instrumentID, err)
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)
