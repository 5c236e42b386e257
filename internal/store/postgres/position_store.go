package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantforge/tickstore/internal/domain"
)

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PositionStore implements domain.PositionStore using PostgreSQL. The
// at-most-one OPEN position per (strategy, instrument) invariant is enforced
// by a partial unique index; a violating insert surfaces as
// ErrInvariantViolation.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, strategy_id, instrument_id, quantity,
	average_entry_price, current_price, unrealized_pnl, realized_pnl,
	stop_loss_price, target_price, status, opened_at, closed_at`

func scanPositionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var status string

	err := scanner.Scan(
		&p.ID, &p.StrategyID, &p.InstrumentID, &p.Quantity,
		&p.AverageEntryPrice, &p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL,
		&p.StopLossPrice, &p.TargetPrice, &status, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, strategy_id, instrument_id, quantity,
			average_entry_price, current_price, unrealized_pnl, realized_pnl,
			stop_loss_price, target_price, status, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.StrategyID, p.InstrumentID, p.Quantity,
		p.AverageEntryPrice, p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL,
		p.StopLossPrice, p.TargetPrice, string(p.Status), p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: open position already exists for %s/%s: %w",
				p.StrategyID, p.InstrumentID, domain.ErrInvariantViolation)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			quantity            = $2,
			average_entry_price = $3,
			current_price       = $4,
			unrealized_pnl      = $5,
			realized_pnl        = $6,
			stop_loss_price     = $7,
			target_price        = $8,
			status              = $9,
			closed_at           = $10,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Quantity, p.AverageEntryPrice,
		p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL,
		p.StopLossPrice, p.TargetPrice, string(p.Status), p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: open position already exists for %s/%s: %w",
				p.StrategyID, p.InstrumentID, domain.ErrInvariantViolation)
		}
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns the OPEN position for the pair, or ErrNotFound.
func (s *PositionStore) GetOpen(ctx context.Context, strategyID, instrumentID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE strategy_id = $1 AND instrument_id = $2 AND status = 'OPEN'`,
		strategyID, instrumentID)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%s: %w", strategyID, instrumentID, err)
	}
	return p, nil
}

// ListOpen returns a strategy's open positions, newest first. An empty
// strategyID lists open positions across all strategies.
func (s *PositionStore) ListOpen(ctx context.Context, strategyID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE ($1 = '' OR strategy_id = $1) AND status = 'OPEN'
		 ORDER BY opened_at DESC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns a strategy's closed positions with pagination and
// optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE strategy_id = $1 AND status = 'CLOSED'`
	args := []any{strategyID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
