package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantforge/tickstore/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Order writes and
// their history appends share one transaction, so an observer never sees an
// order row without its history entry.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, strategy_id, instrument_id, transaction_type, quantity,
	price, kind, status, broker_order_id, filled_quantity, average_price,
	created_at, updated_at, executed_at, cancelled_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var txn, kind, status string

	err := scanner.Scan(
		&o.ID, &o.StrategyID, &o.InstrumentID, &txn, &o.Quantity,
		&o.Price, &kind, &status, &o.BrokerOrderID, &o.FilledQuantity, &o.AveragePrice,
		&o.CreatedAt, &o.UpdatedAt, &o.ExecutedAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Transaction = domain.TransactionType(txn)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func appendHistoryTx(ctx context.Context, tx pgx.Tx, entry domain.OrderHistory) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal history detail: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO order_history (order_id, status, ts, detail) VALUES ($1, $2, $3, $4)`,
		entry.OrderID, string(entry.Status), entry.Timestamp, detailJSON,
	)
	return err
}

// Create inserts a new order and its initial history entry in one
// transaction.
func (s *OrderStore) Create(ctx context.Context, o domain.Order, entry domain.OrderHistory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: begin: %w", o.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO orders (
			id, strategy_id, instrument_id, transaction_type, quantity,
			price, kind, status, broker_order_id, filled_quantity, average_price,
			created_at, updated_at, executed_at, cancelled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`
	if _, err := tx.Exec(ctx, query,
		o.ID, o.StrategyID, o.InstrumentID, string(o.Transaction), o.Quantity,
		o.Price, string(o.Kind), string(o.Status), o.BrokerOrderID, o.FilledQuantity, o.AveragePrice,
		o.CreatedAt, o.UpdatedAt, o.ExecutedAt, o.CancelledAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create order %s: %w", o.ID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}

	if err := appendHistoryTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: create order %s: commit: %w", o.ID, err)
	}
	return nil
}

// Transition replaces the order's mutable fields and appends a history entry
// in one transaction, guarded by a compare-and-set on the current status. A
// lost race surfaces as ErrInvalidTransition.
func (s *OrderStore) Transition(ctx context.Context, o domain.Order, from domain.OrderStatus, entry domain.OrderHistory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: transition order %s: begin: %w", o.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE orders SET
			status          = $3,
			broker_order_id = $4,
			filled_quantity = $5,
			average_price   = $6,
			updated_at      = $7,
			executed_at     = $8,
			cancelled_at    = $9
		WHERE id = $1 AND status = $2`
	tag, err := tx.Exec(ctx, query,
		o.ID, string(from),
		string(o.Status), o.BrokerOrderID, o.FilledQuantity, o.AveragePrice,
		o.UpdatedAt, o.ExecutedAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: transition order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", o.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: transition order %s: %w", o.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: order %s no longer in %s: %w", o.ID, from, domain.ErrInvalidTransition)
	}

	if err := appendHistoryTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("postgres: transition order %s: %w", o.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: transition order %s: commit: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// History returns an order's audit trail, oldest first.
func (s *OrderStore) History(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, status, ts, detail FROM order_history
		 WHERE order_id = $1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: order history %s: %w", orderID, err)
	}
	defer rows.Close()

	var entries []domain.OrderHistory
	for rows.Next() {
		var e domain.OrderHistory
		var status string
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Timestamp, &detailJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan order history: %w", err)
		}
		e.Status = domain.OrderStatus(status)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal history detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: order history rows: %w", err)
	}
	if entries == nil {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("postgres: order history %s: %w", orderID, err)
		}
		if !exists {
			return nil, domain.ErrNotFound
		}
	}
	return entries, nil
}

// ListByStrategy returns a strategy's orders, newest first.
func (s *OrderStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE strategy_id = $1`
	args := []any{strategyID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list orders by strategy: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by strategy: %w", err)
	}
	return orders, nil
}

// ListOpen returns every order in a non-terminal status, newest first.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('PENDING', 'PARTIAL')
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
