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

// StrategyStore implements domain.StrategyStore using PostgreSQL. The
// configuration map is stored as JSONB.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, name, description, class_name, config_json,
	enabled, mode, created_at, updated_at`

func scanStrategyFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var s domain.Strategy
	var mode string
	var configJSON []byte

	err := scanner.Scan(
		&s.ID, &s.Name, &s.Description, &s.ClassName, &configJSON,
		&s.Enabled, &mode, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Strategy{}, err
	}
	s.Mode = domain.ExecutionMode(mode)
	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &s.Config); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal strategy config: %w", err)
		}
	}
	return s, nil
}

// Create registers a strategy.
func (s *StrategyStore) Create(ctx context.Context, strat domain.Strategy) error {
	configJSON, err := json.Marshal(strat.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy config %s: %w", strat.ID, err)
	}

	const query = `
		INSERT INTO strategies (
			id, name, description, class_name, config_json,
			enabled, mode, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		strat.ID, strat.Name, strat.Description, strat.ClassName, configJSON,
		strat.Enabled, string(strat.Mode), strat.CreatedAt, strat.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: strategy %q: %w", strat.ID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("postgres: create strategy %s: %w", strat.ID, err)
	}
	return nil
}

// Get retrieves a strategy by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)

	strat, err := scanStrategyFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return strat, nil
}

// UpdateConfig replaces the configuration blob.
func (s *StrategyStore) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy config %s: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET config_json = $2, updated_at = NOW() WHERE id = $1`,
		id, configJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: update strategy config %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetEnabled flips the enabled flag.
func (s *StrategyStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: set strategy %s enabled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetExecutionMode switches a strategy between paper and live execution.
func (s *StrategyStore) SetExecutionMode(ctx context.Context, id string, mode domain.ExecutionMode) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET mode = $2, updated_at = NOW() WHERE id = $1`,
		id, string(mode),
	)
	if err != nil {
		return fmt.Errorf("postgres: set strategy %s mode: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all strategies ordered by id.
func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategySelectCols+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var strategies []domain.Strategy
	for rows.Next() {
		strat, err := scanStrategyFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		strategies = append(strategies, strat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return strategies, nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
