package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantforge/tickstore/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL. Only
// sealed ciphertext ever reaches the table.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new CredentialStore backed by the given connection pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Put inserts or replaces the credentials for a broker.
func (s *CredentialStore) Put(ctx context.Context, creds domain.BrokerCredentials) error {
	const query = `
		INSERT INTO broker_credentials (broker, ciphertext, key_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (broker) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			key_id     = EXCLUDED.key_id,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, creds.Broker, creds.Ciphertext, creds.KeyID); err != nil {
		return fmt.Errorf("postgres: put credentials %s: %w", creds.Broker, err)
	}
	return nil
}

// Get retrieves the credentials for a broker.
func (s *CredentialStore) Get(ctx context.Context, broker string) (domain.BrokerCredentials, error) {
	var creds domain.BrokerCredentials
	err := s.pool.QueryRow(ctx,
		`SELECT broker, ciphertext, key_id, updated_at FROM broker_credentials WHERE broker = $1`,
		broker,
	).Scan(&creds.Broker, &creds.Ciphertext, &creds.KeyID, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BrokerCredentials{}, domain.ErrNotFound
		}
		return domain.BrokerCredentials{}, fmt.Errorf("postgres: get credentials %s: %w", broker, err)
	}
	return creds, nil
}

// Delete removes the credentials for a broker.
func (s *CredentialStore) Delete(ctx context.Context, broker string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM broker_credentials WHERE broker = $1`, broker)
	if err != nil {
		return fmt.Errorf("postgres: delete credentials %s: %w", broker, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
