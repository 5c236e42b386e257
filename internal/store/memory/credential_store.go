package memory

import (
	"context"
	"sync"

	"github.com/quantforge/tickstore/internal/domain"
)

// CredentialStore implements domain.CredentialStore in memory. Only
// ciphertext ever enters the store.
type CredentialStore struct {
	mu       sync.RWMutex
	byBroker map[string]domain.BrokerCredentials
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{byBroker: make(map[string]domain.BrokerCredentials)}
}

// Put inserts or replaces the credentials for a broker.
func (s *CredentialStore) Put(_ context.Context, creds domain.BrokerCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := creds
	cp.Ciphertext = append([]byte(nil), creds.Ciphertext...)
	s.byBroker[creds.Broker] = cp
	return nil
}

// Get retrieves the credentials for a broker.
func (s *CredentialStore) Get(_ context.Context, broker string) (domain.BrokerCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.byBroker[broker]
	if !ok {
		return domain.BrokerCredentials{}, domain.ErrNotFound
	}
	cp := creds
	cp.Ciphertext = append([]byte(nil), creds.Ciphertext...)
	return cp, nil
}

// Delete removes a broker's credentials. Deleting absent credentials is a
// no-op.
func (s *CredentialStore) Delete(_ context.Context, broker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byBroker, broker)
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
