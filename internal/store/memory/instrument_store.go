// Package memory implements the domain store interfaces with in-process
// maps. It is the default substrate in standalone mode and the fixture for
// the test suite; it enforces the same invariants the SQL schema does.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore in memory.
type InstrumentStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Instrument
	bySymbol map[string]string // symbol -> id
	details  map[string]domain.TypeDetails
}

// NewInstrumentStore creates an empty InstrumentStore.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		byID:     make(map[string]domain.Instrument),
		bySymbol: make(map[string]string),
		details:  make(map[string]domain.TypeDetails),
	}
}

// Create inserts a new instrument, enforcing symbol uniqueness.
func (s *InstrumentStore) Create(_ context.Context, inst domain.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySymbol[inst.Symbol]; ok {
		return fmt.Errorf("memory: instrument symbol %q: %w", inst.Symbol, domain.ErrDuplicateKey)
	}
	if _, ok := s.byID[inst.ID]; ok {
		return fmt.Errorf("memory: instrument id %q: %w", inst.ID, domain.ErrDuplicateKey)
	}
	s.byID[inst.ID] = inst
	s.bySymbol[inst.Symbol] = inst.ID
	return nil
}

// GetByID retrieves an instrument by id.
func (s *InstrumentStore) GetByID(_ context.Context, id string) (domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.byID[id]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

// GetBySymbol retrieves an instrument by its unique symbol.
func (s *InstrumentStore) GetBySymbol(_ context.Context, symbol string) (domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySymbol[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

// ListActive returns active instruments ordered by symbol.
func (s *InstrumentStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Instrument
	for _, inst := range s.byID {
		if inst.IsActive {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return paginate(out, opts), nil
}

// SetActive flips the active flag and records the delisting date if given.
func (s *InstrumentStore) SetActive(_ context.Context, id string, active bool, delistedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	inst.IsActive = active
	if delistedAt != nil {
		inst.DelistingDate = delistedAt
	}
	inst.UpdatedAt = time.Now().UTC()
	s.byID[id] = inst
	return nil
}

// AttachDetails stores the type extension, at most one per instrument.
func (s *InstrumentStore) AttachDetails(_ context.Context, instrumentID string, details domain.TypeDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[instrumentID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.details[instrumentID]; ok {
		return fmt.Errorf("memory: details for instrument %q: %w", instrumentID, domain.ErrDuplicateKey)
	}
	s.details[instrumentID] = details
	return nil
}

// GetDetails retrieves the type extension of an instrument.
func (s *InstrumentStore) GetDetails(_ context.Context, instrumentID string) (domain.TypeDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.details[instrumentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

// paginate applies Limit/Offset to a pre-sorted slice.
func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)
