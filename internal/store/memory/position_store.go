package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quantforge/tickstore/internal/domain"
)

type pairKey struct {
	strategyID   string
	instrumentID string
}

// PositionStore implements domain.PositionStore in memory. The openIndex map
// is the in-memory analogue of the SQL partial unique index: at most one
// OPEN position per (strategy, instrument) pair, enforced at commit time.
type PositionStore struct {
	mu        sync.RWMutex
	byID      map[string]domain.Position
	openIndex map[pairKey]string // pair -> open position id
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		byID:      make(map[string]domain.Position),
		openIndex: make(map[pairKey]string),
	}
}

// Create inserts a new position. Creating a second OPEN position for a pair
// fails with ErrInvariantViolation.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[pos.ID]; ok {
		return fmt.Errorf("memory: position %q: %w", pos.ID, domain.ErrDuplicateKey)
	}
	key := pairKey{pos.StrategyID, pos.InstrumentID}
	if pos.Status == domain.PositionStatusOpen {
		if _, ok := s.openIndex[key]; ok {
			return fmt.Errorf("memory: open position exists for (%s, %s): %w",
				pos.StrategyID, pos.InstrumentID, domain.ErrInvariantViolation)
		}
		s.openIndex[key] = pos.ID
	}
	s.byID[pos.ID] = pos
	return nil
}

// Update replaces a position's mutable fields, keeping the open index
// consistent when the status changes.
func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	key := pairKey{pos.StrategyID, pos.InstrumentID}

	switch {
	case prev.Status == domain.PositionStatusOpen && pos.Status == domain.PositionStatusClosed:
		delete(s.openIndex, key)
	case prev.Status == domain.PositionStatusClosed && pos.Status == domain.PositionStatusOpen:
		if other, exists := s.openIndex[key]; exists && other != pos.ID {
			return fmt.Errorf("memory: open position exists for (%s, %s): %w",
				pos.StrategyID, pos.InstrumentID, domain.ErrInvariantViolation)
		}
		s.openIndex[key] = pos.ID
	}

	s.byID[pos.ID] = pos
	return nil
}

// GetByID retrieves a position by id.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// GetOpen returns the OPEN position for a pair, or ErrNotFound.
func (s *PositionStore) GetOpen(_ context.Context, strategyID, instrumentID string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openIndex[pairKey{strategyID, instrumentID}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

// ListOpen returns a strategy's open positions, newest first.
func (s *PositionStore) ListOpen(_ context.Context, strategyID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, id := range s.openIndex {
		pos := s.byID[id]
		if strategyID == "" || pos.StrategyID == strategyID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

// ListHistory returns a strategy's closed positions, newest first.
func (s *PositionStore) ListHistory(_ context.Context, strategyID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, pos := range s.byID {
		if pos.Status != domain.PositionStatusClosed {
			continue
		}
		if strategyID != "" && pos.StrategyID != strategyID {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return paginate(out, opts), nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
