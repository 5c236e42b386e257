package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// StrategyStore implements domain.StrategyStore in memory. Config maps are
// copied on the way in and out so the registry keeps exclusive ownership of
// the stored blob.
type StrategyStore struct {
	mu   sync.RWMutex
	byID map[string]domain.Strategy
}

// NewStrategyStore creates an empty StrategyStore.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{byID: make(map[string]domain.Strategy)}
}

func copyStrategy(s domain.Strategy) domain.Strategy {
	if s.Config != nil {
		s.Config = maps.Clone(s.Config)
	}
	return s
}

// Create registers a strategy, enforcing id uniqueness.
func (s *StrategyStore) Create(_ context.Context, strat domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[strat.ID]; ok {
		return fmt.Errorf("memory: strategy %q: %w", strat.ID, domain.ErrDuplicateKey)
	}
	s.byID[strat.ID] = copyStrategy(strat)
	return nil
}

// Get returns a copy of the strategy.
func (s *StrategyStore) Get(_ context.Context, id string) (domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strat, ok := s.byID[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return copyStrategy(strat), nil
}

// UpdateConfig replaces the configuration blob and bumps updated_at, leaving
// the enable flag and execution mode untouched.
func (s *StrategyStore) UpdateConfig(_ context.Context, id string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strat, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	strat.Config = maps.Clone(config)
	strat.UpdatedAt = time.Now().UTC()
	s.byID[id] = strat
	return nil
}

// SetEnabled toggles the enable flag.
func (s *StrategyStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strat, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	strat.Enabled = enabled
	strat.UpdatedAt = time.Now().UTC()
	s.byID[id] = strat
	return nil
}

// SetExecutionMode switches between PAPER and LIVE.
func (s *StrategyStore) SetExecutionMode(_ context.Context, id string, mode domain.ExecutionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strat, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	strat.Mode = mode
	strat.UpdatedAt = time.Now().UTC()
	s.byID[id] = strat
	return nil
}

// List returns all strategies ordered by id.
func (s *StrategyStore) List(_ context.Context) ([]domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Strategy, 0, len(s.byID))
	for _, strat := range s.byID {
		out = append(out, copyStrategy(strat))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
