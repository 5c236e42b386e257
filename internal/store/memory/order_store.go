package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quantforge/tickstore/internal/domain"
)

// OrderStore implements domain.OrderStore in memory. The store mutex makes
// every order write atomic with its history append; the Transition
// compare-and-swap linearizes concurrent transition attempts.
type OrderStore struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	history map[string][]domain.OrderHistory
	nextID  int64
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:  make(map[string]domain.Order),
		history: make(map[string][]domain.OrderHistory),
	}
}

// Create inserts a new order together with its initial history entry.
func (s *OrderStore) Create(_ context.Context, order domain.Order, entry domain.OrderHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("memory: order %q: %w", order.ID, domain.ErrDuplicateKey)
	}
	s.orders[order.ID] = order
	s.appendHistoryLocked(order.ID, entry)
	return nil
}

// GetByID retrieves an order by id.
func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

// Transition replaces the order and appends the history entry only if the
// stored status still equals from.
func (s *OrderStore) Transition(_ context.Context, order domain.Order, from domain.OrderStatus, entry domain.OrderHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("memory: order %q moved from %s to %s concurrently: %w",
			order.ID, from, cur.Status, domain.ErrInvalidTransition)
	}
	s.orders[order.ID] = order
	s.appendHistoryLocked(order.ID, entry)
	return nil
}

func (s *OrderStore) appendHistoryLocked(orderID string, entry domain.OrderHistory) {
	s.nextID++
	entry.ID = s.nextID
	entry.OrderID = orderID
	s.history[orderID] = append(s.history[orderID], entry)
}

// History returns the append-only audit trail of an order, oldest first.
func (s *OrderStore) History(_ context.Context, orderID string) ([]domain.OrderHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, domain.ErrNotFound
	}
	h := s.history[orderID]
	out := make([]domain.OrderHistory, len(h))
	copy(out, h)
	return out, nil
}

// ListByStrategy returns a strategy's orders, newest first.
func (s *OrderStore) ListByStrategy(_ context.Context, strategyID string, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.StrategyID != strategyID {
			continue
		}
		if opts.Since != nil && o.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ListOpen returns every order in a non-terminal status.
func (s *OrderStore) ListOpen(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
