// Package lifecycle drives orders through the PENDING -> PARTIAL -> FILLED /
// CANCELLED / REJECTED state machine. Every transition is committed
// atomically with its history entry, and fills propagate into the position
// ledger.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/positions"
)

// fillTolerance absorbs float error when summing fractional fill quantities:
// cumulative fills within this distance of the order quantity count as
// complete, and overfills within it are not rejected.
const fillTolerance = 1e-9

// OrderRequest describes a new order to place.
type OrderRequest struct {
	StrategyID   string
	InstrumentID string
	Transaction  domain.TransactionType
	Quantity     float64
	Price        *float64
	Kind         domain.OrderKind
}

// Manager owns the order lifecycle. Transitions for one order are serialized
// by a per-order mutex; the store's compare-and-set Transition backs this up
// across processes.
type Manager struct {
	orders      domain.OrderStore
	strategies  domain.StrategyStore
	instruments domain.InstrumentStore
	positions   *positions.Ledger
	logger      *slog.Logger
	nowFn       func() time.Time

	mu    sync.Mutex
	locks map[string]*orderLock
}

// orderLock serializes transitions for one order. refs counts holders and
// waiters so the entry can be dropped from the map once the last one releases.
type orderLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Manager. positions may be nil when fills should not feed a
// position ledger.
func New(orders domain.OrderStore, strategies domain.StrategyStore, instruments domain.InstrumentStore, pos *positions.Ledger, logger *slog.Logger) *Manager {
	return &Manager{
		orders:      orders,
		strategies:  strategies,
		instruments: instruments,
		positions:   pos,
		logger:      logger.With(slog.String("component", "lifecycle")),
		nowFn:       time.Now,
		locks:       make(map[string]*orderLock),
	}
}

// lockOrder locks the order's mutex and returns the release func. The map
// entry is created on first use and removed when the last holder releases.
func (m *Manager) lockOrder(orderID string) func() {
	m.mu.Lock()
	l, ok := m.locks[orderID]
	if !ok {
		l = &orderLock{}
		m.locks[orderID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, orderID)
		}
		m.mu.Unlock()
	}
}

// PlaceOrder validates the request, creates the order in PENDING, and writes
// the initial history entry in the same commit.
func (m *Manager) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	if err := m.validate(ctx, req); err != nil {
		return domain.Order{}, err
	}

	now := m.nowFn().UTC()
	order := domain.Order{
		ID:           uuid.New().String(),
		StrategyID:   req.StrategyID,
		InstrumentID: req.InstrumentID,
		Transaction:  req.Transaction,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Kind:         req.Kind,
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry := domain.OrderHistory{
		OrderID:   order.ID,
		Status:    domain.OrderStatusPending,
		Timestamp: now,
		Detail: map[string]any{
			"transaction": string(req.Transaction),
			"quantity":    req.Quantity,
			"kind":        string(req.Kind),
		},
	}
	if err := m.orders.Create(ctx, order, entry); err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: place order: %w", err)
	}

	m.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("strategy_id", order.StrategyID),
		slog.String("instrument_id", order.InstrumentID),
		slog.String("transaction", string(order.Transaction)),
		slog.Float64("quantity", order.Quantity),
	)
	return order, nil
}

func (m *Manager) validate(ctx context.Context, req OrderRequest) error {
	if !req.Transaction.Valid() {
		return fmt.Errorf("lifecycle: unknown transaction type %q", req.Transaction)
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("lifecycle: unknown order kind %q", req.Kind)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("lifecycle: non-positive quantity %v", req.Quantity)
	}
	if req.Kind == domain.OrderKindLimit && req.Price == nil {
		return fmt.Errorf("lifecycle: limit order without price")
	}
	if _, err := m.strategies.Get(ctx, req.StrategyID); err != nil {
		return fmt.Errorf("lifecycle: strategy %s: %w", req.StrategyID, err)
	}
	if _, err := m.instruments.GetByID(ctx, req.InstrumentID); err != nil {
		return fmt.Errorf("lifecycle: instrument %s: %w", req.InstrumentID, err)
	}
	return nil
}

// AcknowledgeBroker records the broker's order id on a pending order without
// changing its status.
func (m *Manager) AcknowledgeBroker(ctx context.Context, orderID, brokerOrderID string) error {
	unlock := m.lockOrder(orderID)
	defer unlock()

	order, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("lifecycle: acknowledge %s: %w", orderID, err)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("lifecycle: acknowledge %s in terminal status %s: %w",
			orderID, order.Status, domain.ErrInvalidTransition)
	}

	now := m.nowFn().UTC()
	order.BrokerOrderID = &brokerOrderID
	order.UpdatedAt = now
	entry := domain.OrderHistory{
		OrderID:   orderID,
		Status:    order.Status,
		Timestamp: now,
		Detail:    map[string]any{"broker_order_id": brokerOrderID},
	}
	if err := m.orders.Transition(ctx, order, order.Status, entry); err != nil {
		return fmt.Errorf("lifecycle: acknowledge %s: %w", orderID, err)
	}
	return nil
}

// ApplyFill applies one execution report carrying the fill's delta quantity.
// The order moves to PARTIAL while cumulative fills are below the order
// quantity and to FILLED when they reach it; average fill price is the
// volume-weighted mean across fills. Filled buy quantity opens or increases
// the strategy's position; sell quantity reduces or closes it.
func (m *Manager) ApplyFill(ctx context.Context, orderID string, quantity, price float64) (domain.Order, error) {
	if quantity <= 0 {
		return domain.Order{}, fmt.Errorf("lifecycle: non-positive fill quantity %v", quantity)
	}

	unlock := m.lockOrder(orderID)
	defer unlock()

	order, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: fill %s: %w", orderID, err)
	}
	if order.Status.Terminal() {
		return domain.Order{}, fmt.Errorf("lifecycle: fill %s in terminal status %s: %w",
			orderID, order.Status, domain.ErrInvalidTransition)
	}

	total := order.FilledQuantity + quantity
	if total > order.Quantity+fillTolerance {
		return domain.Order{}, fmt.Errorf("lifecycle: fill %s of %v exceeds remaining %v: %w",
			orderID, quantity, order.Quantity-order.FilledQuantity, domain.ErrInvariantViolation)
	}
	// Summing fractional fills drifts off the order quantity by float error;
	// snap so the final fill lands on FILLED with the exact quantity.
	if math.Abs(order.Quantity-total) <= fillTolerance {
		total = order.Quantity
	}

	from := order.Status
	now := m.nowFn().UTC()

	avg := price
	if order.AveragePrice != nil {
		avg = (*order.AveragePrice*order.FilledQuantity + price*quantity) / total
	}
	order.FilledQuantity = total
	order.AveragePrice = &avg
	order.UpdatedAt = now
	if total == order.Quantity {
		order.Status = domain.OrderStatusFilled
		order.ExecutedAt = &now
	} else {
		order.Status = domain.OrderStatusPartial
	}

	entry := domain.OrderHistory{
		OrderID:   orderID,
		Status:    order.Status,
		Timestamp: now,
		Detail: map[string]any{
			"fill_quantity":   quantity,
			"fill_price":      price,
			"filled_quantity": total,
		},
	}
	if err := m.orders.Transition(ctx, order, from, entry); err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: fill %s: %w", orderID, err)
	}

	m.logger.InfoContext(ctx, "fill applied",
		slog.String("order_id", orderID),
		slog.String("status", string(order.Status)),
		slog.Float64("fill_quantity", quantity),
		slog.Float64("fill_price", price),
	)

	if m.positions != nil {
		if err := m.applyToPosition(ctx, order, quantity, price, now); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}

func (m *Manager) applyToPosition(ctx context.Context, order domain.Order, quantity, price float64, at time.Time) error {
	var err error
	switch order.Transaction {
	case domain.TransactionBuy:
		_, err = m.positions.OpenOrIncrease(ctx, order.StrategyID, order.InstrumentID, quantity, price, at)
	case domain.TransactionSell:
		_, err = m.positions.ReduceOrClose(ctx, order.StrategyID, order.InstrumentID, quantity, price, at)
	}
	if err != nil {
		return fmt.Errorf("lifecycle: position update for order %s: %w", order.ID, err)
	}
	return nil
}

// Cancel moves a PENDING or PARTIAL order to CANCELLED. Already-filled
// quantity stays in the filled fields; reason is recorded in the history
// entry.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return m.terminate(ctx, orderID, domain.OrderStatusCancelled, reason)
}

// Reject moves a PENDING order to REJECTED, recording the broker's reason.
func (m *Manager) Reject(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return m.terminate(ctx, orderID, domain.OrderStatusRejected, reason)
}

func (m *Manager) terminate(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	unlock := m.lockOrder(orderID)
	defer unlock()

	order, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: %s %s: %w", to, orderID, err)
	}
	if !order.Status.CanTransitionTo(to) {
		return domain.Order{}, fmt.Errorf("lifecycle: %s -> %s for order %s: %w",
			order.Status, to, orderID, domain.ErrInvalidTransition)
	}

	from := order.Status
	now := m.nowFn().UTC()
	order.Status = to
	order.UpdatedAt = now
	if to == domain.OrderStatusCancelled {
		order.CancelledAt = &now
	}
	entry := domain.OrderHistory{
		OrderID:   orderID,
		Status:    to,
		Timestamp: now,
		Detail:    map[string]any{"reason": reason},
	}
	if err := m.orders.Transition(ctx, order, from, entry); err != nil {
		return domain.Order{}, fmt.Errorf("lifecycle: %s %s: %w", to, orderID, err)
	}

	m.logger.InfoContext(ctx, "order terminated",
		slog.String("order_id", orderID),
		slog.String("status", string(to)),
		slog.String("reason", reason),
	)
	return order, nil
}

// Get returns the current order row.
func (m *Manager) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return m.orders.GetByID(ctx, orderID)
}

// History returns the append-only status history of an order, oldest first.
func (m *Manager) History(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	entries, err := m.orders.History(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: history %s: %w", orderID, err)
	}
	if len(entries) == 0 {
		// Orders always carry at least the PENDING entry.
		if _, err := m.orders.GetByID(ctx, orderID); err != nil {
			return nil, fmt.Errorf("lifecycle: history %s: %w", orderID, err)
		}
	}
	return entries, nil
}

// ListOpen returns orders still in a non-terminal status.
func (m *Manager) ListOpen(ctx context.Context) ([]domain.Order, error) {
	return m.orders.ListOpen(ctx)
}

// ListByStrategy returns a strategy's orders.
func (m *Manager) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Order, error) {
	return m.orders.ListByStrategy(ctx, strategyID, opts)
}

// IsTerminalConflict reports whether err is the invalid-transition error, as
// callers retrying broker callbacks treat it as a permanent failure.
func IsTerminalConflict(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition)
}
