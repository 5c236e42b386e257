package domain

import "time"

// TransactionType indicates whether an order buys or sells.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// OrderKind is the execution style requested from the broker.
type OrderKind string

const (
	OrderKindMarket         OrderKind = "MARKET"
	OrderKindLimit          OrderKind = "LIMIT"
	OrderKindStopLoss       OrderKind = "SL"
	OrderKindStopLossMarket OrderKind = "SL_M"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindMarket, OrderKindLimit, OrderKindStopLoss, OrderKindStopLossMarket:
		return true
	}
	return false
}

// OrderStatus tracks the order lifecycle.
//
// PENDING -> {PARTIAL, FILLED, CANCELLED, REJECTED}
// PARTIAL -> {FILLED, CANCELLED}
// FILLED, CANCELLED and REJECTED are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		switch next {
		case OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
			return true
		}
	case OrderStatusPartial:
		switch next {
		case OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled:
			return true
		}
	}
	return false
}

// Order is an instrument order placed by a strategy. The identity fields
// (transaction, quantity, price, kind) are immutable after creation; the
// execution fields change only through lifecycle transitions. The row is a
// cached projection of the current state; the order history is the audit
// source of truth.
type Order struct {
	ID             string
	StrategyID     string
	InstrumentID   string
	Transaction    TransactionType
	Quantity       float64
	Price          *float64 // nil for market orders
	Kind           OrderKind
	Status         OrderStatus
	BrokerOrderID  *string
	FilledQuantity float64
	AveragePrice   *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExecutedAt     *time.Time
	CancelledAt    *time.Time
}

// OrderHistory is one append-only audit entry for an order status change.
type OrderHistory struct {
	ID        int64
	OrderID   string
	Status    OrderStatus
	Timestamp time.Time
	Detail    map[string]any
}
