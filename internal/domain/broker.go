package domain

import (
	"context"
	"time"
)

// Fill is a broker-reported partial or full execution of an order.
type Fill struct {
	OrderID  string
	Quantity float64
	Price    float64
	At       time.Time
}

// FillHandler is invoked for each fill event a broker reports.
type FillHandler func(ctx context.Context, fill Fill)

// TickHandler is invoked for each market-data tick a broker subscription
// delivers.
type TickHandler func(ctx context.Context, tick Tick)

// Broker is the capability set required of a broker adapter. Any type
// implementing these four operations can serve as a broker; the lifecycle
// manager never depends on a concrete broker type.
type Broker interface {
	Authenticate(ctx context.Context) error
	PlaceOrder(ctx context.Context, order Order) (brokerOrderID string, err error)
	GetPositions(ctx context.Context) ([]Position, error)
	SubscribeToData(ctx context.Context, instrumentIDs []string, h TickHandler) error
}
