package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is the accumulated exposure of a strategy in an instrument.
// At most one position per (strategy, instrument) pair may be OPEN at any
// instant; stores enforce this at commit time.
type Position struct {
	ID                string
	StrategyID        string
	InstrumentID      string
	Quantity          float64
	AverageEntryPrice float64
	CurrentPrice      *float64
	UnrealizedPnL     *float64
	RealizedPnL       float64
	StopLossPrice     *float64
	TargetPrice       *float64
	Status            PositionStatus
	OpenedAt          time.Time
	ClosedAt          *time.Time
}
