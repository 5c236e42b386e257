// Package positions maintains the per-strategy position ledger. Fills feed
// into positions through OpenOrIncrease and ReduceOrClose; the at-most-one
// OPEN position per (strategy, instrument) pair invariant is enforced both
// here, by serializing writers per pair, and again by the store at commit
// time.
package positions

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
)

// quantityTolerance absorbs float error when fractional fills reduce a
// position: a remainder within this distance of zero closes the position.
const quantityTolerance = 1e-9

type pairKey struct {
	strategyID   string
	instrumentID string
}

// pairLock serializes writes for one (strategy, instrument) pair. refs
// counts holders and waiters so the entry can be dropped from the map once
// the last one releases.
type pairLock struct {
	mu   sync.Mutex
	refs int
}

// Ledger applies fills to positions and marks open positions to market.
type Ledger struct {
	store  domain.PositionStore
	audit  domain.AuditStore
	logger *slog.Logger

	mu    sync.Mutex
	pairs map[pairKey]*pairLock
}

// New creates a position Ledger. audit may be nil.
func New(store domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "positions")),
		pairs:  make(map[pairKey]*pairLock),
	}
}

// lockPair locks the pair's mutex and returns the release func. The map
// entry is created on first use and removed when the last holder releases.
func (l *Ledger) lockPair(strategyID, instrumentID string) func() {
	key := pairKey{strategyID, instrumentID}
	l.mu.Lock()
	p, ok := l.pairs[key]
	if !ok {
		p = &pairLock{}
		l.pairs[key] = p
	}
	p.refs++
	l.mu.Unlock()

	p.mu.Lock()
	return func() {
		p.mu.Unlock()
		l.mu.Lock()
		p.refs--
		if p.refs == 0 {
			delete(l.pairs, key)
		}
		l.mu.Unlock()
	}
}

// OpenOrIncrease applies a buy fill: it opens a new position when the pair
// has none, otherwise it increases the open position's quantity and
// recomputes the volume-weighted average entry price.
func (l *Ledger) OpenOrIncrease(ctx context.Context, strategyID, instrumentID string, quantity, price float64, at time.Time) (domain.Position, error) {
	if quantity <= 0 {
		return domain.Position{}, fmt.Errorf("positions: non-positive quantity %v", quantity)
	}

	unlock := l.lockPair(strategyID, instrumentID)
	defer unlock()

	pos, err := l.store.GetOpen(ctx, strategyID, instrumentID)
	switch {
	case err == nil:
		total := pos.Quantity + quantity
		pos.AverageEntryPrice = (pos.AverageEntryPrice*pos.Quantity + price*quantity) / total
		pos.Quantity = total
		pos.CurrentPrice = &price
		if err := l.store.Update(ctx, pos); err != nil {
			return domain.Position{}, fmt.Errorf("positions: increase %s/%s: %w", strategyID, instrumentID, err)
		}
		l.logAudit(ctx, "position.increased", pos, quantity, price)
		return pos, nil

	case errors.Is(err, domain.ErrNotFound):
		pos = domain.Position{
			ID:                uuid.New().String(),
			StrategyID:        strategyID,
			InstrumentID:      instrumentID,
			Quantity:          quantity,
			AverageEntryPrice: price,
			CurrentPrice:      &price,
			Status:            domain.PositionStatusOpen,
			OpenedAt:          at,
		}
		if err := l.store.Create(ctx, pos); err != nil {
			return domain.Position{}, fmt.Errorf("positions: open %s/%s: %w", strategyID, instrumentID, err)
		}
		l.logAudit(ctx, "position.opened", pos, quantity, price)
		return pos, nil

	default:
		return domain.Position{}, fmt.Errorf("positions: lookup %s/%s: %w", strategyID, instrumentID, err)
	}
}

// ReduceOrClose applies a sell fill: it reduces the open position's quantity,
// accruing realized P&L at (price - average entry) per unit, and closes the
// position when the quantity reaches zero. Selling more than the open
// quantity is rejected.
func (l *Ledger) ReduceOrClose(ctx context.Context, strategyID, instrumentID string, quantity, price float64, at time.Time) (domain.Position, error) {
	if quantity <= 0 {
		return domain.Position{}, fmt.Errorf("positions: non-positive quantity %v", quantity)
	}

	unlock := l.lockPair(strategyID, instrumentID)
	defer unlock()

	pos, err := l.store.GetOpen(ctx, strategyID, instrumentID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("positions: reduce %s/%s: %w", strategyID, instrumentID, err)
	}
	if quantity > pos.Quantity+quantityTolerance {
		return domain.Position{}, fmt.Errorf("positions: reduce %s/%s by %v exceeds open quantity %v: %w",
			strategyID, instrumentID, quantity, pos.Quantity, domain.ErrInvariantViolation)
	}

	pos.RealizedPnL += (price - pos.AverageEntryPrice) * quantity
	pos.Quantity -= quantity
	pos.CurrentPrice = &price
	// Fractional reductions can leave a dust remainder from float error;
	// treat it as flat so the position closes.
	if math.Abs(pos.Quantity) <= quantityTolerance {
		pos.Quantity = 0
	}

	event := "position.reduced"
	if pos.Quantity == 0 {
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = &at
		pos.UnrealizedPnL = nil
		event = "position.closed"
	}
	if err := l.store.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("positions: reduce %s/%s: %w", strategyID, instrumentID, err)
	}
	l.logAudit(ctx, event, pos, quantity, price)
	return pos, nil
}

// MarkToMarket refreshes the current price and unrealized P&L of the pair's
// open position. A pair without an open position is a no-op.
func (l *Ledger) MarkToMarket(ctx context.Context, strategyID, instrumentID string, price float64) error {
	unlock := l.lockPair(strategyID, instrumentID)
	defer unlock()

	pos, err := l.store.GetOpen(ctx, strategyID, instrumentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("positions: mark %s/%s: %w", strategyID, instrumentID, err)
	}

	upnl := (price - pos.AverageEntryPrice) * pos.Quantity
	pos.CurrentPrice = &price
	pos.UnrealizedPnL = &upnl
	if err := l.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("positions: mark %s/%s: %w", strategyID, instrumentID, err)
	}
	return nil
}

// MarkPosition refreshes a position by id. Positions no longer open are a
// no-op, as the revaluing price belongs to the pair's current open position.
func (l *Ledger) MarkPosition(ctx context.Context, positionID string, price float64) error {
	pos, err := l.store.GetByID(ctx, positionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("positions: mark %s: %w", positionID, err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return nil
	}
	return l.MarkToMarket(ctx, pos.StrategyID, pos.InstrumentID, price)
}

// MarkOpenPositions revalues every open position against the cache's latest
// prices. Instruments without a cached price are skipped.
func (l *Ledger) MarkOpenPositions(ctx context.Context, prices domain.PriceCache) error {
	open, err := l.store.ListOpen(ctx, "")
	if err != nil {
		return fmt.Errorf("positions: list open for mark: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(open))
	instruments := make([]string, 0, len(open))
	for _, pos := range open {
		if _, ok := seen[pos.InstrumentID]; ok {
			continue
		}
		seen[pos.InstrumentID] = struct{}{}
		instruments = append(instruments, pos.InstrumentID)
	}
	quotes, err := prices.GetPrices(ctx, instruments)
	if err != nil {
		return fmt.Errorf("positions: prices for mark: %w", err)
	}

	for _, pos := range open {
		price, ok := quotes[pos.InstrumentID]
		if !ok {
			continue
		}
		if err := l.MarkToMarket(ctx, pos.StrategyID, pos.InstrumentID, price); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the OPEN position for the pair, or ErrNotFound.
func (l *Ledger) Open(ctx context.Context, strategyID, instrumentID string) (domain.Position, error) {
	return l.store.GetOpen(ctx, strategyID, instrumentID)
}

// ListOpen returns a strategy's open positions.
func (l *Ledger) ListOpen(ctx context.Context, strategyID string) ([]domain.Position, error) {
	return l.store.ListOpen(ctx, strategyID)
}

// ListHistory returns a strategy's closed positions.
func (l *Ledger) ListHistory(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Position, error) {
	return l.store.ListHistory(ctx, strategyID, opts)
}

func (l *Ledger) logAudit(ctx context.Context, event string, pos domain.Position, quantity, price float64) {
	l.logger.InfoContext(ctx, event,
		slog.String("position_id", pos.ID),
		slog.String("strategy_id", pos.StrategyID),
		slog.String("instrument_id", pos.InstrumentID),
		slog.Float64("quantity", quantity),
		slog.Float64("price", price),
	)
	if l.audit == nil {
		return
	}
	detail := map[string]any{
		"position_id":   pos.ID,
		"strategy_id":   pos.StrategyID,
		"instrument_id": pos.InstrumentID,
		"quantity":      quantity,
		"price":         price,
		"realized_pnl":  pos.RealizedPnL,
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
