// Package memory provides an in-process domain.PriceCache for single-node
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache implements domain.PriceCache with a mutex-guarded map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

// SetPrice stores the latest price and timestamp for an instrument.
func (pc *PriceCache) SetPrice(_ context.Context, instrumentID string, price float64, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.prices[instrumentID] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an instrument.
func (pc *PriceCache) GetPrice(_ context.Context, instrumentID string) (float64, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.prices[instrumentID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

// GetPrices retrieves the latest prices for multiple instruments. Unknown
// instruments are omitted from the result map.
func (pc *PriceCache) GetPrices(_ context.Context, instrumentIDs []string) (map[string]float64, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	result := make(map[string]float64, len(instrumentIDs))
	for _, id := range instrumentIDs {
		if p, ok := pc.prices[id]; ok {
			result[id] = p.price
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
