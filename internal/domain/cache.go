package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest observed trade price per instrument.
type PriceCache interface {
	SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been observed.
	GetPrice(ctx context.Context, instrumentID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, instrumentIDs []string) (map[string]float64, error)
}

// LockManager provides advisory locks so background jobs (tiering passes) do
// not run concurrently across replicas. Acquire returns ErrLockHeld when the
// lock is taken; the returned function releases it and is safe to call more
// than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
