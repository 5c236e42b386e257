package ledger

import (
	"fmt"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// Policy holds the per-series storage parameters: how wide a chunk is, how
// old a chunk must be before it is rewritten into the compressed layout, and
// how old it must be before retention drops it.
type Policy struct {
	ChunkWidth    time.Duration
	CompressAfter time.Duration
	RetainFor     time.Duration
}

// Validate checks the internal consistency of a policy. RetainFor must not be
// shorter than CompressAfter: retention runs strictly after compression
// eligibility, so a chunk must become compressible before it can expire.
func (p Policy) Validate() error {
	if p.ChunkWidth <= 0 {
		return fmt.Errorf("ledger: chunk width must be positive, got %v", p.ChunkWidth)
	}
	if p.CompressAfter <= 0 {
		return fmt.Errorf("ledger: compress threshold must be positive, got %v", p.CompressAfter)
	}
	if p.RetainFor < p.CompressAfter {
		return fmt.Errorf("ledger: retention horizon %v shorter than compress threshold %v: %w",
			p.RetainFor, p.CompressAfter, domain.ErrRetentionOrdering)
	}
	return nil
}

const day = 24 * time.Hour

// DefaultPolicies returns the stock policy table for every series family.
func DefaultPolicies() map[domain.SeriesKind]Policy {
	return map[domain.SeriesKind]Policy{
		domain.SeriesTicks:         {ChunkWidth: time.Hour, CompressAfter: 7 * day, RetainFor: 30 * day},
		domain.SeriesCandles:       {ChunkWidth: day, CompressAfter: 30 * day, RetainFor: 2 * 365 * day},
		domain.SeriesBookSnapshots: {ChunkWidth: time.Hour, CompressAfter: day, RetainFor: 7 * day},
		domain.SeriesOpenInterest:  {ChunkWidth: day, CompressAfter: 7 * day, RetainFor: 365 * day},
		domain.SeriesDailyBars:     {ChunkWidth: 365 * day, CompressAfter: 90 * day, RetainFor: 5 * 365 * day},
	}
}
