package ledger

import (
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// Cursor is a lazy, finite iterator over query results in descending time
// order. It materializes one chunk at a time; chunks dropped by retention
// between Next calls are silently skipped. A Cursor is not safe for
// concurrent use; issue a fresh Query per goroutine.
type Cursor struct {
	tbl          *table
	instrumentID string
	timeframe    string
	from, to     time.Time
	limit        int

	started bool
	starts  []int64 // chunk starts, newest first
	idx     int
	buf     []domain.SeriesRecord
	bufIdx  int
	emitted int
}

// Next returns the next record, or false when the cursor is exhausted.
func (c *Cursor) Next() (domain.SeriesRecord, bool) {
	if !c.started {
		c.starts = c.tbl.chunkStartsDesc(c.from, c.to)
		c.started = true
	}

	for {
		if c.limit > 0 && c.emitted >= c.limit {
			return nil, false
		}
		if c.bufIdx < len(c.buf) {
			rec := c.buf[c.bufIdx]
			c.bufIdx++
			c.emitted++
			return rec, true
		}
		if c.idx >= len(c.starts) {
			return nil, false
		}

		chk, ok := c.tbl.chunkAt(c.starts[c.idx])
		c.idx++
		if !ok {
			continue
		}
		c.buf = chk.snapshot(c.instrumentID, c.timeframe, c.from, c.to)
		c.bufIdx = 0
	}
}

// Collect drains the cursor into a slice.
func (c *Cursor) Collect() []domain.SeriesRecord {
	var out []domain.SeriesRecord
	for {
		rec, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}
