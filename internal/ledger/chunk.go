package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// chunk is one contiguous, non-overlapping time partition [start, end) of a
// series. A hot chunk keeps its rows in a map keyed by primary key so upserts
// are O(1). Once compressed, the bulk of the rows lives in the columnar
// layout and the map becomes a small write overlay for late arrivals;
// overlay entries shadow compressed rows with the same key.
type chunk struct {
	mu    sync.RWMutex
	start time.Time
	end   time.Time

	rows       map[domain.RecordKey]domain.SeriesRecord
	compressed *columnChunk
}

func newChunk(start, end time.Time) *chunk {
	return &chunk{
		start: start,
		end:   end,
		rows:  make(map[domain.RecordKey]domain.SeriesRecord),
	}
}

// upsert inserts or replaces the record with its primary key. Last write
// wins.
func (c *chunk) upsert(rec domain.SeriesRecord) {
	c.mu.Lock()
	c.rows[rec.Key()] = rec
	c.mu.Unlock()
}

// isCompressed reports whether the chunk has been rewritten into the columnar
// layout.
func (c *chunk) isCompressed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compressed != nil
}

// compress rewrites the chunk into the column-oriented layout: ordered by
// time descending and segmented by (instrument, timeframe). It holds the
// chunk lock exclusively for the duration so no reader observes a partial
// rewrite. Compressing an already-compressed chunk is a no-op.
func (c *chunk) compress() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compressed != nil {
		return
	}

	recs := make([]domain.SeriesRecord, 0, len(c.rows))
	for _, r := range c.rows {
		recs = append(recs, r)
	}
	sortDesc(recs)

	c.compressed = buildColumnChunk(recs)
	c.rows = make(map[domain.RecordKey]domain.SeriesRecord)
}

// size returns the logical row count.
func (c *chunk) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.compressed == nil {
		return len(c.rows)
	}
	n := c.compressed.rowCount()
	for k := range c.rows {
		if !c.compressed.hasKey(k) {
			n++
		}
	}
	return n
}

// snapshot returns the chunk's records matching the filter, ordered by time
// descending. Passing an empty instrumentID matches every instrument; a zero
// from/to disables the corresponding bound. The result is a copy and safe to
// use after the chunk changes.
func (c *chunk) snapshot(instrumentID, timeframe string, from, to time.Time) []domain.SeriesRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	match := func(rec domain.SeriesRecord) bool {
		k := rec.Key()
		if instrumentID != "" && k.InstrumentID != instrumentID {
			return false
		}
		if timeframe != "" && k.Timeframe != timeframe {
			return false
		}
		t := rec.At()
		if !from.IsZero() && t.Before(from) {
			return false
		}
		if !to.IsZero() && !t.Before(to) {
			return false
		}
		return true
	}

	var out []domain.SeriesRecord
	if c.compressed == nil {
		for _, r := range c.rows {
			if match(r) {
				out = append(out, r)
			}
		}
		sortDesc(out)
		return out
	}

	// Compressed: merge the columnar segments with the write overlay. The
	// overlay wins on key collision.
	merged := make(map[domain.RecordKey]domain.SeriesRecord)
	for _, r := range c.compressed.records(instrumentID, timeframe) {
		if match(r) {
			merged[r.Key()] = r
		}
	}
	for k, r := range c.rows {
		if match(r) {
			merged[k] = r
		}
	}
	out = make([]domain.SeriesRecord, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortDesc(out)
	return out
}

// sortDesc orders records by time descending with a deterministic tie-break
// on instrument then timeframe, so repeated queries yield identical order.
func sortDesc(recs []domain.SeriesRecord) {
	sort.Slice(recs, func(i, j int) bool {
		ki, kj := recs[i].Key(), recs[j].Key()
		if ki.Time != kj.Time {
			return ki.Time > kj.Time
		}
		if ki.InstrumentID != kj.InstrumentID {
			return ki.InstrumentID < kj.InstrumentID
		}
		return ki.Timeframe < kj.Timeframe
	})
}
