// Package ledger implements the in-process time-series store: chunked,
// append-mostly storage of market-data records partitioned by time, with
// upsert-by-primary-key ingestion, descending time-range queries, and the
// compression/retention hooks driven by the tiering engine.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// RecordError reports a single failed record of a batch ingest. Ingestion is
// a partial-success contract: one malformed record never aborts the batch.
type RecordError struct {
	Index int
	Key   domain.RecordKey
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%s@%d): %v", e.Index, e.Key.InstrumentID, e.Key.Time, e.Err)
}

// ChunkRef identifies one chunk of a series.
type ChunkRef struct {
	Kind  domain.SeriesKind
	Start time.Time
	End   time.Time
}

// SeriesStats summarizes one series family for the health surface.
type SeriesStats struct {
	Chunks     int
	Compressed int
	Records    int
}

// table holds the chunk set of one series family.
type table struct {
	mu     sync.RWMutex
	width  time.Duration
	chunks map[int64]*chunk // keyed by chunk start, unix nanoseconds
}

// Ledger is the chunked time-series store. Writers to distinct chunks never
// contend; writers to the same primary key serialize on the chunk lock so
// last committed write wins.
type Ledger struct {
	policies map[domain.SeriesKind]Policy
	tables   map[domain.SeriesKind]*table
	logger   *slog.Logger
}

// New creates a Ledger with one table per series family. Policies missing
// from the argument fall back to DefaultPolicies. Invalid policies are
// rejected.
func New(policies map[domain.SeriesKind]Policy, logger *slog.Logger) (*Ledger, error) {
	merged := DefaultPolicies()
	for kind, p := range policies {
		if !kind.Valid() {
			return nil, fmt.Errorf("ledger: unknown series kind %q", kind)
		}
		merged[kind] = p
	}
	for kind, p := range merged {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("ledger: policy for %s: %w", kind, err)
		}
	}

	tables := make(map[domain.SeriesKind]*table, len(merged))
	for kind, p := range merged {
		tables[kind] = &table{width: p.ChunkWidth, chunks: make(map[int64]*chunk)}
	}

	return &Ledger{
		policies: merged,
		tables:   tables,
		logger:   logger.With(slog.String("component", "ledger")),
	}, nil
}

// Policy returns the active policy for a series family.
func (l *Ledger) Policy(kind domain.SeriesKind) (Policy, bool) {
	p, ok := l.policies[kind]
	return p, ok
}

// Ingest routes one record to the chunk covering its timestamp, creating the
// chunk if absent, and upserts it by primary key. Re-ingesting the same
// record is idempotent; a record with an existing key overwrites the prior
// value. Timestamps are stored in UTC regardless of the location they arrive
// in, so records read back identically before and after compression.
func (l *Ledger) Ingest(ctx context.Context, rec domain.SeriesRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = normalizeUTC(rec)

	tbl, ok := l.tables[rec.Kind()]
	if !ok {
		return fmt.Errorf("ledger: unknown series kind %q: %w", rec.Kind(), domain.ErrMalformedRecord)
	}

	c := tbl.chunkFor(rec.At())
	c.upsert(rec)
	return nil
}

// normalizeUTC rewrites a record's timestamp into UTC. Compressed chunks
// decode times as UTC; canonicalizing at ingest keeps the uncompressed
// representation the same.
func normalizeUTC(rec domain.SeriesRecord) domain.SeriesRecord {
	switch r := rec.(type) {
	case domain.Tick:
		r.Time = r.Time.UTC()
		return r
	case domain.Candle:
		r.Time = r.Time.UTC()
		return r
	case domain.BookSnapshot:
		r.Time = r.Time.UTC()
		return r
	case domain.OpenInterest:
		r.Time = r.Time.UTC()
		return r
	case domain.DailyBar:
		r.Date = r.Date.UTC()
		return r
	}
	return rec
}

// IngestBatch ingests records individually and collects per-record errors.
// A nil result means every record landed.
func (l *Ledger) IngestBatch(ctx context.Context, recs []domain.SeriesRecord) []RecordError {
	var errs []RecordError
	for i, rec := range recs {
		if err := l.Ingest(ctx, rec); err != nil {
			errs = append(errs, RecordError{Index: i, Key: rec.Key(), Err: err})
		}
	}
	if len(errs) > 0 {
		l.logger.Warn("batch ingest finished with record errors",
			slog.Int("total", len(recs)),
			slog.Int("failed", len(errs)),
		)
	}
	return errs
}

// chunkFor returns the chunk covering t, creating it when absent.
func (t *table) chunkFor(at time.Time) *chunk {
	start := at.Truncate(t.width)
	key := start.UnixNano()

	t.mu.RLock()
	c, ok := t.chunks[key]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.chunks[key]; ok {
		return c
	}
	c = newChunk(start, start.Add(t.width))
	t.chunks[key] = c
	return c
}

// chunkStartsDesc returns chunk start keys ordered newest first, optionally
// bounded to chunks overlapping [from, to).
func (t *table) chunkStartsDesc(from, to time.Time) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	starts := make([]int64, 0, len(t.chunks))
	for key, c := range t.chunks {
		if !from.IsZero() && !c.end.After(from) {
			continue
		}
		if !to.IsZero() && !c.start.Before(to) {
			continue
		}
		starts = append(starts, key)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] > starts[j] })
	return starts
}

func (t *table) chunkAt(start int64) (*chunk, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.chunks[start]
	return c, ok
}

// Query returns a lazy cursor over records of a series ordered by time
// descending. timeframe is ignored for kinds not keyed by it. A zero from/to
// disables the corresponding bound; limit <= 0 means unbounded. Re-issuing
// the same query yields the same logical result modulo later writes.
func (l *Ledger) Query(kind domain.SeriesKind, instrumentID, timeframe string, from, to time.Time, limit int) (*Cursor, error) {
	tbl, ok := l.tables[kind]
	if !ok {
		return nil, fmt.Errorf("ledger: unknown series kind %q", kind)
	}
	if !kind.HasTimeframe() {
		timeframe = ""
	}
	return &Cursor{
		tbl:          tbl,
		instrumentID: instrumentID,
		timeframe:    timeframe,
		from:         from,
		to:           to,
		limit:        limit,
	}, nil
}

// CompressEligible rewrites every chunk whose upper time bound is older than
// the series' compression threshold into the columnar layout. It checks ctx
// between chunks so long passes are cancellable at chunk granularity, and
// skips already-compressed chunks (idempotent). It returns the number of
// chunks compressed on this pass.
func (l *Ledger) CompressEligible(ctx context.Context, kind domain.SeriesKind, now time.Time) (int, error) {
	tbl, ok := l.tables[kind]
	if !ok {
		return 0, fmt.Errorf("ledger: unknown series kind %q", kind)
	}
	cutoff := now.Add(-l.policies[kind].CompressAfter)

	compressed := 0
	for _, start := range tbl.chunkStartsDesc(time.Time{}, cutoff) {
		if err := ctx.Err(); err != nil {
			return compressed, err
		}
		c, ok := tbl.chunkAt(start)
		if !ok {
			continue // dropped by retention since listing
		}
		if c.end.After(cutoff) || c.isCompressed() {
			continue
		}
		c.compress()
		compressed++
	}

	if compressed > 0 {
		l.logger.Info("compressed chunks",
			slog.String("series", string(kind)),
			slog.Int("chunks", compressed),
		)
	}
	return compressed, nil
}

// ExpiredChunks lists chunks entirely older than the series' retention
// horizon, oldest first.
func (l *Ledger) ExpiredChunks(kind domain.SeriesKind, now time.Time) []ChunkRef {
	tbl, ok := l.tables[kind]
	if !ok {
		return nil
	}
	cutoff := now.Add(-l.policies[kind].RetainFor)

	starts := tbl.chunkStartsDesc(time.Time{}, cutoff)
	refs := make([]ChunkRef, 0, len(starts))
	for i := len(starts) - 1; i >= 0; i-- {
		c, ok := tbl.chunkAt(starts[i])
		if !ok || c.end.After(cutoff) {
			continue
		}
		refs = append(refs, ChunkRef{Kind: kind, Start: c.start, End: c.end})
	}
	return refs
}

// ChunkRecords returns every record of one chunk ordered by time descending,
// or nil when the chunk no longer exists. Used by the archiver before a
// retention drop.
func (l *Ledger) ChunkRecords(kind domain.SeriesKind, start time.Time) []domain.SeriesRecord {
	tbl, ok := l.tables[kind]
	if !ok {
		return nil
	}
	c, ok := tbl.chunkAt(start.UnixNano())
	if !ok {
		return nil
	}
	return c.snapshot("", "", time.Time{}, time.Time{})
}

// DropChunk removes one chunk wholesale. Dropping is destructive and
// irreversible, so it is guarded twice: the chunk must be entirely past the
// retention horizon, and it must already be past the compression threshold —
// retention never evicts data that has not yet become eligible for
// compaction. Dropping a chunk that no longer exists is a no-op.
func (l *Ledger) DropChunk(kind domain.SeriesKind, start time.Time, now time.Time) error {
	tbl, ok := l.tables[kind]
	if !ok {
		return fmt.Errorf("ledger: unknown series kind %q", kind)
	}
	p := l.policies[kind]

	key := start.UnixNano()
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	c, ok := tbl.chunks[key]
	if !ok {
		return nil
	}
	if c.end.After(now.Add(-p.CompressAfter)) {
		return fmt.Errorf("ledger: chunk %s[%s] not yet compression-eligible: %w",
			kind, start.Format(time.RFC3339), domain.ErrRetentionOrdering)
	}
	if c.end.After(now.Add(-p.RetainFor)) {
		return fmt.Errorf("ledger: chunk %s[%s] younger than retention horizon", kind, start.Format(time.RFC3339))
	}

	// Exclusive chunk access: no reader may observe a partially-evicted
	// chunk. Taking the chunk lock flushes in-flight writers; removal from
	// the table map makes the drop atomic for new readers.
	c.mu.Lock()
	delete(tbl.chunks, key)
	c.mu.Unlock()

	l.logger.Info("dropped chunk",
		slog.String("series", string(kind)),
		slog.Time("start", c.start),
		slog.Time("end", c.end),
	)
	return nil
}

// Stats summarizes every series family.
func (l *Ledger) Stats() map[domain.SeriesKind]SeriesStats {
	out := make(map[domain.SeriesKind]SeriesStats, len(l.tables))
	for kind, tbl := range l.tables {
		var s SeriesStats
		tbl.mu.RLock()
		for _, c := range tbl.chunks {
			s.Chunks++
			if c.isCompressed() {
				s.Compressed++
			}
			s.Records += c.size()
		}
		tbl.mu.RUnlock()
		out[kind] = s
	}
	return out
}
