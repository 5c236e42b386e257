package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(nil, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func mustIngest(t *testing.T, l *Ledger, recs ...domain.SeriesRecord) {
	t.Helper()
	for _, r := range recs {
		if err := l.Ingest(context.Background(), r); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}
}

func collectTicks(t *testing.T, l *Ledger, instrumentID string, from, to time.Time, limit int) []domain.Tick {
	t.Helper()
	cur, err := l.Query(domain.SeriesTicks, instrumentID, "", from, to, limit)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	var out []domain.Tick
	for _, rec := range cur.Collect() {
		out = append(out, rec.(domain.Tick))
	}
	return out
}

func TestIngestQueryDescendingOrder(t *testing.T) {
	l := testLedger(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Out-of-order ingestion must still slot into the right partitions.
	mustIngest(t, l,
		domain.Tick{Time: base.Add(2 * time.Minute), InstrumentID: "INST-1", Price: 101, Quantity: 5},
		domain.Tick{Time: base, InstrumentID: "INST-1", Price: 100, Quantity: 1},
		domain.Tick{Time: base.Add(90 * time.Minute), InstrumentID: "INST-1", Price: 103, Quantity: 2},
		domain.Tick{Time: base.Add(time.Minute), InstrumentID: "INST-1", Price: 102, Quantity: 3},
	)

	ticks := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 4 {
		t.Fatalf("expected 4 ticks, got %d", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Time.After(ticks[i-1].Time) {
			t.Fatalf("ticks not descending at %d: %v before %v", i, ticks[i-1].Time, ticks[i].Time)
		}
	}
	if ticks[0].Price != 103 || ticks[3].Price != 100 {
		t.Errorf("unexpected order: first=%v last=%v", ticks[0].Price, ticks[3].Price)
	}
}

func TestIngestIdempotentUpsert(t *testing.T) {
	l := testLedger(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tick := domain.Tick{Time: at, InstrumentID: "INST-1", Price: 100, Quantity: 1}
	mustIngest(t, l, tick, tick)

	ticks := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 1 {
		t.Fatalf("re-ingesting the same record must not duplicate it, got %d rows", len(ticks))
	}

	// Same key, new value: last write wins.
	mustIngest(t, l, domain.Tick{Time: at, InstrumentID: "INST-1", Price: 105, Quantity: 9})
	ticks = collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 1 || ticks[0].Price != 105 {
		t.Fatalf("expected single overwritten row with price 105, got %+v", ticks)
	}
}

func TestIngestCanonicalizesTimesToUTC(t *testing.T) {
	l := testLedger(t)
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2026, 3, 1, 15, 30, 0, 0, ist)

	mustIngest(t, l, domain.Tick{Time: at, InstrumentID: "INST-1", Price: 100, Quantity: 1})

	before := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(before) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(before))
	}
	if !before[0].Time.Equal(at) || before[0].Time.Location() != time.UTC {
		t.Fatalf("stored time = %v in %v, want %v in UTC", before[0].Time, before[0].Time.Location(), at.UTC())
	}

	// Compressed chunks decode times in UTC; the representation must not
	// change across the compression boundary.
	if _, err := l.CompressEligible(context.Background(), domain.SeriesTicks, at.Add(30*24*time.Hour)); err != nil {
		t.Fatalf("CompressEligible failed: %v", err)
	}
	after := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(after) != 1 {
		t.Fatalf("expected 1 tick after compression, got %d", len(after))
	}
	if !after[0].Time.Equal(before[0].Time) || after[0].Time.Location() != before[0].Time.Location() {
		t.Fatalf("time changed across compression: %v -> %v", before[0].Time, after[0].Time)
	}
}

func TestCandleKeyedByTimeframe(t *testing.T) {
	l := testLedger(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mustIngest(t, l,
		domain.Candle{Time: at, InstrumentID: "INST-1", Timeframe: "1m", Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
		domain.Candle{Time: at, InstrumentID: "INST-1", Timeframe: "1d", Open: 1, High: 3, Low: 1, Close: 3, Volume: 500},
	)

	cur, err := l.Query(domain.SeriesCandles, "INST-1", "1m", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	got := cur.Collect()
	if len(got) != 1 {
		t.Fatalf("expected only the 1m candle, got %d rows", len(got))
	}
	if c := got[0].(domain.Candle); c.Timeframe != "1m" || c.Volume != 10 {
		t.Errorf("wrong candle returned: %+v", c)
	}
}

func TestIngestBatchPartialFailure(t *testing.T) {
	l := testLedger(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	errs := l.IngestBatch(context.Background(), []domain.SeriesRecord{
		domain.Tick{Time: at, InstrumentID: "INST-1", Price: 100, Quantity: 1},
		domain.Tick{InstrumentID: "INST-1", Price: 100, Quantity: 1}, // zero time
		domain.Tick{Time: at, InstrumentID: "", Price: 100, Quantity: 1},
		domain.Tick{Time: at.Add(time.Second), InstrumentID: "INST-1", Price: 101, Quantity: 1},
	})

	if len(errs) != 2 {
		t.Fatalf("expected 2 record errors, got %d: %v", len(errs), errs)
	}
	for _, re := range errs {
		if !errors.Is(re.Err, domain.ErrMalformedRecord) {
			t.Errorf("expected ErrMalformedRecord, got %v", re.Err)
		}
	}
	if re := errs[0]; re.Index != 1 {
		t.Errorf("expected first failure at index 1, got %d", re.Index)
	}

	if got := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0); len(got) != 2 {
		t.Errorf("expected the 2 valid records to land, got %d", len(got))
	}
}

func TestBookSnapshotUnequalSidesRejected(t *testing.T) {
	l := testLedger(t)
	snap := domain.BookSnapshot{
		Time:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		InstrumentID:  "INST-1",
		BidPrices:     []float64{99, 98},
		BidQuantities: []float64{10}, // mismatched
		AskPrices:     []float64{101},
		AskQuantities: []float64{5},
	}
	if err := l.Ingest(context.Background(), snap); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestCompressionReadTransparent(t *testing.T) {
	l := testLedger(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour) // older than the 7d tick threshold

	var recs []domain.SeriesRecord
	for i := 0; i < 50; i++ {
		recs = append(recs,
			domain.Tick{Time: old.Add(time.Duration(i) * time.Second), InstrumentID: "INST-1", Price: 100 + float64(i), Quantity: float64(i + 1)},
			domain.Tick{Time: old.Add(time.Duration(i) * time.Second), InstrumentID: "INST-2", Price: 200 + float64(i), Quantity: 1},
		)
	}
	mustIngest(t, l, recs...)
	mustIngest(t, l, domain.BookSnapshot{
		Time:          old,
		InstrumentID:  "INST-1",
		BidPrices:     []float64{99, 98, 97},
		BidQuantities: []float64{10, 20, 30},
		AskPrices:     []float64{101, 102},
		AskQuantities: []float64{5, 6},
	})

	before := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	curBefore, _ := l.Query(domain.SeriesBookSnapshots, "INST-1", "", time.Time{}, time.Time{}, 0)
	snapsBefore := curBefore.Collect()

	for _, kind := range []domain.SeriesKind{domain.SeriesTicks, domain.SeriesBookSnapshots} {
		if _, err := l.CompressEligible(context.Background(), kind, now); err != nil {
			t.Fatalf("CompressEligible(%s) failed: %v", kind, err)
		}
	}

	after := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(after) != len(before) {
		t.Fatalf("row count changed across compression: %d != %d", len(after), len(before))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("row %d changed across compression: %+v != %+v", i, before[i], after[i])
		}
	}

	curAfter, _ := l.Query(domain.SeriesBookSnapshots, "INST-1", "", time.Time{}, time.Time{}, 0)
	snapsAfter := curAfter.Collect()
	if len(snapsAfter) != len(snapsBefore) {
		t.Fatalf("snapshot count changed across compression")
	}
	sb, sa := snapsBefore[0].(domain.BookSnapshot), snapsAfter[0].(domain.BookSnapshot)
	if len(sa.BidPrices) != len(sb.BidPrices) || sa.BidPrices[2] != sb.BidPrices[2] || sa.AskQuantities[1] != sb.AskQuantities[1] {
		t.Fatalf("book snapshot changed across compression: %+v != %+v", sa, sb)
	}

	// Re-running compression is a no-op, never an error.
	n, err := l.CompressEligible(context.Background(), domain.SeriesTicks, now)
	if err != nil || n != 0 {
		t.Fatalf("recompression should be a no-op, got n=%d err=%v", n, err)
	}
}

func TestUpsertIntoCompressedChunk(t *testing.T) {
	l := testLedger(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)

	mustIngest(t, l, domain.Tick{Time: old, InstrumentID: "INST-1", Price: 100, Quantity: 1})
	if _, err := l.CompressEligible(context.Background(), domain.SeriesTicks, now); err != nil {
		t.Fatalf("CompressEligible failed: %v", err)
	}

	// Late-arriving overwrite of a compressed row must win.
	mustIngest(t, l, domain.Tick{Time: old, InstrumentID: "INST-1", Price: 42, Quantity: 7})
	ticks := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 1 || ticks[0].Price != 42 {
		t.Fatalf("expected overlay row to shadow compressed row, got %+v", ticks)
	}

	// Late arrival with a fresh key must slot alongside compressed rows.
	mustIngest(t, l, domain.Tick{Time: old.Add(time.Second), InstrumentID: "INST-1", Price: 43, Quantity: 1})
	ticks = collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 2 || ticks[0].Price != 43 {
		t.Fatalf("expected merged view of overlay and compressed rows, got %+v", ticks)
	}
}

func TestRetentionHorizon(t *testing.T) {
	l := testLedger(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	young := now.Add(-29 * 24 * time.Hour)
	expired := now.Add(-31 * 24 * time.Hour)
	mustIngest(t, l,
		domain.Tick{Time: young, InstrumentID: "INST-1", Price: 1, Quantity: 1},
		domain.Tick{Time: expired, InstrumentID: "INST-1", Price: 2, Quantity: 1},
	)

	if _, err := l.CompressEligible(context.Background(), domain.SeriesTicks, now); err != nil {
		t.Fatalf("CompressEligible failed: %v", err)
	}

	refs := l.ExpiredChunks(domain.SeriesTicks, now)
	if len(refs) != 1 {
		t.Fatalf("expected exactly 1 expired chunk, got %d", len(refs))
	}
	if err := l.DropChunk(domain.SeriesTicks, refs[0].Start, now); err != nil {
		t.Fatalf("DropChunk failed: %v", err)
	}

	ticks := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 0)
	if len(ticks) != 1 || ticks[0].Price != 1 {
		t.Fatalf("29-day-old chunk must survive, 31-day-old must not; got %+v", ticks)
	}

	// Dropping an already-evicted chunk is a no-op.
	if err := l.DropChunk(domain.SeriesTicks, refs[0].Start, now); err != nil {
		t.Fatalf("re-dropping evicted chunk must be a no-op, got %v", err)
	}
}

func TestDropBeforeCompressionEligibilityRejected(t *testing.T) {
	// A policy cannot retain for less time than compression needs.
	_, err := New(map[domain.SeriesKind]Policy{
		domain.SeriesTicks: {ChunkWidth: time.Hour, CompressAfter: 7 * 24 * time.Hour, RetainFor: 24 * time.Hour},
	}, slog.Default())
	if !errors.Is(err, domain.ErrRetentionOrdering) {
		t.Fatalf("expected ErrRetentionOrdering from policy validation, got %v", err)
	}

	// And a direct drop of a chunk that is not yet compression-eligible is
	// refused even if the caller claims it expired.
	l := testLedger(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := now.Add(-2 * 24 * time.Hour)
	mustIngest(t, l, domain.Tick{Time: at, InstrumentID: "INST-1", Price: 1, Quantity: 1})

	start := at.Truncate(time.Hour)
	if err := l.DropChunk(domain.SeriesTicks, start, now); !errors.Is(err, domain.ErrRetentionOrdering) {
		t.Fatalf("expected ErrRetentionOrdering, got %v", err)
	}
}

func TestQueryLimitAndRange(t *testing.T) {
	l := testLedger(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		mustIngest(t, l, domain.Tick{Time: base.Add(time.Duration(i) * time.Minute), InstrumentID: "INST-1", Price: float64(i), Quantity: 1})
	}

	got := collectTicks(t, l, "INST-1", time.Time{}, time.Time{}, 3)
	if len(got) != 3 || got[0].Price != 9 {
		t.Fatalf("limit query wrong: %+v", got)
	}

	got = collectTicks(t, l, "INST-1", base.Add(2*time.Minute), base.Add(5*time.Minute), 0)
	if len(got) != 3 || got[0].Price != 4 || got[2].Price != 2 {
		t.Fatalf("range query wrong: %+v", got)
	}

	// Restartable: a second identical query yields the identical result.
	again := collectTicks(t, l, "INST-1", base.Add(2*time.Minute), base.Add(5*time.Minute), 0)
	if len(again) != len(got) {
		t.Fatalf("restarted query diverged: %d != %d", len(again), len(got))
	}
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("restarted query row %d diverged", i)
		}
	}
}

func TestConcurrentIngestAcrossInstruments(t *testing.T) {
	l := testLedger(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			inst := []string{"INST-A", "INST-B", "INST-C", "INST-D"}[w%4]
			for i := 0; i < 200; i++ {
				_ = l.Ingest(context.Background(), domain.Tick{
					Time:         base.Add(time.Duration(i) * time.Millisecond),
					InstrumentID: inst,
					Price:        float64(i + 1),
					Quantity:     1,
				})
			}
		}(w)
	}
	wg.Wait()

	for _, inst := range []string{"INST-A", "INST-B", "INST-C", "INST-D"} {
		if got := collectTicks(t, l, inst, time.Time{}, time.Time{}, 0); len(got) != 200 {
			t.Errorf("%s: expected 200 rows after concurrent upserts, got %d", inst, len(got))
		}
	}
}
