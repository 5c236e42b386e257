package domain

import (
	"fmt"
	"time"
)

// SeriesKind identifies one of the stored time-series families.
type SeriesKind string

const (
	SeriesTicks         SeriesKind = "ticks"
	SeriesCandles       SeriesKind = "candles"
	SeriesBookSnapshots SeriesKind = "book_snapshots"
	SeriesOpenInterest  SeriesKind = "open_interest"
	SeriesDailyBars     SeriesKind = "daily_bars"
)

// AllSeriesKinds lists every series family in a stable order.
var AllSeriesKinds = []SeriesKind{
	SeriesTicks,
	SeriesCandles,
	SeriesBookSnapshots,
	SeriesOpenInterest,
	SeriesDailyBars,
}

// Valid reports whether k names a known series family.
func (k SeriesKind) Valid() bool {
	switch k {
	case SeriesTicks, SeriesCandles, SeriesBookSnapshots, SeriesOpenInterest, SeriesDailyBars:
		return true
	}
	return false
}

// HasTimeframe reports whether records of this kind are additionally keyed by
// timeframe.
func (k SeriesKind) HasTimeframe() bool {
	return k == SeriesCandles
}

// RecordKey is the primary key of a time-series record:
// (time, instrument[, timeframe]). Timeframe is empty for kinds that are not
// keyed by it.
type RecordKey struct {
	Time         int64 // Unix nanoseconds
	InstrumentID string
	Timeframe    string
}

// SeriesRecord is a single time-keyed market-data record. Records are
// immutable once ingested; a later ingest with the same Key replaces the
// earlier one (last write wins).
type SeriesRecord interface {
	Kind() SeriesKind
	At() time.Time
	Key() RecordKey
	Validate() error
}

// Tick is a single trade print.
type Tick struct {
	Time         time.Time
	InstrumentID string
	Price        float64
	Quantity     float64
}

func (t Tick) Kind() SeriesKind { return SeriesTicks }
func (t Tick) At() time.Time    { return t.Time }

func (t Tick) Key() RecordKey {
	return RecordKey{Time: t.Time.UnixNano(), InstrumentID: t.InstrumentID}
}

func (t Tick) Validate() error {
	if t.Time.IsZero() {
		return fmt.Errorf("tick: zero time: %w", ErrMalformedRecord)
	}
	if t.InstrumentID == "" {
		return fmt.Errorf("tick: empty instrument: %w", ErrMalformedRecord)
	}
	if t.Price <= 0 {
		return fmt.Errorf("tick: non-positive price %v: %w", t.Price, ErrMalformedRecord)
	}
	return nil
}

// Candle is an OHLCV bar at a given timeframe (for example "1m" or "1d").
type Candle struct {
	Time         time.Time
	InstrumentID string
	Timeframe    string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
}

func (c Candle) Kind() SeriesKind { return SeriesCandles }
func (c Candle) At() time.Time    { return c.Time }

func (c Candle) Key() RecordKey {
	return RecordKey{Time: c.Time.UnixNano(), InstrumentID: c.InstrumentID, Timeframe: c.Timeframe}
}

func (c Candle) Validate() error {
	if c.Time.IsZero() {
		return fmt.Errorf("candle: zero time: %w", ErrMalformedRecord)
	}
	if c.InstrumentID == "" {
		return fmt.Errorf("candle: empty instrument: %w", ErrMalformedRecord)
	}
	if c.Timeframe == "" {
		return fmt.Errorf("candle: empty timeframe: %w", ErrMalformedRecord)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle: high %v below low %v: %w", c.High, c.Low, ErrMalformedRecord)
	}
	return nil
}

// BookSnapshot is an order-book depth snapshot. Each side is stored as
// parallel price and quantity sequences of equal length.
type BookSnapshot struct {
	Time          time.Time
	InstrumentID  string
	BidPrices     []float64
	BidQuantities []float64
	AskPrices     []float64
	AskQuantities []float64
}

func (b BookSnapshot) Kind() SeriesKind { return SeriesBookSnapshots }
func (b BookSnapshot) At() time.Time    { return b.Time }

func (b BookSnapshot) Key() RecordKey {
	return RecordKey{Time: b.Time.UnixNano(), InstrumentID: b.InstrumentID}
}

func (b BookSnapshot) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("book snapshot: zero time: %w", ErrMalformedRecord)
	}
	if b.InstrumentID == "" {
		return fmt.Errorf("book snapshot: empty instrument: %w", ErrMalformedRecord)
	}
	if len(b.BidPrices) != len(b.BidQuantities) {
		return fmt.Errorf("book snapshot: bid sides of unequal length %d/%d: %w",
			len(b.BidPrices), len(b.BidQuantities), ErrMalformedRecord)
	}
	if len(b.AskPrices) != len(b.AskQuantities) {
		return fmt.Errorf("book snapshot: ask sides of unequal length %d/%d: %w",
			len(b.AskPrices), len(b.AskQuantities), ErrMalformedRecord)
	}
	return nil
}

// OpenInterest is an outstanding-contracts observation for a derivative.
type OpenInterest struct {
	Time         time.Time
	InstrumentID string
	Value        float64
}

func (o OpenInterest) Kind() SeriesKind { return SeriesOpenInterest }
func (o OpenInterest) At() time.Time    { return o.Time }

func (o OpenInterest) Key() RecordKey {
	return RecordKey{Time: o.Time.UnixNano(), InstrumentID: o.InstrumentID}
}

func (o OpenInterest) Validate() error {
	if o.Time.IsZero() {
		return fmt.Errorf("open interest: zero time: %w", ErrMalformedRecord)
	}
	if o.InstrumentID == "" {
		return fmt.Errorf("open interest: empty instrument: %w", ErrMalformedRecord)
	}
	if o.Value < 0 {
		return fmt.Errorf("open interest: negative value %v: %w", o.Value, ErrMalformedRecord)
	}
	return nil
}

// DailyBar is an end-of-day OHLCV record keyed by date.
type DailyBar struct {
	Date         time.Time
	InstrumentID string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
}

func (d DailyBar) Kind() SeriesKind { return SeriesDailyBars }
func (d DailyBar) At() time.Time    { return d.Date }

func (d DailyBar) Key() RecordKey {
	return RecordKey{Time: d.Date.UnixNano(), InstrumentID: d.InstrumentID}
}

func (d DailyBar) Validate() error {
	if d.Date.IsZero() {
		return fmt.Errorf("daily bar: zero date: %w", ErrMalformedRecord)
	}
	if d.InstrumentID == "" {
		return fmt.Errorf("daily bar: empty instrument: %w", ErrMalformedRecord)
	}
	if d.High < d.Low {
		return fmt.Errorf("daily bar: high %v below low %v: %w", d.High, d.Low, ErrMalformedRecord)
	}
	return nil
}
