package ledger

import (
	"sort"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// The compressed layout stores a chunk column-oriented: one segment per
// (instrument, timeframe), each segment holding a descending time column plus
// one numeric column per record field. Variable-width book-snapshot sides are
// flattened into shared columns with a per-row length column. Decoding a
// segment reproduces the ingested records bit for bit.

type segmentKey struct {
	instrumentID string
	timeframe    string
}

type segment struct {
	kind domain.SeriesKind
	key  segmentKey

	times []int64     // unix nanoseconds, descending
	cols  [][]float64 // fixed numeric columns, parallel to times

	bidLens   []int
	askLens   []int
	bidPrices []float64
	bidQty    []float64
	askPrices []float64
	askQty    []float64
}

// fixedColumns returns the number of fixed numeric columns for a kind.
func fixedColumns(kind domain.SeriesKind) int {
	switch kind {
	case domain.SeriesTicks:
		return 2 // price, quantity
	case domain.SeriesCandles, domain.SeriesDailyBars:
		return 5 // open, high, low, close, volume
	case domain.SeriesOpenInterest:
		return 1 // value
	default:
		return 0
	}
}

func newSegment(kind domain.SeriesKind, key segmentKey) *segment {
	s := &segment{kind: kind, key: key}
	if n := fixedColumns(kind); n > 0 {
		s.cols = make([][]float64, n)
	}
	return s
}

// append encodes one record into the segment's columns. Records must be
// appended in descending time order.
func (s *segment) append(rec domain.SeriesRecord) {
	s.times = append(s.times, rec.Key().Time)

	switch r := rec.(type) {
	case domain.Tick:
		s.cols[0] = append(s.cols[0], r.Price)
		s.cols[1] = append(s.cols[1], r.Quantity)
	case domain.Candle:
		s.cols[0] = append(s.cols[0], r.Open)
		s.cols[1] = append(s.cols[1], r.High)
		s.cols[2] = append(s.cols[2], r.Low)
		s.cols[3] = append(s.cols[3], r.Close)
		s.cols[4] = append(s.cols[4], r.Volume)
	case domain.DailyBar:
		s.cols[0] = append(s.cols[0], r.Open)
		s.cols[1] = append(s.cols[1], r.High)
		s.cols[2] = append(s.cols[2], r.Low)
		s.cols[3] = append(s.cols[3], r.Close)
		s.cols[4] = append(s.cols[4], r.Volume)
	case domain.OpenInterest:
		s.cols[0] = append(s.cols[0], r.Value)
	case domain.BookSnapshot:
		s.bidLens = append(s.bidLens, len(r.BidPrices))
		s.askLens = append(s.askLens, len(r.AskPrices))
		s.bidPrices = append(s.bidPrices, r.BidPrices...)
		s.bidQty = append(s.bidQty, r.BidQuantities...)
		s.askPrices = append(s.askPrices, r.AskPrices...)
		s.askQty = append(s.askQty, r.AskQuantities...)
	}
}

// decode reproduces every record in the segment, in stored (descending)
// order.
func (s *segment) decode() []domain.SeriesRecord {
	out := make([]domain.SeriesRecord, 0, len(s.times))

	bidOff, askOff := 0, 0
	for i, tn := range s.times {
		t := time.Unix(0, tn).UTC()
		switch s.kind {
		case domain.SeriesTicks:
			out = append(out, domain.Tick{
				Time:         t,
				InstrumentID: s.key.instrumentID,
				Price:        s.cols[0][i],
				Quantity:     s.cols[1][i],
			})
		case domain.SeriesCandles:
			out = append(out, domain.Candle{
				Time:         t,
				InstrumentID: s.key.instrumentID,
				Timeframe:    s.key.timeframe,
				Open:         s.cols[0][i],
				High:         s.cols[1][i],
				Low:          s.cols[2][i],
				Close:        s.cols[3][i],
				Volume:       s.cols[4][i],
			})
		case domain.SeriesDailyBars:
			out = append(out, domain.DailyBar{
				Date:         t,
				InstrumentID: s.key.instrumentID,
				Open:         s.cols[0][i],
				High:         s.cols[1][i],
				Low:          s.cols[2][i],
				Close:        s.cols[3][i],
				Volume:       s.cols[4][i],
			})
		case domain.SeriesOpenInterest:
			out = append(out, domain.OpenInterest{
				Time:         t,
				InstrumentID: s.key.instrumentID,
				Value:        s.cols[0][i],
			})
		case domain.SeriesBookSnapshots:
			nb, na := s.bidLens[i], s.askLens[i]
			out = append(out, domain.BookSnapshot{
				Time:          t,
				InstrumentID:  s.key.instrumentID,
				BidPrices:     copySlice(s.bidPrices[bidOff : bidOff+nb]),
				BidQuantities: copySlice(s.bidQty[bidOff : bidOff+nb]),
				AskPrices:     copySlice(s.askPrices[askOff : askOff+na]),
				AskQuantities: copySlice(s.askQty[askOff : askOff+na]),
			})
			bidOff += nb
			askOff += na
		}
	}
	return out
}

// contains reports whether the segment stores a row at the given time. The
// time column is descending, so binary search inverts the comparison.
func (s *segment) contains(tn int64) bool {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] <= tn })
	return i < len(s.times) && s.times[i] == tn
}

func copySlice(src []float64) []float64 {
	if src == nil {
		return nil
	}
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}

// columnChunk is the compressed physical form of one chunk.
type columnChunk struct {
	segments map[segmentKey]*segment
}

// buildColumnChunk encodes records (already sorted descending) into segments.
func buildColumnChunk(recs []domain.SeriesRecord) *columnChunk {
	cc := &columnChunk{segments: make(map[segmentKey]*segment)}
	for _, rec := range recs {
		k := rec.Key()
		sk := segmentKey{instrumentID: k.InstrumentID, timeframe: k.Timeframe}
		seg, ok := cc.segments[sk]
		if !ok {
			seg = newSegment(rec.Kind(), sk)
			cc.segments[sk] = seg
		}
		seg.append(rec)
	}
	return cc
}

func (cc *columnChunk) rowCount() int {
	n := 0
	for _, seg := range cc.segments {
		n += len(seg.times)
	}
	return n
}

func (cc *columnChunk) hasKey(k domain.RecordKey) bool {
	seg, ok := cc.segments[segmentKey{instrumentID: k.InstrumentID, timeframe: k.Timeframe}]
	return ok && seg.contains(k.Time)
}

// records decodes all segments matching the filter. Empty filter values match
// everything.
func (cc *columnChunk) records(instrumentID, timeframe string) []domain.SeriesRecord {
	var out []domain.SeriesRecord
	for sk, seg := range cc.segments {
		if instrumentID != "" && sk.instrumentID != instrumentID {
			continue
		}
		if timeframe != "" && sk.timeframe != timeframe {
			continue
		}
		out = append(out, seg.decode()...)
	}
	return out
}
