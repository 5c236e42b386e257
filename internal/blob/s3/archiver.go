package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// Archiver implements domain.ChunkArchiver by writing a chunk's records as
// one JSON Lines object per chunk under archive/{kind}/.
type Archiver struct {
	writer *Writer
	prefix string
}

// NewArchiver creates an Archiver uploading through the given Writer. prefix
// defaults to "archive".
func NewArchiver(w *Writer, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{writer: w, prefix: prefix}
}

// archiveRow is the JSONL envelope for one record. Only the fields relevant
// to the record's kind are populated.
type archiveRow struct {
	Kind         string    `json:"kind"`
	Time         time.Time `json:"time"`
	InstrumentID string    `json:"instrument_id"`
	Timeframe    string    `json:"timeframe,omitempty"`

	Price    *float64 `json:"price,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`

	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  *float64 `json:"close,omitempty"`
	Volume *float64 `json:"volume,omitempty"`

	BidPrices     []float64 `json:"bid_prices,omitempty"`
	BidQuantities []float64 `json:"bid_quantities,omitempty"`
	AskPrices     []float64 `json:"ask_prices,omitempty"`
	AskQuantities []float64 `json:"ask_quantities,omitempty"`

	Value *float64 `json:"value,omitempty"`
}

func rowFor(rec domain.SeriesRecord) (archiveRow, error) {
	row := archiveRow{
		Kind:         string(rec.Kind()),
		Time:         rec.At().UTC(),
		InstrumentID: rec.Key().InstrumentID,
		Timeframe:    rec.Key().Timeframe,
	}
	switch r := rec.(type) {
	case domain.Tick:
		row.Price = &r.Price
		row.Quantity = &r.Quantity
	case domain.Candle:
		row.Open, row.High, row.Low, row.Close, row.Volume = &r.Open, &r.High, &r.Low, &r.Close, &r.Volume
	case domain.BookSnapshot:
		row.BidPrices = r.BidPrices
		row.BidQuantities = r.BidQuantities
		row.AskPrices = r.AskPrices
		row.AskQuantities = r.AskQuantities
	case domain.OpenInterest:
		row.Value = &r.Value
	case domain.DailyBar:
		row.Open, row.High, row.Low, row.Close, row.Volume = &r.Open, &r.High, &r.Low, &r.Close, &r.Volume
	default:
		return archiveRow{}, fmt.Errorf("s3blob: unsupported record type %T", rec)
	}
	return row, nil
}

// ArchiveChunk serializes records to JSONL and uploads them. The object path
// encodes the chunk's kind and time bounds.
func (a *Archiver) ArchiveChunk(ctx context.Context, kind domain.SeriesKind, start, end time.Time, records []domain.SeriesRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		row, err := rowFor(rec)
		if err != nil {
			return "", err
		}
		if err := enc.Encode(row); err != nil {
			return "", fmt.Errorf("s3blob: encode archive row: %w", err)
		}
	}

	path := fmt.Sprintf("%s/%s/%d-%d.jsonl", a.prefix, kind, start.Unix(), end.Unix())
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive chunk %s: %w", path, err)
	}
	return path, nil
}

// Compile-time interface check.
var _ domain.ChunkArchiver = (*Archiver)(nil)
