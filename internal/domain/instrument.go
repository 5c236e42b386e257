package domain

import "time"

// InstrumentType classifies a tradable instrument.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "STOCK"
	InstrumentIndex  InstrumentType = "INDEX"
	InstrumentOption InstrumentType = "OPTION"
	InstrumentFuture InstrumentType = "FUTURE"
)

// Valid reports whether t is a known instrument type.
func (t InstrumentType) Valid() bool {
	switch t {
	case InstrumentStock, InstrumentIndex, InstrumentOption, InstrumentFuture:
		return true
	}
	return false
}

// Instrument is a catalog entry for a tradable instrument. The symbol is
// unique across the catalog.
type Instrument struct {
	ID            string
	Symbol        string
	Exchange      string
	Type          InstrumentType
	IsActive      bool
	ListingDate   *time.Time
	DelistingDate *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TypeDetails is the type-specific extension of an instrument. An instrument
// owns at most one details row, and only of the variant matching its declared
// type. INDEX instruments carry no extension.
type TypeDetails interface {
	InstrumentKind() InstrumentType
}

// StockDetails extends a STOCK instrument.
type StockDetails struct {
	Sector    string
	Industry  string
	MarketCap float64
}

func (StockDetails) InstrumentKind() InstrumentType { return InstrumentStock }

// OptionRight distinguishes calls from puts.
type OptionRight string

const (
	OptionCall OptionRight = "CALL"
	OptionPut  OptionRight = "PUT"
)

// OptionDetails extends an OPTION instrument.
type OptionDetails struct {
	UnderlyingID string
	StrikePrice  float64
	Expiry       time.Time
	Right        OptionRight
}

func (OptionDetails) InstrumentKind() InstrumentType { return InstrumentOption }

// FutureDetails extends a FUTURE instrument. The underlying reference is
// optional: commodity futures have none.
type FutureDetails struct {
	UnderlyingID  *string
	Expiry        time.Time
	MarginPercent float64
}

func (FutureDetails) InstrumentKind() InstrumentType { return InstrumentFuture }
