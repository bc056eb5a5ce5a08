package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// AssetClass governs which delivery mechanisms a symbol is eligible for.
type AssetClass string

const (
	AssetCrypto  AssetClass = "crypto"
	AssetFutures AssetClass = "futures"
	AssetEquity  AssetClass = "equity"
)

// Streamable reports whether symbols of this class may use the shared stream.
// Futures and equities are poll-only.
func (c AssetClass) Streamable() bool {
	return c == AssetCrypto
}

// Source identifies the delivery mechanism a sample arrived through.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// Direction is the price movement relative to the previously cached price.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// -----------------------------------------------------------------------------
// Samples
// -----------------------------------------------------------------------------

// PriceSample is one timestamped price observation for a symbol.
// Treat as immutable once built.
type PriceSample struct {
	Symbol             string   `json:"symbol"`
	Price              float64  `json:"price"`
	PriceChange        float64  `json:"price_change"`
	PriceChangePercent float64  `json:"price_change_percent"`
	High24h            *float64 `json:"high_24h"`  // nil when unknown
	Low24h             *float64 `json:"low_24h"`   // nil when unknown
	Volume24h          string   `json:"volume_24h"` // kept as the exchange's decimal string
	Timestamp          int64    `json:"timestamp"`  // ms since epoch
	Source             Source   `json:"source"`
}

// Update is what a single-symbol subscriber receives.
type Update struct {
	Sample    PriceSample `json:"sample"`
	Direction Direction   `json:"direction"`
}

// RawTicker is an exchange ticker snapshot before normalization.
// All numeric fields are decimal strings as sent by the exchange.
type RawTicker struct {
	Symbol    string
	Last      string
	Open24h   string
	High24h   string
	Low24h    string
	Volume24h string
	Timestamp int64 // ms since epoch, 0 if not provided
}

// Errors
var (
	ErrMissingSymbol  = errors.New("missing symbol")
	ErrMissingPrice   = errors.New("missing price")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrMissingTime    = errors.New("missing timestamp")
	ErrSymbolMismatch = errors.New("symbol mismatch")
)

// ToSample normalizes a raw ticker into a PriceSample.
// Change and percent are derived from the 24h open; percent is 0 when the open is unknown.
func (r RawTicker) ToSample(source Source) (PriceSample, error) {
	if strings.TrimSpace(r.Symbol) == "" {
		return PriceSample{}, ErrMissingSymbol
	}
	if strings.TrimSpace(r.Last) == "" {
		return PriceSample{}, ErrMissingPrice
	}
	if r.Timestamp <= 0 {
		return PriceSample{}, ErrMissingTime
	}

	last, err := decimal.NewFromString(strings.TrimSpace(r.Last))
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: %q", ErrInvalidPrice, r.Last)
	}

	var change, pct decimal.Decimal
	if open, ok := parseOptional(r.Open24h); ok && !open.IsZero() {
		change = last.Sub(open)
		pct = change.Div(open).Mul(decimal.NewFromInt(100))
	}

	s := PriceSample{
		Symbol:             strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Price:              last.InexactFloat64(),
		PriceChange:        change.InexactFloat64(),
		PriceChangePercent: pct.Round(4).InexactFloat64(),
		High24h:            optionalFloat(r.High24h),
		Low24h:             optionalFloat(r.Low24h),
		Volume24h:          strings.TrimSpace(r.Volume24h),
		Timestamp:          r.Timestamp,
		Source:             source,
	}

	if err := ValidateSample(s); err != nil {
		return PriceSample{}, err
	}
	return s, nil
}

// ValidateSample checks the fields every accepted sample must carry.
func ValidateSample(s PriceSample) error {
	if s.Symbol == "" {
		return ErrMissingSymbol
	}
	if s.Timestamp <= 0 {
		return ErrMissingTime
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, s.Price)
	}
	return nil
}

func parseOptional(v string) (decimal.Decimal, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func optionalFloat(v string) *float64 {
	d, ok := parseOptional(v)
	if !ok {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
