package model

import (
	"github.com/shopspring/decimal"
)

// Observation is one immutable streaming record: a ticker, an order-book
// top or an indicator point, identified by (symbol, timestamp). Timestamps
// are monotonic milliseconds since epoch; wall-clock rendering is a
// display concern only.
//
// Values are positional against the owning store's schema so that dumps
// stay columnar.
type Observation struct {
	Symbol    string            `json:"symbol"`
	Timestamp int64             `json:"timestamp"`
	Values    []decimal.Decimal `json:"values"`
}

// Schema names a streaming kind and the ordered value columns every
// observation in the store carries.
type Schema struct {
	Kind   string   `json:"kind"`
	Fields []string `json:"fields"`
}

// Well-known streaming schemas.
var (
	TickSchema      = Schema{Kind: "ticks", Fields: []string{"price", "volume"}}
	BookTopSchema   = Schema{Kind: "booktops", Fields: []string{"bid", "bid_qty", "ask", "ask_qty"}}
	IndicatorSchema = Schema{Kind: "indicators", Fields: []string{"value"}}
)

// NewTick builds a ticker observation against TickSchema.
func NewTick(symbol string, ts int64, price, volume decimal.Decimal) Observation {
	return Observation{Symbol: symbol, Timestamp: ts, Values: []decimal.Decimal{price, volume}}
}

// NewBookTop builds a best-bid/ask observation against BookTopSchema.
func NewBookTop(symbol string, ts int64, bid, bidQty, ask, askQty decimal.Decimal) Observation {
	return Observation{Symbol: symbol, Timestamp: ts, Values: []decimal.Decimal{bid, bidQty, ask, askQty}}
}

// NewIndicatorPoint builds a single-value indicator observation.
func NewIndicatorPoint(symbol string, ts int64, value decimal.Decimal) Observation {
	return Observation{Symbol: symbol, Timestamp: ts, Values: []decimal.Decimal{value}}
}
