// Package exchange defines the boundary to the trading venue. The engine
// treats every call as fallible and timeout-bound; only status and price
// queries are safe to retry blindly.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Exchange-side order statuses as reported by status queries.
const (
	StatusOpen            = "OPEN"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
)

// OrderSpec describes an order to place.
type OrderSpec struct {
	Symbol   string
	Side     string
	Type     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Ack acknowledges a place or cancel request.
type Ack struct {
	ExchangeID string
	Status     string
}

// OrderStatus is the venue's view of one order.
type OrderStatus struct {
	ExchangeID     string
	Status         string
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
}

// SymbolRules are the venue's constraints for one symbol.
type SymbolRules struct {
	TickSize    decimal.Decimal // price increment
	StepSize    decimal.Decimal // quantity increment
	MinNotional decimal.Decimal // minimum price*quantity
}

// Connector is the venue client consumed by the engine.
type Connector interface {
	PlaceOrder(ctx context.Context, spec OrderSpec) (Ack, error)
	CancelOrder(ctx context.Context, exchangeID, symbol string) (Ack, error)
	FetchOrderStatus(ctx context.Context, exchangeID, symbol string) (OrderStatus, error)
	FetchMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Rules(ctx context.Context, symbol string) (SymbolRules, error)
}

// AmbiguousError marks an unknown-outcome failure: the request may have
// reached the venue before the connection died. Callers must re-verify
// through a status query instead of assuming either outcome.
type AmbiguousError struct {
	Op  string
	Err error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s outcome unknown: %v", e.Op, e.Err)
}

func (e *AmbiguousError) Unwrap() error {
	return e.Err
}

// IsAmbiguous reports whether err carries an unknown outcome.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
