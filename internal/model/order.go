package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types and statuses
const (
	// Order sides
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	// Order types
	OrderTypeLimit     = "LIMIT"
	OrderTypeMarket    = "MARKET"
	OrderTypeStop      = "STOP"
	OrderTypeStopLimit = "STOP_LIMIT"

	// Order statuses
	OrderStatusPending         = "PENDING"
	OrderStatusPlaced          = "PLACED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// Order represents a single exchange order tracked by the engine.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	ExchangeID      string          `json:"exchange_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	Status          string          `json:"status"`
	DealID          uuid.UUID       `json:"deal_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	RetryCount      int             `json:"retry_count"`
	LastError       string          `json:"last_error,omitempty"`
}

// orderTransitions enumerates the legal status graph. Terminal statuses
// have no outgoing edges.
var orderTransitions = map[string][]string{
	OrderStatusPending:         {OrderStatusPlaced, OrderStatusRejected},
	OrderStatusPlaced:          {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusPartiallyFilled: {OrderStatusPlaced, OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
}

// InvalidTransitionError is returned when a status change violates the
// order or deal state machine.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s transition %s -> %s invalid: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s transition %s -> %s invalid", e.Entity, e.From, e.To)
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// IsOpen reports whether the order is live on the exchange.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusPartiallyFilled
}

// CanTransition checks a status change against the state machine without
// applying it.
func (o *Order) CanTransition(to string) error {
	for _, next := range orderTransitions[o.Status] {
		if next == to {
			if to == OrderStatusCancelled && o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
				return &InvalidTransitionError{Entity: "order", From: o.Status, To: to, Reason: "order fully filled"}
			}
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "order", From: o.Status, To: to}
}

// Transition applies a status change driven by an explicit exchange or
// user event and stamps UpdatedAt.
func (o *Order) Transition(to string) error {
	if err := o.CanTransition(to); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyFill records a fill report. FilledQuantity never decreases and the
// order moves to FILLED exactly when the full quantity is executed.
func (o *Order) ApplyFill(fillQty, avgPrice decimal.Decimal) error {
	if o.IsTerminal() && o.Status != OrderStatusFilled {
		return &InvalidTransitionError{Entity: "order", From: o.Status, To: OrderStatusPartiallyFilled, Reason: "terminal order"}
	}
	if fillQty.LessThan(o.FilledQuantity) {
		return fmt.Errorf("fill quantity %s below recorded %s for order %s", fillQty, o.FilledQuantity, o.ID)
	}
	if fillQty.GreaterThan(o.Quantity) {
		return fmt.Errorf("fill quantity %s exceeds order quantity %s for order %s", fillQty, o.Quantity, o.ID)
	}
	o.FilledQuantity = fillQty
	o.AvgFillPrice = avgPrice
	if fillQty.Equal(o.Quantity) {
		o.Status = OrderStatusFilled
	} else if fillQty.GreaterThan(decimal.Zero) {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()
	return nil
}

// Validate checks the structural invariants enforced at the repository
// boundary.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("invalid order side %q", o.Side)
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order quantity must be positive")
	}
	if o.FilledQuantity.IsNegative() || o.FilledQuantity.GreaterThan(o.Quantity) {
		return fmt.Errorf("filled quantity %s outside [0, %s]", o.FilledQuantity, o.Quantity)
	}
	if o.Type != OrderTypeMarket && o.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order price must be positive for %s orders", o.Type)
	}
	if o.Status == OrderStatusFilled && !o.FilledQuantity.Equal(o.Quantity) {
		return fmt.Errorf("filled order %s has filled quantity %s != %s", o.ID, o.FilledQuantity, o.Quantity)
	}
	return nil
}

// Clone returns an independent copy. Repositories hand out clones so
// callers cannot mutate stored rows structurally.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
