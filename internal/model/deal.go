package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusActive      = "ACTIVE"
	DealStatusWaitingSell = "WAITING_SELL"
	DealStatusCompleted   = "COMPLETED"
	DealStatusCancelled   = "CANCELLED"
	DealStatusFailed      = "FAILED"
)

// Deal pairs a buy and a sell order into one round trip for a symbol.
// Order references are plain ids, never owning pointers.
type Deal struct {
	ID                  uuid.UUID       `json:"id"`
	Symbol              string          `json:"symbol"`
	Status              string          `json:"status"`
	BuyOrderID          uuid.UUID       `json:"buy_order_id,omitempty"`
	SellOrderID         uuid.UUID       `json:"sell_order_id,omitempty"`
	TargetProfitPercent decimal.Decimal `json:"target_profit_percent"`
	RealizedProfit      decimal.Decimal `json:"realized_profit"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

var dealTransitions = map[string][]string{
	DealStatusActive:      {DealStatusWaitingSell, DealStatusCancelled, DealStatusFailed},
	DealStatusWaitingSell: {DealStatusCompleted, DealStatusCancelled, DealStatusFailed},
}

// IsTerminal reports whether the deal can no longer change status or
// accept order references.
func (d *Deal) IsTerminal() bool {
	switch d.Status {
	case DealStatusCompleted, DealStatusCancelled, DealStatusFailed:
		return true
	}
	return false
}

// Transition applies a status change and stamps CompletedAt on terminal
// outcomes.
func (d *Deal) Transition(to string) error {
	if to == DealStatusFailed && !d.IsTerminal() {
		// any non-terminal state may fail on unrecoverable error
		d.Status = DealStatusFailed
		now := time.Now()
		d.CompletedAt = &now
		return nil
	}
	for _, next := range dealTransitions[d.Status] {
		if next == to {
			d.Status = to
			if d.IsTerminal() {
				now := time.Now()
				d.CompletedAt = &now
			}
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "deal", From: d.Status, To: to}
}

// AttachBuyOrder sets the buy-leg reference. A terminal deal refuses new
// references; an existing reference must be released first.
func (d *Deal) AttachBuyOrder(orderID uuid.UUID) error {
	if d.IsTerminal() {
		return &InvalidTransitionError{Entity: "deal", From: d.Status, To: d.Status, Reason: "terminal deal cannot attach orders"}
	}
	if d.BuyOrderID != uuid.Nil && d.BuyOrderID != orderID {
		return fmt.Errorf("deal %s already has open buy leg %s", d.ID, d.BuyOrderID)
	}
	d.BuyOrderID = orderID
	return nil
}

// AttachSellOrder sets the sell-leg reference under the same rules.
func (d *Deal) AttachSellOrder(orderID uuid.UUID) error {
	if d.IsTerminal() {
		return &InvalidTransitionError{Entity: "deal", From: d.Status, To: d.Status, Reason: "terminal deal cannot attach orders"}
	}
	if d.SellOrderID != uuid.Nil && d.SellOrderID != orderID {
		return fmt.Errorf("deal %s already has open sell leg %s", d.ID, d.SellOrderID)
	}
	d.SellOrderID = orderID
	return nil
}

// ReleaseBuyOrder drops the buy-leg reference, used after the leg was
// cancelled and before a replacement is attached.
func (d *Deal) ReleaseBuyOrder() {
	d.BuyOrderID = uuid.Nil
}

// Validate checks structural invariants at the repository boundary.
func (d *Deal) Validate() error {
	if d.Symbol == "" {
		return fmt.Errorf("deal symbol is required")
	}
	switch d.Status {
	case DealStatusActive, DealStatusWaitingSell, DealStatusCompleted, DealStatusCancelled, DealStatusFailed:
	default:
		return fmt.Errorf("invalid deal status %q", d.Status)
	}
	return nil
}

// Clone returns an independent copy.
func (d *Deal) Clone() *Deal {
	cp := *d
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
