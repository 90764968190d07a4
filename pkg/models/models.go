// Package models holds the durable-store row types. The in-memory engine
// works on internal/model values; these rows exist only for the
// recovery/audit copy kept in the relational store.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the durable row for one exchange order.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ExchangeID     string          `gorm:"index" json:"exchange_id"`
	Symbol         string          `gorm:"index;not null" json:"symbol"`
	Side           string          `gorm:"not null" json:"side"`
	Type           string          `gorm:"not null" json:"type"`
	Price          decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	Quantity       decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(32,16)" json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `gorm:"type:decimal(32,16)" json:"avg_fill_price"`
	Status         string          `gorm:"index;not null" json:"status"`
	DealID         uuid.UUID       `gorm:"type:uuid;index" json:"deal_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error"`
}

// TableName overrides the table name used by GORM
func (Order) TableName() string {
	return "orders"
}

// Deal is the durable row for one buy/sell round trip.
type Deal struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Symbol              string          `gorm:"index;not null" json:"symbol"`
	Status              string          `gorm:"index;not null" json:"status"`
	BuyOrderID          uuid.UUID       `gorm:"type:uuid" json:"buy_order_id"`
	SellOrderID         uuid.UUID       `gorm:"type:uuid" json:"sell_order_id"`
	TargetProfitPercent decimal.Decimal `gorm:"type:decimal(16,8)" json:"target_profit_percent"`
	RealizedProfit      decimal.Decimal `gorm:"type:decimal(32,16)" json:"realized_profit"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at"`
}

// TableName overrides the table name used by GORM
func (Deal) TableName() string {
	return "deals"
}
