package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperConnector is an in-memory venue simulator. It backs local runs and
// tests; no real funds ever move through it.
type PaperConnector struct {
	mu     sync.Mutex
	orders map[string]*OrderStatus
	prices map[string]decimal.Decimal
	rules  map[string]SymbolRules
}

// NewPaperConnector builds an empty simulator.
func NewPaperConnector() *PaperConnector {
	return &PaperConnector{
		orders: make(map[string]*OrderStatus),
		prices: make(map[string]decimal.Decimal),
		rules:  make(map[string]SymbolRules),
	}
}

// SetPrice sets the simulated market price for a symbol.
func (p *PaperConnector) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetRules sets the simulated constraints for a symbol.
func (p *PaperConnector) SetRules(symbol string, rules SymbolRules) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[symbol] = rules
}

// PlaceOrder accepts any valid spec and books it as open.
func (p *PaperConnector) PlaceOrder(ctx context.Context, spec OrderSpec) (Ack, error) {
	if spec.Quantity.LessThanOrEqual(decimal.Zero) {
		return Ack{}, fmt.Errorf("paper exchange rejected order: non-positive quantity")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.orders[id] = &OrderStatus{ExchangeID: id, Status: StatusOpen}
	return Ack{ExchangeID: id, Status: StatusOpen}, nil
}

// CancelOrder cancels an open order.
func (p *PaperConnector) CancelOrder(ctx context.Context, exchangeID, symbol string) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[exchangeID]
	if !ok {
		return Ack{}, fmt.Errorf("paper exchange: unknown order %s", exchangeID)
	}
	if st.Status == StatusFilled {
		return Ack{}, fmt.Errorf("paper exchange: order %s already filled", exchangeID)
	}
	st.Status = StatusCancelled
	return Ack{ExchangeID: exchangeID, Status: StatusCancelled}, nil
}

// FetchOrderStatus reports the simulator's view of the order.
func (p *PaperConnector) FetchOrderStatus(ctx context.Context, exchangeID, symbol string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[exchangeID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("paper exchange: unknown order %s", exchangeID)
	}
	return *st, nil
}

// FetchMarketPrice reports the configured price for the symbol.
func (p *PaperConnector) FetchMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper exchange: no price for %s", symbol)
	}
	return price, nil
}

// Rules reports the configured constraints, defaulting to permissive ones.
func (p *PaperConnector) Rules(ctx context.Context, symbol string) (SymbolRules, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.rules[symbol]; ok {
		return r, nil
	}
	return SymbolRules{
		TickSize:    decimal.New(1, -8),
		StepSize:    decimal.New(1, -8),
		MinNotional: decimal.Zero,
	}, nil
}
