// Package monitor implements the stale-order recovery loop: it scans open
// buy orders on a fixed interval and cancel-and-recreates any that have
// become economically stale.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/exchange"
	"github.com/halcyonex/tradecore/internal/model"
	"github.com/halcyonex/tradecore/internal/repository"
)

var oneHundred = decimal.NewFromInt(100)

// Stats is a running counter snapshot for observability.
type Stats struct {
	Checks        uint64 `json:"checks"`
	StaleFound    uint64 `json:"stale_found"`
	Cancellations uint64 `json:"cancellations"`
	Recreations   uint64 `json:"recreations"`
}

// Monitor owns the stale-order detection-and-recreation state machine.
// Only buy orders are ever auto-replaced; sell orders are out of scope.
type Monitor struct {
	orders *repository.Orders
	deals  *repository.Deals
	conn   exchange.Connector
	cfg    config.MonitorConfig
	logger *zap.Logger

	mu           sync.Mutex
	lastRecreate map[uuid.UUID]time.Time // per-deal recreation cooldown

	checks        atomic.Uint64
	staleFound    atomic.Uint64
	cancellations atomic.Uint64
	recreations   atomic.Uint64
}

// New builds a monitor over the given repositories and connector.
func New(orders *repository.Orders, deals *repository.Deals, conn exchange.Connector, cfg config.MonitorConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		orders:       orders,
		deals:        deals,
		conn:         conn,
		cfg:          cfg,
		logger:       logger,
		lastRecreate: make(map[uuid.UUID]time.Time),
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckOnce(ctx); err != nil {
				m.logger.Warn("stale-order scan failed", zap.Error(err))
			}
		}
	}
}

// CheckOnce runs a single scan cycle over the open buy orders.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	m.checks.Add(1)
	checksTotal.Inc()

	open, err := m.orders.OpenBuyOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan open buy orders: %w", err)
	}
	now := time.Now()
	for _, order := range open {
		if order.ExchangeID == "" {
			continue
		}
		if !m.cooldownElapsed(order.DealID, now) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		market, err := m.conn.FetchMarketPrice(callCtx, order.Symbol)
		cancel()
		if err != nil {
			m.logger.Warn("market price unavailable, skipping order this cycle",
				zap.String("symbol", order.Symbol), zap.Error(err))
			continue
		}
		if !m.IsStale(order, market, now) {
			continue
		}
		m.staleFound.Add(1)
		staleFoundTotal.Inc()
		m.logger.Info("stale order detected",
			zap.String("order_id", order.ID.String()),
			zap.String("symbol", order.Symbol),
			zap.String("price", order.Price.String()),
			zap.String("market", market.String()),
			zap.Duration("age", now.Sub(order.CreatedAt)))
		if err := m.replace(ctx, order, market); err != nil {
			m.logger.Error("stale-order replacement failed",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// IsStale applies the staleness predicate: too old, or too far from the
// current market price.
func (m *Monitor) IsStale(order *model.Order, market decimal.Decimal, now time.Time) bool {
	if now.Sub(order.CreatedAt) > m.cfg.MaxAge {
		return true
	}
	if order.Price.IsZero() {
		return false
	}
	deviation := market.Sub(order.Price).Abs().Div(order.Price).Mul(oneHundred)
	return deviation.GreaterThan(decimal.NewFromFloat(m.cfg.MaxDeviationPercent))
}

func (m *Monitor) cooldownElapsed(dealID uuid.UUID, now time.Time) bool {
	if dealID == uuid.Nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastRecreate[dealID]
	return !ok || now.Sub(last) >= m.cfg.RecreateCooldown
}

func (m *Monitor) markRecreated(dealID uuid.UUID) {
	if dealID == uuid.Nil {
		return
	}
	m.mu.Lock()
	m.lastRecreate[dealID] = time.Now()
	m.mu.Unlock()
}

// replace runs the cancel-and-recreate workflow for one stale buy order.
func (m *Monitor) replace(ctx context.Context, order *model.Order, market decimal.Decimal) error {
	// 1-2. cancel on the exchange, resolving ambiguous outcomes through
	// an explicit status query before any state transition.
	if err := m.cancelVerified(ctx, order); err != nil {
		return err
	}
	if err := order.Transition(model.OrderStatusCancelled); err != nil {
		return fmt.Errorf("cannot mark order cancelled: %w", err)
	}
	if _, err := m.orders.Upsert(ctx, order); err != nil {
		return fmt.Errorf("failed to persist cancelled order: %w", err)
	}
	m.cancellations.Add(1)
	cancellationsTotal.Inc()

	// 3-5. price, validate and place the replacement.
	if err := m.recreate(ctx, order, market); err != nil {
		m.reportFailure(ctx, order, err)
		return err
	}
	return nil
}

// cancelVerified requests the cancel and, when the outcome is unknown,
// re-verifies through a status query rather than assuming success.
func (m *Monitor) cancelVerified(ctx context.Context, order *model.Order) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	_, err := m.conn.CancelOrder(callCtx, order.ExchangeID, order.Symbol)
	cancel()
	if err == nil {
		return nil
	}
	if !exchange.IsAmbiguous(err) {
		return fmt.Errorf("cancel rejected for order %s: %w", order.ID, err)
	}
	statusCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	st, serr := m.conn.FetchOrderStatus(statusCtx, order.ExchangeID, order.Symbol)
	cancel()
	if serr != nil {
		return fmt.Errorf("cancel outcome unknown and status query failed for order %s: %w", order.ID, serr)
	}
	if st.Status != exchange.StatusCancelled {
		return fmt.Errorf("cancel outcome unknown, order %s still %s on exchange", order.ID, st.Status)
	}
	return nil
}

func (m *Monitor) recreate(ctx context.Context, cancelled *model.Order, market decimal.Decimal) error {
	rulesCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	rules, err := m.conn.Rules(rulesCtx, cancelled.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("symbol rules unavailable: %w", err)
	}

	price := m.ReplacementPrice(market, rules)
	quantity := cancelled.Quantity.Sub(cancelled.FilledQuantity)
	if rules.StepSize.IsPositive() {
		quantity = quantity.Div(rules.StepSize).Floor().Mul(rules.StepSize)
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("no remaining quantity to replace for order %s", cancelled.ID)
	}
	if rules.MinNotional.IsPositive() && price.Mul(quantity).LessThan(rules.MinNotional) {
		return fmt.Errorf("replacement notional %s below minimum %s", price.Mul(quantity), rules.MinNotional)
	}

	replacement := &model.Order{
		ID:        uuid.New(),
		Symbol:    cancelled.Symbol,
		Side:      model.OrderSideBuy,
		Type:      model.OrderTypeLimit,
		Price:     price,
		Quantity:  quantity,
		Status:    model.OrderStatusPending,
		DealID:    cancelled.DealID,
		CreatedAt: time.Now(),
	}

	placeCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	ack, err := m.conn.PlaceOrder(placeCtx, exchange.OrderSpec{
		Symbol:   replacement.Symbol,
		Side:     replacement.Side,
		Type:     replacement.Type,
		Price:    replacement.Price,
		Quantity: replacement.Quantity,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("replacement placement failed: %w", err)
	}

	replacement.ExchangeID = ack.ExchangeID
	if err := replacement.Transition(model.OrderStatusPlaced); err != nil {
		return err
	}
	if _, err := m.orders.Upsert(ctx, replacement); err != nil {
		return fmt.Errorf("failed to persist replacement order: %w", err)
	}
	if err := m.attachToDeal(ctx, cancelled.DealID, replacement.ID); err != nil {
		return err
	}
	m.markRecreated(cancelled.DealID)
	m.recreations.Add(1)
	recreationsTotal.Inc()
	m.logger.Info("stale order replaced",
		zap.String("cancelled_order_id", cancelled.ID.String()),
		zap.String("replacement_order_id", replacement.ID.String()),
		zap.String("price", replacement.Price.String()))
	return nil
}

// ReplacementPrice computes the new limit price a configured percentage
// inside the market, rounded down to the tick. It is never above the
// current market price: a runaway market is not chased.
func (m *Monitor) ReplacementPrice(market decimal.Decimal, rules exchange.SymbolRules) decimal.Decimal {
	offset := decimal.NewFromFloat(m.cfg.OffsetPercent).Div(oneHundred)
	price := market.Mul(decimal.NewFromInt(1).Sub(offset))
	if rules.TickSize.IsPositive() {
		price = price.Div(rules.TickSize).Floor().Mul(rules.TickSize)
	}
	if price.GreaterThan(market) {
		price = market
	}
	return price
}

// reportFailure records the recreation failure on the cancelled order and
// releases the deal's buy leg so external handling can see the deal has
// no open buy side. No silent retry loop.
func (m *Monitor) reportFailure(ctx context.Context, cancelled *model.Order, cause error) {
	cancelled.LastError = cause.Error()
	cancelled.RetryCount++
	if _, err := m.orders.Upsert(ctx, cancelled); err != nil {
		m.logger.Error("failed to record recreation failure", zap.Error(err))
	}
	if cancelled.DealID == uuid.Nil {
		return
	}
	deal, err := m.deals.Get(ctx, cancelled.DealID)
	if err != nil {
		m.logger.Error("failed to load deal after recreation failure",
			zap.String("deal_id", cancelled.DealID.String()), zap.Error(err))
		return
	}
	deal.ReleaseBuyOrder()
	if _, err := m.deals.Upsert(ctx, deal); err != nil {
		m.logger.Error("failed to release deal buy leg", zap.Error(err))
		return
	}
	m.logger.Warn("deal left without open buy leg after failed recreation",
		zap.String("deal_id", deal.ID.String()), zap.String("cause", cause.Error()))
}

func (m *Monitor) attachToDeal(ctx context.Context, dealID, orderID uuid.UUID) error {
	if dealID == uuid.Nil {
		return nil
	}
	deal, err := m.deals.Get(ctx, dealID)
	if err != nil {
		return fmt.Errorf("failed to load deal %s: %w", dealID, err)
	}
	deal.ReleaseBuyOrder()
	if err := deal.AttachBuyOrder(orderID); err != nil {
		return err
	}
	if _, err := m.deals.Upsert(ctx, deal); err != nil {
		return fmt.Errorf("failed to persist deal buy leg: %w", err)
	}
	return nil
}

// Stats snapshots the running counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Checks:        m.checks.Load(),
		StaleFound:    m.staleFound.Load(),
		Cancellations: m.cancellations.Load(),
		Recreations:   m.recreations.Load(),
	}
}
