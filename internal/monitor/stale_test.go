package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/exchange"
	"github.com/halcyonex/tradecore/internal/model"
	"github.com/halcyonex/tradecore/internal/repository"
)

// flakyConnector wraps the paper venue with scriptable failures.
type flakyConnector struct {
	*exchange.PaperConnector
	cancelErr        error
	cancelUnderneath bool // perform the cancel before returning cancelErr
	placeErr         error
}

func (f *flakyConnector) CancelOrder(ctx context.Context, exchangeID, symbol string) (exchange.Ack, error) {
	if f.cancelErr != nil {
		if f.cancelUnderneath {
			_, _ = f.PaperConnector.CancelOrder(ctx, exchangeID, symbol)
		}
		return exchange.Ack{}, f.cancelErr
	}
	return f.PaperConnector.CancelOrder(ctx, exchangeID, symbol)
}

func (f *flakyConnector) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Ack, error) {
	if f.placeErr != nil {
		return exchange.Ack{}, f.placeErr
	}
	return f.PaperConnector.PlaceOrder(ctx, spec)
}

type StaleMonitorSuite struct {
	suite.Suite
	orders  *repository.Orders
	deals   *repository.Deals
	conn    *flakyConnector
	monitor *Monitor
}

func TestStaleMonitorSuite(t *testing.T) {
	suite.Run(t, new(StaleMonitorSuite))
}

func (s *StaleMonitorSuite) SetupTest() {
	logger := zaptest.NewLogger(s.T())
	s.orders = repository.NewOrders(logger)
	s.deals = repository.NewDeals(logger)
	s.conn = &flakyConnector{PaperConnector: exchange.NewPaperConnector()}
	s.monitor = New(s.orders, s.deals, s.conn, config.MonitorConfig{
		Interval:            time.Second,
		MaxAge:              15 * time.Minute,
		MaxDeviationPercent: 3.0,
		OffsetPercent:       0.1,
		RecreateCooldown:    2 * time.Minute,
		CallTimeout:         time.Second,
	}, logger)
}

// placeOpenBuy books an order on the paper venue and in the repository.
func (s *StaleMonitorSuite) placeOpenBuy(price string, age time.Duration) (*model.Order, *model.Deal) {
	ctx := context.Background()
	p := decimal.RequireFromString(price)
	qty := decimal.NewFromInt(1)

	ack, err := s.conn.PaperConnector.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol: "BTCUSDT", Side: model.OrderSideBuy, Type: model.OrderTypeLimit, Price: p, Quantity: qty,
	})
	s.Require().NoError(err)

	order := &model.Order{
		ID:         uuid.New(),
		ExchangeID: ack.ExchangeID,
		Symbol:     "BTCUSDT",
		Side:       model.OrderSideBuy,
		Type:       model.OrderTypeLimit,
		Price:      p,
		Quantity:   qty,
		Status:     model.OrderStatusPlaced,
		CreatedAt:  time.Now().Add(-age),
	}
	deal := &model.Deal{ID: uuid.New(), Symbol: "BTCUSDT", Status: model.DealStatusActive}
	s.Require().NoError(deal.AttachBuyOrder(order.ID))
	order.DealID = deal.ID

	_, err = s.deals.Upsert(ctx, deal)
	s.Require().NoError(err)
	stored, err := s.orders.Upsert(ctx, order)
	s.Require().NoError(err)
	stored.CreatedAt = order.CreatedAt
	return stored, deal
}

func (s *StaleMonitorSuite) TestStalenessPredicate() {
	now := time.Now()
	market := decimal.NewFromInt(100)

	aged := &model.Order{Price: market, CreatedAt: now.Add(-16 * time.Minute)}
	s.True(s.monitor.IsStale(aged, market, now), "16 minutes old at market price")

	deviated := &model.Order{Price: decimal.NewFromInt(90), CreatedAt: now.Add(-time.Minute)}
	s.True(s.monitor.IsStale(deviated, market, now), "1 minute old, ~11% away")

	fresh := &model.Order{Price: decimal.NewFromFloat(99.5), CreatedAt: now.Add(-time.Minute)}
	s.False(s.monitor.IsStale(fresh, market, now), "1 minute old, within 1%")
}

func (s *StaleMonitorSuite) TestCancelAndRecreate() {
	ctx := context.Background()
	order, deal := s.placeOpenBuy("1.50", 20*time.Minute)
	market := decimal.NewFromInt(2)
	s.conn.SetPrice("BTCUSDT", market)

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	cancelled, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusCancelled, cancelled.Status)
	s.True(cancelled.FilledQuantity.Equal(order.FilledQuantity), "fills untouched by cancel")

	updatedDeal, err := s.deals.Get(ctx, deal.ID)
	s.Require().NoError(err)
	s.NotEqual(order.ID, updatedDeal.BuyOrderID, "deal buy leg points at the replacement")

	replacement, err := s.orders.Get(ctx, updatedDeal.BuyOrderID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusPlaced, replacement.Status)
	s.True(replacement.Price.LessThanOrEqual(market), "replacement never above market")
	s.True(replacement.Price.GreaterThan(order.Price), "priced inside the move toward market")

	stats := s.monitor.Stats()
	s.EqualValues(1, stats.StaleFound)
	s.EqualValues(1, stats.Cancellations)
	s.EqualValues(1, stats.Recreations)
}

func (s *StaleMonitorSuite) TestFreshOrdersLeftAlone() {
	ctx := context.Background()
	order, _ := s.placeOpenBuy("100.00", time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(100))

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	got, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusPlaced, got.Status)
	s.EqualValues(0, s.monitor.Stats().StaleFound)
}

func (s *StaleMonitorSuite) TestAmbiguousCancelNotAssumed() {
	ctx := context.Background()
	order, _ := s.placeOpenBuy("100.00", 20*time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	// cancel times out and the venue still has the order open
	s.conn.cancelErr = &exchange.AmbiguousError{Op: "cancel", Err: fmt.Errorf("timeout")}

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	got, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusPlaced, got.Status, "no transition on unverified cancel")
	s.EqualValues(0, s.monitor.Stats().Cancellations)
}

func (s *StaleMonitorSuite) TestAmbiguousCancelVerifiedByStatusQuery() {
	ctx := context.Background()
	order, deal := s.placeOpenBuy("100.00", 20*time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	// the cancel reached the venue but the response was lost
	s.conn.cancelErr = &exchange.AmbiguousError{Op: "cancel", Err: fmt.Errorf("timeout")}
	s.conn.cancelUnderneath = true

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	got, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusCancelled, got.Status)

	updatedDeal, err := s.deals.Get(ctx, deal.ID)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, updatedDeal.BuyOrderID)
	s.NotEqual(order.ID, updatedDeal.BuyOrderID)
}

func (s *StaleMonitorSuite) TestPlacementFailureReported() {
	ctx := context.Background()
	order, deal := s.placeOpenBuy("100.00", 20*time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	s.conn.placeErr = fmt.Errorf("insufficient balance")

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	got, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusCancelled, got.Status)
	s.Contains(got.LastError, "insufficient balance")
	s.Equal(1, got.RetryCount)

	updatedDeal, err := s.deals.Get(ctx, deal.ID)
	s.Require().NoError(err)
	s.Equal(uuid.Nil, updatedDeal.BuyOrderID, "deal visibly left without an open buy leg")
	s.EqualValues(0, s.monitor.Stats().Recreations)
}

func (s *StaleMonitorSuite) TestMinNotionalBlocksRecreation() {
	ctx := context.Background()
	order, deal := s.placeOpenBuy("100.00", 20*time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	s.conn.SetRules("BTCUSDT", exchange.SymbolRules{
		TickSize:    decimal.NewFromFloat(0.01),
		StepSize:    decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(1000),
	})

	s.Require().NoError(s.monitor.CheckOnce(ctx))

	got, err := s.orders.Get(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusCancelled, got.Status)
	s.Contains(got.LastError, "notional")

	updatedDeal, err := s.deals.Get(ctx, deal.ID)
	s.Require().NoError(err)
	s.Equal(uuid.Nil, updatedDeal.BuyOrderID)
}

func (s *StaleMonitorSuite) TestRecreateCooldownPerDeal() {
	ctx := context.Background()
	_, deal := s.placeOpenBuy("1.50", 20*time.Minute)
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(2))

	s.Require().NoError(s.monitor.CheckOnce(ctx))
	s.EqualValues(1, s.monitor.Stats().Recreations)

	// the replacement is fresh in age but far from a moved market; the
	// cooldown still suppresses another churn for the same deal
	s.conn.SetPrice("BTCUSDT", decimal.NewFromInt(4))
	s.Require().NoError(s.monitor.CheckOnce(ctx))
	s.EqualValues(1, s.monitor.Stats().Recreations)

	updatedDeal, err := s.deals.Get(ctx, deal.ID)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, updatedDeal.BuyOrderID)
}

func (s *StaleMonitorSuite) TestReplacementPriceClamping() {
	market := decimal.NewFromInt(2)
	price := s.monitor.ReplacementPrice(market, exchange.SymbolRules{TickSize: decimal.NewFromFloat(0.01)})
	s.True(price.LessThanOrEqual(market))
	s.True(price.Equal(decimal.RequireFromString("1.99")), "0.1%% below 2.00 floored to tick")
}
