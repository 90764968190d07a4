// Package app owns the process-level wiring: one context object holding
// the repository factory, the exchange connector, the stale-order monitor
// and the retention sweeper. Components receive handles from here instead
// of reaching for globals.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/exchange"
	"github.com/halcyonex/tradecore/internal/monitor"
	"github.com/halcyonex/tradecore/internal/repository"
	"github.com/halcyonex/tradecore/internal/stream"
)

// App is the engine's root object, constructed once at process start.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Factory   *repository.Factory
	Connector exchange.Connector
	Monitor   *monitor.Monitor
	Sweeper   *stream.Sweeper
}

// New wires the engine from configuration. Repository construction
// happens here so a durable-store outage surfaces (and degrades) at
// startup, not mid-trading.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	var conn exchange.Connector
	switch cfg.Exchange.Driver {
	case "paper":
		conn = exchange.NewPaperConnector()
	default:
		return nil, fmt.Errorf("unknown exchange driver %q", cfg.Exchange.Driver)
	}

	factory := repository.NewFactory(cfg, logger)
	orders := factory.Orders(ctx)
	deals := factory.Deals(ctx)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		Factory:   factory,
		Connector: conn,
		Monitor:   monitor.New(orders, deals, conn, cfg.Monitor, logger),
		Sweeper: stream.NewSweeper(cfg.Stream.DumpDir, cfg.Stream.RetentionDays,
			cfg.Stream.SweepInterval, logger),
	}
	return a, nil
}

// Run starts the background loops and blocks until ctx is cancelled, then
// executes the shutdown sequence.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("trading engine started",
		zap.String("orders_backend", a.Factory.Orders(ctx).Backend()),
		zap.String("deals_backend", a.Factory.Deals(ctx).Backend()))

	go a.Monitor.Run(ctx)
	go a.Sweeper.Run(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()
	NewCoordinator(a.Factory, a.cfg.Sync.DrainTimeout, a.logger).Shutdown(shutdownCtx)
	a.logger.Info("trading engine stopped", zap.Any("monitor_stats", a.Monitor.Stats()))
	return nil
}
