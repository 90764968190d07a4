package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
	"github.com/halcyonex/tradecore/internal/repository"
	"github.com/halcyonex/tradecore/internal/stream"
)

var shutdownDSN atomic.Int64

func shutdownTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:shutdown%d?mode=memory&cache=shared", shutdownDSN.Add(1)),
		},
		Repos: config.ReposConfig{
			OrdersBackend: config.BackendMemoryDurable,
			DealsBackend:  config.BackendMemoryDurable,
		},
		Sync: config.SyncConfig{QueueSize: 64, Workers: 2, WriteTimeout: 5 * time.Second, DrainTimeout: 5 * time.Second},
		Stream: config.StreamConfig{
			DumpDir:       t.TempDir(),
			RetentionDays: 14,
			SweepInterval: time.Hour,
			Kinds: map[string]config.StreamKindConfig{
				"ticks": {MemoryLimitBytes: 1 << 20, DumpThresholdBytes: 1 << 19},
			},
		},
	}
}

func TestShutdownSequenceFlushesEverything(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := shutdownTestConfig(t)
	factory := repository.NewFactory(cfg, logger)
	ctx := context.Background()

	orders := factory.Orders(ctx)
	require.Equal(t, "memory_durable", orders.Backend())
	_, err := orders.Upsert(ctx, &model.Order{
		Symbol:   "BTCUSDT",
		Side:     model.OrderSideBuy,
		Type:     model.OrderTypeLimit,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(1),
		Status:   model.OrderStatusPending,
	})
	require.NoError(t, err)

	ticks := factory.Stream(repository.KindTicks)
	require.NoError(t, ticks.Append(model.NewTick("BTCUSDT", time.Now().UnixMilli(),
		decimal.NewFromInt(100), decimal.NewFromInt(1))))

	NewCoordinator(factory, 5*time.Second, logger).Shutdown(ctx)

	// streaming buffers flushed and closed to new ingestion
	require.Zero(t, ticks.MemoryUsage().RecordCount)
	require.ErrorIs(t, ticks.Append(model.NewTick("BTCUSDT", 1,
		decimal.NewFromInt(1), decimal.NewFromInt(1))), stream.ErrClosed)

	// durable copy reflects the final in-memory state
	stats := factory.StatsAll()
	require.Equal(t, 1, stats[repository.KindOrders].Count)
}

func TestShutdownProceedsPastFailingSteps(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := shutdownTestConfig(t)
	// durable store unreachable from the start: repositories fall back
	cfg.Database.DSN = "/nonexistent/tradecore/db.sqlite"
	factory := repository.NewFactory(cfg, logger)
	ctx := context.Background()

	orders := factory.Orders(ctx)
	require.Equal(t, "memory_legacy", orders.Backend())

	done := make(chan struct{})
	go func() {
		NewCoordinator(factory, time.Second, logger).Shutdown(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown hung on failing durable store")
	}
}
