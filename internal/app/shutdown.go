package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/repository"
)

// Coordinator runs the termination sequence: stop ingestion, drain
// in-flight write-through tasks (bounded), force a full durable resync,
// force a final dump of every streaming buffer, log statistics. Each step
// logs its failures and proceeds; a failing durable store must never hang
// shutdown.
type Coordinator struct {
	factory      *repository.Factory
	drainTimeout time.Duration
	logger       *zap.Logger
}

// NewCoordinator builds a coordinator over the factory's repositories.
func NewCoordinator(factory *repository.Factory, drainTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{factory: factory, drainTimeout: drainTimeout, logger: logger}
}

// Shutdown executes the sequence within ctx's deadline.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.logger.Info("shutdown sequence started")

	// 1. no new streaming appends
	c.factory.CloseStreams()

	// 2. bounded wait for in-flight write-through tasks
	drainCtx, cancel := context.WithTimeout(ctx, c.drainTimeout)
	for kind, err := range c.factory.DrainAll(drainCtx) {
		if err != nil {
			c.logger.Warn("sync queue drain incomplete", zap.String("repository", string(kind)), zap.Error(err))
		}
	}
	cancel()

	// 3. full resync of every write-through repository
	for kind, err := range c.factory.ForceSyncAll(ctx) {
		if err != nil {
			c.logger.Error("final resync failed", zap.String("repository", string(kind)), zap.Error(err))
		}
	}

	// 4. final dump of every streaming buffer
	for kind, err := range c.factory.ForceDumpAll() {
		if err != nil {
			c.logger.Error("final dump failed", zap.String("repository", string(kind)), zap.Error(err))
		}
	}

	// 5. stop workers and report
	c.factory.Stop()
	for kind, stats := range c.factory.StatsAll() {
		c.logger.Info("repository final stats",
			zap.String("repository", string(kind)),
			zap.String("backend", stats.Backend),
			zap.Int("count", stats.Count),
			zap.Uint64("synced", stats.Queue.Synced),
			zap.Uint64("sync_failed", stats.Queue.Failed),
			zap.Uint64("sync_dropped", stats.Queue.Dropped))
	}
	c.logger.Info("shutdown sequence complete")
}
