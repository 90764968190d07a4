package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
)

// ErrNotFound is returned on point-lookup misses by every backend.
var ErrNotFound = gorm.ErrRecordNotFound

// Stats is a point-in-time repository snapshot for shutdown reporting.
type Stats struct {
	Backend string     `json:"backend"`
	Count   int        `json:"count"`
	Queue   QueueStats `json:"queue"`
}

// Orders is the dual-tier order repository: a map-backed in-memory table
// that is the process's source of truth, plus an optional write-through
// path to the durable store. With a nil durable store it degrades to the
// legacy pure-memory backend.
type Orders struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Order

	durable *DurableStore
	queue   *syncQueue
	// resyncMu serializes full resyncs against the durable writes of
	// individual write-through tasks. Task scheduling is never blocked.
	resyncMu sync.RWMutex

	logger *zap.Logger
}

// NewOrders builds the legacy pure-memory backend.
func NewOrders(logger *zap.Logger) *Orders {
	return &Orders{
		byID:   make(map[uuid.UUID]*model.Order),
		logger: logger,
	}
}

// NewOrdersWithDurable builds the write-through backend and loads the
// durable rows before accepting traffic. A failing load starts empty in
// degraded mode rather than failing startup.
func NewOrdersWithDurable(ctx context.Context, durable *DurableStore, cfg config.SyncConfig, logger *zap.Logger) *Orders {
	r := &Orders{
		byID:    make(map[uuid.UUID]*model.Order),
		durable: durable,
		queue:   newSyncQueue("orders", cfg.QueueSize, cfg.Workers, cfg.WriteTimeout, logger),
		logger:  logger,
	}
	loaded, err := durable.LoadOrders(ctx)
	if err != nil {
		logger.Warn("orders load-at-start failed, starting with empty table in degraded mode", zap.Error(err))
		return r
	}
	for _, o := range loaded {
		r.byID[o.ID] = o
	}
	logger.Info("orders loaded from durable store", zap.Int("count", len(loaded)))
	return r
}

// Backend names the active backend for logs and stats.
func (r *Orders) Backend() string {
	if r.durable != nil {
		return "memory_durable"
	}
	return "memory_legacy"
}

// Upsert stores the order by id, assigning one when absent, and schedules
// exactly one write-through task carrying the post-upsert value. The
// returned order is an independent copy.
func (r *Orders) Upsert(ctx context.Context, order *model.Order) (*model.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if err := order.Validate(); err != nil {
		return nil, err
	}

	stored := order.Clone()
	r.mu.Lock()
	r.byID[stored.ID] = stored
	r.mu.Unlock()

	r.scheduleSync(stored.Clone())
	return stored.Clone(), nil
}

func (r *Orders) scheduleSync(snapshot *model.Order) {
	if r.queue == nil {
		return
	}
	r.queue.Enqueue(func(ctx context.Context) error {
		r.resyncMu.RLock()
		defer r.resyncMu.RUnlock()
		return r.durable.UpsertOrder(ctx, snapshot)
	})
}

// Get returns a copy of the order or ErrNotFound.
func (r *Orders) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// Recover reinstates a single order from the durable copy after an
// incomplete load-at-start, going through the redis cache when the
// database is slow or down. The in-memory row wins when both exist.
func (r *Orders) Recover(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if o, err := r.Get(ctx, id); err == nil {
		return o, nil
	}
	if r.durable == nil {
		return nil, ErrNotFound
	}
	o, err := r.durable.GetOrder(ctx, id.String())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if existing, ok := r.byID[id]; ok {
		o = existing.Clone()
	} else {
		r.byID[id] = o.Clone()
	}
	r.mu.Unlock()
	r.logger.Info("order recovered from durable store", zap.String("order_id", id.String()))
	return o, nil
}

// Scan returns copies of every order matching the predicate, consistent
// at call time.
func (r *Orders) Scan(ctx context.Context, pred func(*model.Order) bool) ([]*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Order
	for _, o := range r.byID {
		if pred(o) {
			result = append(result, o.Clone())
		}
	}
	return result, nil
}

// OpenBuyOrders returns the live buy orders, the stale-order monitor's
// working set.
func (r *Orders) OpenBuyOrders(ctx context.Context) ([]*model.Order, error) {
	return r.Scan(ctx, func(o *model.Order) bool {
		return o.Side == model.OrderSideBuy && o.IsOpen()
	})
}

// Delete removes the order, reporting whether it existed. Administrative
// use only; orders normally retire by reaching a terminal status.
func (r *Orders) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	_, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok && r.queue != nil {
		r.queue.Enqueue(func(ctx context.Context) error {
			r.resyncMu.RLock()
			defer r.resyncMu.RUnlock()
			return r.durable.DeleteOrder(ctx, id.String())
		})
	}
	return ok, nil
}

// ForceFullResync serializes the whole table and transactionally
// overwrites the durable copy. Mutually exclusive with other resyncs and
// with the durable write of in-flight write-through tasks.
func (r *Orders) ForceFullResync(ctx context.Context) error {
	if r.durable == nil {
		return nil
	}
	r.resyncMu.Lock()
	defer r.resyncMu.Unlock()

	r.mu.RLock()
	snapshot := make([]*model.Order, 0, len(r.byID))
	for _, o := range r.byID {
		snapshot = append(snapshot, o.Clone())
	}
	r.mu.RUnlock()

	if err := r.durable.ReplaceAllOrders(ctx, snapshot); err != nil {
		resyncTotal.WithLabelValues("orders", "failed").Inc()
		return err
	}
	resyncTotal.WithLabelValues("orders", "ok").Inc()
	r.logger.Info("orders full resync complete", zap.Int("count", len(snapshot)))
	return nil
}

// Drain waits for in-flight write-through tasks, bounded by ctx.
func (r *Orders) Drain(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}
	return r.queue.Drain(ctx)
}

// Stop shuts the sync workers down.
func (r *Orders) Stop() {
	if r.queue != nil {
		r.queue.Stop()
	}
}

// Stats reports row count and queue counters.
func (r *Orders) Stats() Stats {
	r.mu.RLock()
	count := len(r.byID)
	r.mu.RUnlock()
	s := Stats{Backend: r.Backend(), Count: count}
	if r.queue != nil {
		s.Queue = r.queue.Stats()
	}
	return s
}
