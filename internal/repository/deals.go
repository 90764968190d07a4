package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
)

// Deals is the dual-tier deal repository, same tiering as Orders.
type Deals struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Deal

	durable  *DurableStore
	queue    *syncQueue
	resyncMu sync.RWMutex

	logger *zap.Logger
}

// NewDeals builds the legacy pure-memory backend.
func NewDeals(logger *zap.Logger) *Deals {
	return &Deals{
		byID:   make(map[uuid.UUID]*model.Deal),
		logger: logger,
	}
}

// NewDealsWithDurable builds the write-through backend, loading durable
// rows first and degrading to an empty table when the load fails.
func NewDealsWithDurable(ctx context.Context, durable *DurableStore, cfg config.SyncConfig, logger *zap.Logger) *Deals {
	r := &Deals{
		byID:    make(map[uuid.UUID]*model.Deal),
		durable: durable,
		queue:   newSyncQueue("deals", cfg.QueueSize, cfg.Workers, cfg.WriteTimeout, logger),
		logger:  logger,
	}
	loaded, err := durable.LoadDeals(ctx)
	if err != nil {
		logger.Warn("deals load-at-start failed, starting with empty table in degraded mode", zap.Error(err))
		return r
	}
	for _, d := range loaded {
		r.byID[d.ID] = d
	}
	logger.Info("deals loaded from durable store", zap.Int("count", len(loaded)))
	return r
}

// Backend names the active backend.
func (r *Deals) Backend() string {
	if r.durable != nil {
		return "memory_durable"
	}
	return "memory_legacy"
}

// Upsert stores the deal by id. A terminal stored deal refuses changes to
// its order references: that is a programming-level invariant violation,
// rejected here and never swallowed.
func (r *Deals) Upsert(ctx context.Context, deal *model.Deal) (*model.Deal, error) {
	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = time.Now()
	}
	if err := deal.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.byID[deal.ID]; ok && existing.IsTerminal() {
		if existing.BuyOrderID != deal.BuyOrderID || existing.SellOrderID != deal.SellOrderID {
			r.mu.Unlock()
			return nil, fmt.Errorf("deal %s is terminal (%s), order references are frozen", deal.ID, existing.Status)
		}
	}
	stored := deal.Clone()
	r.byID[stored.ID] = stored
	r.mu.Unlock()

	r.scheduleSync(stored.Clone())
	return stored.Clone(), nil
}

func (r *Deals) scheduleSync(snapshot *model.Deal) {
	if r.queue == nil {
		return
	}
	r.queue.Enqueue(func(ctx context.Context) error {
		r.resyncMu.RLock()
		defer r.resyncMu.RUnlock()
		return r.durable.UpsertDeal(ctx, snapshot)
	})
}

// Get returns a copy of the deal or ErrNotFound.
func (r *Deals) Get(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// Recover reinstates a single deal from the durable copy, cache first.
// The in-memory row wins when both exist.
func (r *Deals) Recover(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	if d, err := r.Get(ctx, id); err == nil {
		return d, nil
	}
	if r.durable == nil {
		return nil, ErrNotFound
	}
	d, err := r.durable.GetDeal(ctx, id.String())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if existing, ok := r.byID[id]; ok {
		d = existing.Clone()
	} else {
		r.byID[id] = d.Clone()
	}
	r.mu.Unlock()
	r.logger.Info("deal recovered from durable store", zap.String("deal_id", id.String()))
	return d, nil
}

// Scan returns copies of every deal matching the predicate.
func (r *Deals) Scan(ctx context.Context, pred func(*model.Deal) bool) ([]*model.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Deal
	for _, d := range r.byID {
		if pred(d) {
			result = append(result, d.Clone())
		}
	}
	return result, nil
}

// Delete removes the deal, reporting whether it existed.
func (r *Deals) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	_, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok && r.queue != nil {
		r.queue.Enqueue(func(ctx context.Context) error {
			r.resyncMu.RLock()
			defer r.resyncMu.RUnlock()
			return r.durable.DeleteDeal(ctx, id.String())
		})
	}
	return ok, nil
}

// ForceFullResync overwrites the durable deals table with the in-memory
// snapshot.
func (r *Deals) ForceFullResync(ctx context.Context) error {
	if r.durable == nil {
		return nil
	}
	r.resyncMu.Lock()
	defer r.resyncMu.Unlock()

	r.mu.RLock()
	snapshot := make([]*model.Deal, 0, len(r.byID))
	for _, d := range r.byID {
		snapshot = append(snapshot, d.Clone())
	}
	r.mu.RUnlock()

	if err := r.durable.ReplaceAllDeals(ctx, snapshot); err != nil {
		resyncTotal.WithLabelValues("deals", "failed").Inc()
		return err
	}
	resyncTotal.WithLabelValues("deals", "ok").Inc()
	r.logger.Info("deals full resync complete", zap.Int("count", len(snapshot)))
	return nil
}

// Drain waits for in-flight write-through tasks, bounded by ctx.
func (r *Deals) Drain(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}
	return r.queue.Drain(ctx)
}

// Stop shuts the sync workers down.
func (r *Deals) Stop() {
	if r.queue != nil {
		r.queue.Stop()
	}
}

// Stats reports row count and queue counters.
func (r *Deals) Stats() Stats {
	r.mu.RLock()
	count := len(r.byID)
	r.mu.RUnlock()
	s := Stats{Backend: r.Backend(), Count: count}
	if r.queue != nil {
		s.Queue = r.queue.Stats()
	}
	return s
}
