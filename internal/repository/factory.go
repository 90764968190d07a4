package repository

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
	"github.com/halcyonex/tradecore/internal/stream"
)

// Kind names one repository held by the factory.
type Kind string

const (
	KindOrders     Kind = "orders"
	KindDeals      Kind = "deals"
	KindTicks      Kind = "ticks"
	KindBookTops   Kind = "booktops"
	KindIndicators Kind = "indicators"
)

// Factory constructs and caches one repository per kind. Business kinds
// pick their backend from configuration and fall back to pure memory when
// the durable store cannot be reached; a durable outage degrades
// persistence for that kind only, never trading availability. The factory
// is owned by the application context, not a package global.
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger

	mu      sync.Mutex
	durable *DurableStore
	durErr  error
	durOnce bool

	orders  *Orders
	deals   *Deals
	streams map[Kind]*stream.Store
}

// NewFactory builds an empty factory; repositories are constructed lazily
// on first request.
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[Kind]*stream.Store),
	}
}

// durableStore opens the shared durable connection once; later callers
// see the cached handle or the cached failure.
func (f *Factory) durableStore() (*DurableStore, error) {
	if !f.durOnce {
		f.durOnce = true
		f.durable, f.durErr = OpenDurableStore(
			f.cfg.Database.Driver, f.cfg.Database.DSN, f.cfg.Redis.Addr, f.logger)
	}
	return f.durable, f.durErr
}

// Orders returns the cached orders repository, constructing it on first
// call.
func (f *Factory) Orders(ctx context.Context) *Orders {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orders != nil {
		return f.orders
	}
	if f.cfg.Repos.OrdersBackend == config.BackendMemoryDurable {
		durable, err := f.durableStore()
		if err == nil {
			f.orders = NewOrdersWithDurable(ctx, durable, f.cfg.Sync, f.logger)
			return f.orders
		}
		fallbackTotal.WithLabelValues(string(KindOrders)).Inc()
		f.logger.Error("durable backend unavailable for orders, falling back to pure memory", zap.Error(err))
	}
	f.orders = NewOrders(f.logger)
	return f.orders
}

// Deals returns the cached deals repository, constructing it on first
// call.
func (f *Factory) Deals(ctx context.Context) *Deals {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deals != nil {
		return f.deals
	}
	if f.cfg.Repos.DealsBackend == config.BackendMemoryDurable {
		durable, err := f.durableStore()
		if err == nil {
			f.deals = NewDealsWithDurable(ctx, durable, f.cfg.Sync, f.logger)
			return f.deals
		}
		fallbackTotal.WithLabelValues(string(KindDeals)).Inc()
		f.logger.Error("durable backend unavailable for deals, falling back to pure memory", zap.Error(err))
	}
	f.deals = NewDeals(f.logger)
	return f.deals
}

// Stream returns the cached streaming store for the kind.
func (f *Factory) Stream(kind Kind) *stream.Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[kind]; ok {
		return s
	}
	var schema model.Schema
	switch kind {
	case KindTicks:
		schema = model.TickSchema
	case KindBookTops:
		schema = model.BookTopSchema
	case KindIndicators:
		schema = model.IndicatorSchema
	default:
		schema = model.Schema{Kind: string(kind), Fields: []string{"value"}}
	}
	s := stream.NewStore(schema, f.cfg.Stream.Kinds[string(kind)], f.cfg.Stream.DumpDir, f.logger)
	f.streams[kind] = s
	return s
}

// ForceSyncAll resyncs every cached write-through repository, collecting
// per-kind outcomes instead of failing fast.
func (f *Factory) ForceSyncAll(ctx context.Context) map[Kind]error {
	f.mu.Lock()
	orders, deals := f.orders, f.deals
	f.mu.Unlock()

	results := make(map[Kind]error)
	if orders != nil {
		results[KindOrders] = orders.ForceFullResync(ctx)
	}
	if deals != nil {
		results[KindDeals] = deals.ForceFullResync(ctx)
	}
	return results
}

// ForceDumpAll dumps every cached streaming store, collecting per-kind
// outcomes.
func (f *Factory) ForceDumpAll() map[Kind]error {
	f.mu.Lock()
	stores := make(map[Kind]*stream.Store, len(f.streams))
	for k, s := range f.streams {
		stores[k] = s
	}
	f.mu.Unlock()

	results := make(map[Kind]error)
	for k, s := range stores {
		_, err := s.ForceDump()
		results[k] = err
	}
	return results
}

// DrainAll awaits in-flight write-through tasks on every cached business
// repository, bounded by ctx.
func (f *Factory) DrainAll(ctx context.Context) map[Kind]error {
	f.mu.Lock()
	orders, deals := f.orders, f.deals
	f.mu.Unlock()

	results := make(map[Kind]error)
	if orders != nil {
		results[KindOrders] = orders.Drain(ctx)
	}
	if deals != nil {
		results[KindDeals] = deals.Drain(ctx)
	}
	return results
}

// CloseStreams stops ingestion into every cached streaming store.
func (f *Factory) CloseStreams() {
	f.mu.Lock()
	stores := make([]*stream.Store, 0, len(f.streams))
	for _, s := range f.streams {
		stores = append(stores, s)
	}
	f.mu.Unlock()
	for _, s := range stores {
		s.Close()
	}
}

// Stop shuts down the sync workers of every cached business repository.
func (f *Factory) Stop() {
	f.mu.Lock()
	orders, deals := f.orders, f.deals
	f.mu.Unlock()
	if orders != nil {
		orders.Stop()
	}
	if deals != nil {
		deals.Stop()
	}
}

// StatsAll reports per-kind repository statistics for shutdown logging.
func (f *Factory) StatsAll() map[Kind]Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Kind]Stats)
	if f.orders != nil {
		out[KindOrders] = f.orders.Stats()
	}
	if f.deals != nil {
		out[KindDeals] = f.deals.Stats()
	}
	for k, s := range f.streams {
		u := s.MemoryUsage()
		out[k] = Stats{Backend: "stream", Count: u.RecordCount}
	}
	return out
}
