package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/halcyonex/tradecore/internal/model"
	"github.com/halcyonex/tradecore/pkg/models"
)

const cacheTTL = 10 * time.Minute

// DurableStore is the relational recovery/audit copy behind the in-memory
// tier. Every call is fallible and callers are expected to swallow errors
// into logs and counters, never into the trading path.
type DurableStore struct {
	db     *gorm.DB
	cache  *redis.Client
	logger *zap.Logger
}

// OpenDurableStore connects the configured driver and migrates the two
// entity tables. An optional redis address is probed and silently dropped
// when unavailable.
func OpenDurableStore(driver, dsn, redisAddr string, logger *zap.Logger) (*DurableStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported durable store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.Deal{}); err != nil {
		return nil, fmt.Errorf("failed to migrate durable store: %w", err)
	}

	var cache *redis.Client
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, proceeding without cache", zap.Error(err))
		} else {
			cache = rdb
			logger.Info("redis entity cache initialized")
		}
	}

	return &DurableStore{db: db, cache: cache, logger: logger}, nil
}

// NewDurableStore wraps an existing gorm handle, used by tests.
func NewDurableStore(db *gorm.DB, logger *zap.Logger) *DurableStore {
	return &DurableStore{db: db, logger: logger}
}

// UpsertOrder issues an idempotent insert-or-update keyed by order id.
func (s *DurableStore) UpsertOrder(ctx context.Context, order *model.Order) error {
	row := orderToRow(order)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ID, err)
	}
	s.cacheSet(ctx, "order:"+order.ID.String(), row)
	return nil
}

// UpsertDeal issues an idempotent insert-or-update keyed by deal id.
func (s *DurableStore) UpsertDeal(ctx context.Context, deal *model.Deal) error {
	row := dealToRow(deal)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to upsert deal %s: %w", deal.ID, err)
	}
	s.cacheSet(ctx, "deal:"+deal.ID.String(), row)
	return nil
}

// ReplaceAllOrders transactionally overwrites the orders table with the
// given snapshot. Used by full resync.
func (s *DurableStore) ReplaceAllOrders(ctx context.Context, orders []*model.Order) error {
	rows := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderToRow(o))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Order{}).Error; err != nil {
			return fmt.Errorf("failed to clear orders table: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to write orders snapshot: %w", err)
		}
		return nil
	})
}

// ReplaceAllDeals transactionally overwrites the deals table with the
// given snapshot.
func (s *DurableStore) ReplaceAllDeals(ctx context.Context, deals []*model.Deal) error {
	rows := make([]*models.Deal, 0, len(deals))
	for _, d := range deals {
		rows = append(rows, dealToRow(d))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Deal{}).Error; err != nil {
			return fmt.Errorf("failed to clear deals table: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to write deals snapshot: %w", err)
		}
		return nil
	})
}

// LoadOrders reads every order row, used at startup before traffic.
func (s *DurableStore) LoadOrders(ctx context.Context) ([]*model.Order, error) {
	var rows []models.Order
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	orders := make([]*model.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rowToOrder(&rows[i]))
	}
	return orders, nil
}

// LoadDeals reads every deal row.
func (s *DurableStore) LoadDeals(ctx context.Context) ([]*model.Deal, error) {
	var rows []models.Deal
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load deals: %w", err)
	}
	deals := make([]*model.Deal, 0, len(rows))
	for i := range rows {
		deals = append(deals, rowToDeal(&rows[i]))
	}
	return deals, nil
}

// GetOrder fetches a single order row, consulting the redis cache before
// the database and repopulating it on a miss. Backs per-entity recovery
// lookups.
func (s *DurableStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var cached models.Order
	if s.cacheGet(ctx, "order:"+id, &cached) {
		return rowToOrder(&cached), nil
	}
	var row models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", id, err)
	}
	s.cacheSet(ctx, "order:"+id, &row)
	return rowToOrder(&row), nil
}

// GetDeal fetches a single deal row, cache first.
func (s *DurableStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	var cached models.Deal
	if s.cacheGet(ctx, "deal:"+id, &cached) {
		return rowToDeal(&cached), nil
	}
	var row models.Deal
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch deal %s: %w", id, err)
	}
	s.cacheSet(ctx, "deal:"+id, &row)
	return rowToDeal(&row), nil
}

// DeleteOrder removes an order row, mirroring an administrative delete,
// and invalidates its cache entry.
func (s *DurableStore) DeleteOrder(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Order{}).Error; err != nil {
		return err
	}
	s.cacheDel(ctx, "order:"+id)
	return nil
}

// DeleteDeal removes a deal row and invalidates its cache entry.
func (s *DurableStore) DeleteDeal(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Deal{}).Error; err != nil {
		return err
	}
	s.cacheDel(ctx, "deal:"+id)
	return nil
}

func (s *DurableStore) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, cacheTTL).Err(); err != nil {
		s.logger.Debug("redis cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *DurableStore) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug("redis cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(payload, dest) == nil
}

func (s *DurableStore) cacheDel(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.Debug("redis cache del failed", zap.String("key", key), zap.Error(err))
	}
}

func orderToRow(o *model.Order) *models.Order {
	return &models.Order{
		ID:             o.ID,
		ExchangeID:     o.ExchangeID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		Status:         o.Status,
		DealID:         o.DealID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		RetryCount:     o.RetryCount,
		LastError:      o.LastError,
	}
}

func rowToOrder(r *models.Order) *model.Order {
	return &model.Order{
		ID:             r.ID,
		ExchangeID:     r.ExchangeID,
		Symbol:         r.Symbol,
		Side:           r.Side,
		Type:           r.Type,
		Price:          r.Price,
		Quantity:       r.Quantity,
		FilledQuantity: r.FilledQuantity,
		AvgFillPrice:   r.AvgFillPrice,
		Status:         r.Status,
		DealID:         r.DealID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		RetryCount:     r.RetryCount,
		LastError:      r.LastError,
	}
}

func dealToRow(d *model.Deal) *models.Deal {
	return &models.Deal{
		ID:                  d.ID,
		Symbol:              d.Symbol,
		Status:              d.Status,
		BuyOrderID:          d.BuyOrderID,
		SellOrderID:         d.SellOrderID,
		TargetProfitPercent: d.TargetProfitPercent,
		RealizedProfit:      d.RealizedProfit,
		CreatedAt:           d.CreatedAt,
		CompletedAt:         d.CompletedAt,
	}
}

func rowToDeal(r *models.Deal) *model.Deal {
	return &model.Deal{
		ID:                  r.ID,
		Symbol:              r.Symbol,
		Status:              r.Status,
		BuyOrderID:          r.BuyOrderID,
		SellOrderID:         r.SellOrderID,
		TargetProfitPercent: r.TargetProfitPercent,
		RealizedProfit:      r.RealizedProfit,
		CreatedAt:           r.CreatedAt,
		CompletedAt:         r.CompletedAt,
	}
}
