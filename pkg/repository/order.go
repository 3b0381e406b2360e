package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

type OrderRepository struct {
	db     *gorm.DB
	cache  *CacheService
	logger *zap.Logger
}

func NewOrderRepository(db *gorm.DB, cache *CacheService, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, cache: cache, logger: logger}
}

// Get loads an order with its item snapshots and shipping leg.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Shipping").
		Where("id = ?", orderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	return &order, nil
}

// decrementStock reserves stock for one line inside the caller's transaction.
// The WHERE guard keeps stock from ever going negative under concurrent
// placements.
func decrementStock(tx *gorm.DB, skuID string, quantity int64) error {
	res := tx.Model(&models.SKU{}).
		Where("id = ? AND stock >= ?", skuID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sku %s: %w", skuID, ErrNotEnoughStock)
	}
	return nil
}

// restoreStock is the compensating action: it puts back the exact quantities
// captured in the immutable item snapshots.
func restoreStock(tx *gorm.DB, items []models.OrderItem) error {
	for _, it := range items {
		res := tx.Model(&models.SKU{}).
			Where("id = ?", it.SKUID).
			UpdateColumn("stock", gorm.Expr("stock + ?", it.Quantity))
		if res.Error != nil {
			return fmt.Errorf("restore stock for sku %s: %w", it.SKUID, res.Error)
		}
	}
	return nil
}

// ReserveStock decrements stock for every item snapshot of an order, all or
// nothing.
func (r *OrderRepository) ReserveStock(ctx context.Context, items []models.OrderItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			if err := decrementStock(tx, it.SKUID, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

// invalidateOrders drops cached projections of orders after a write. Cache
// failures are logged, never propagated: redis is not durable state.
func invalidateOrders(ctx context.Context, cache *CacheService, logger *zap.Logger, orderIDs ...string) {
	if cache == nil {
		return
	}
	for _, id := range orderIDs {
		if err := cache.DelPattern(ctx, fmt.Sprintf("order:%s*", id)); err != nil {
			logger.Warn("failed to invalidate order cache",
				zap.String("order_id", id), zap.Error(err))
		}
	}
}
