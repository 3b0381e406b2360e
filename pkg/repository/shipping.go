package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

// StatusResult reports the outcome of a carrier-driven update. Rejected
// updates are no-ops with an explanatory message, never silent and never
// retried: retrying would not change the precondition.
type StatusResult struct {
	Applied bool
	Message string
}

// ShippingRepository owns the OrderShipping state machine. Every transition
// is validated against models.ShippingStatus.CanTransition and written
// atomically with whatever order-side update it implies.
type ShippingRepository struct {
	db     *gorm.DB
	cache  *CacheService
	logger *zap.Logger
}

func NewShippingRepository(db *gorm.DB, cache *CacheService, logger *zap.Logger) *ShippingRepository {
	return &ShippingRepository{db: db, cache: cache, logger: logger}
}

// Create inserts the DRAFT shipping leg for an order. The origin and
// destination are snapshotted here; later address edits never touch an
// in-flight shipment.
func (r *ShippingRepository) Create(ctx context.Context, sh *models.OrderShipping) error {
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	sh.Status = models.ShippingDraft
	sh.LastUpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(sh).Error; err != nil {
		return fmt.Errorf("create shipping for order %s: %w", sh.OrderID, err)
	}
	return nil
}

// GetByOrderID loads the shipping leg of an order.
func (r *ShippingRepository) GetByOrderID(ctx context.Context, orderID string) (*models.OrderShipping, error) {
	var sh models.OrderShipping
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&sh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load shipping for order %s: %w", orderID, err)
	}
	return &sh, nil
}

// OrderCode returns the carrier order code, or nil unless the shipment has
// reached CREATED.
func (r *ShippingRepository) OrderCode(ctx context.Context, orderID string) (*string, error) {
	sh, err := r.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if sh.Status != models.ShippingCreated || sh.OrderCode == nil {
		return nil, nil
	}
	return sh.OrderCode, nil
}

// MarkEnqueued flips DRAFT to ENQUEUED before the carrier call so duplicate
// workers can detect in-flight work.
func (r *ShippingRepository) MarkEnqueued(ctx context.Context, orderID string) error {
	res := r.db.WithContext(ctx).Model(&models.OrderShipping{}).
		Where("order_id = ? AND status = ?", orderID, models.ShippingDraft).
		Updates(map[string]interface{}{
			"status":          models.ShippingEnqueued,
			"last_updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shipment for order %s is not DRAFT: %w", orderID, ErrInvalidState)
	}
	return nil
}

// MarkCreated persists the carrier order code and delivery estimate atomically
// with the ENQUEUED -> CREATED flip. The order code is set here and nowhere
// else.
func (r *ShippingRepository) MarkCreated(ctx context.Context, orderID, orderCode string, expectedDelivery time.Time) error {
	updates := map[string]interface{}{
		"status":          models.ShippingCreated,
		"order_code":      orderCode,
		"last_error":      "",
		"last_updated_at": time.Now(),
	}
	if !expectedDelivery.IsZero() {
		updates["expected_delivery_at"] = expectedDelivery
	}
	res := r.db.WithContext(ctx).Model(&models.OrderShipping{}).
		Where("order_id = ? AND status = ?", orderID, models.ShippingEnqueued).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shipment for order %s is not ENQUEUED: %w", orderID, ErrInvalidState)
	}
	invalidateOrders(ctx, r.cache, r.logger, orderID)
	return nil
}

// MarkFailed records an unrecoverable error: FAILED terminal state, the error
// message and an incremented attempts counter for diagnostics.
func (r *ShippingRepository) MarkFailed(ctx context.Context, orderID, reason string) error {
	res := r.db.WithContext(ctx).Model(&models.OrderShipping{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []models.ShippingStatus{
			models.ShippingDelivered, models.ShippingReturned,
			models.ShippingCancelled, models.ShippingFailed,
		}).
		Updates(map[string]interface{}{
			"status":          models.ShippingFailed,
			"last_error":      reason,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shipment for order %s already terminal: %w", orderID, ErrInvalidState)
	}
	invalidateOrders(ctx, r.cache, r.logger, orderID)
	return nil
}

// RecordAttempt bumps the attempts counter and last error without changing
// state; used when a transient carrier failure is handed back to the queue
// for retry.
func (r *ShippingRepository) RecordAttempt(ctx context.Context, orderID, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OrderShipping{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"last_error":      lastError,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_updated_at": time.Now(),
		}).Error
}

// MarkCancelled flips CREATED to CANCELLED. Callers must have the carrier's
// confirmation first; only a CREATED shipment can be cancelled.
func (r *ShippingRepository) MarkCancelled(ctx context.Context, orderID string) error {
	res := r.db.WithContext(ctx).Model(&models.OrderShipping{}).
		Where("order_id = ? AND status = ?", orderID, models.ShippingCreated).
		Updates(map[string]interface{}{
			"status":          models.ShippingCancelled,
			"last_updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shipment for order %s is not CREATED: %w", orderID, ErrInvalidState)
	}
	invalidateOrders(ctx, r.cache, r.logger, orderID)
	return nil
}

// ApplyCarrierStatus applies a webhook-driven status to the shipment and, when
// the transition maps onto the order state machine, to the parent order in the
// same transaction. The guard: webhooks are only honored once the parent order
// has reached PICKUPED, so a stale or duplicate webhook can never retroactively
// mutate an order still awaiting payment or packaging.
func (r *ShippingRepository) ApplyCarrierStatus(ctx context.Context, orderCode string, next models.ShippingStatus) (*StatusResult, error) {
	result := &StatusResult{}
	var affectedOrderID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sh models.OrderShipping
		err := tx.Where("order_code = ?", orderCode).First(&sh).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no shipment with carrier code %s: %w", orderCode, ErrNotFound)
		}
		if err != nil {
			return err
		}

		var order models.Order
		if err := tx.Where("id = ?", sh.OrderID).First(&order).Error; err != nil {
			return fmt.Errorf("load order %s: %w", sh.OrderID, err)
		}

		if !models.WebhookAllowed(order.Status) {
			result.Message = fmt.Sprintf("order %s is %s, not yet picked up; webhook ignored", order.ID, order.Status)
			return nil
		}
		if sh.Status == next {
			result.Message = fmt.Sprintf("shipment already %s", next)
			return nil
		}
		if !sh.Status.CanTransition(next) {
			result.Message = fmt.Sprintf("shipment is %s, cannot move to %s", sh.Status, next)
			return nil
		}

		if err := tx.Model(&models.OrderShipping{}).
			Where("id = ?", sh.ID).
			Updates(map[string]interface{}{
				"status":          next,
				"last_updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}

		if orderStatus, ok := next.OrderStatus(); ok && order.Status.CanAdvance(orderStatus) {
			if err := tx.Model(&models.Order{}).
				Where("id = ?", order.ID).
				Update("status", orderStatus).Error; err != nil {
				return err
			}
		}

		result.Applied = true
		result.Message = fmt.Sprintf("shipment moved to %s", next)
		affectedOrderID = order.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Invalidate only after commit, or a concurrent read could repopulate the
	// cache with pre-commit state.
	if result.Applied {
		invalidateOrders(ctx, r.cache, r.logger, affectedOrderID)
	}
	return result, nil
}
