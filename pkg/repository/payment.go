package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

// PaymentRepository owns every multi-table write that touches Payment,
// Order and stock together. All of its mutations run inside a single
// transaction; the relational store is the correctness boundary, not the
// queue.
type PaymentRepository struct {
	db     *gorm.DB
	cache  *CacheService
	logger *zap.Logger
}

func NewPaymentRepository(db *gorm.DB, cache *CacheService, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, cache: cache, logger: logger}
}

// MarkSucceeded applies the terminal SUCCESS status exactly once and flips
// every linked order to PENDING_PACKAGING in the same transaction. Returns the
// affected orders with their items and shipping legs loaded so the caller can
// enqueue carrier jobs post-commit.
func (r *PaymentRepository) MarkSucceeded(ctx context.Context, paymentID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", paymentID, models.PaymentPending).
			Update("status", models.PaymentSuccess)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.finalOrMissing(tx, paymentID)
		}

		if err := tx.Model(&models.Order{}).
			Where("payment_id = ? AND status = ?", paymentID, models.OrderPendingPayment).
			Update("status", models.OrderPendingPackaging).Error; err != nil {
			return err
		}

		return tx.Preload("Items").Preload("Shipping").
			Where("payment_id = ? AND status = ?", paymentID, models.OrderPendingPackaging).
			Find(&orders).Error
	})
	if err != nil {
		return nil, err
	}
	invalidateOrders(ctx, r.cache, r.logger, orderIDs(orders)...)
	return orders, nil
}

// MarkFailed applies the terminal FAILED status and cancels only orders still
// in PENDING_PAYMENT; an order that progressed further raced with a success
// path and is left untouched. Stock reserved by the cancelled orders is
// restored from their item snapshots.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID, reason string) ([]models.Order, error) {
	var cancelled []models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", paymentID, models.PaymentPending).
			Update("status", models.PaymentFailed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.finalOrMissing(tx, paymentID)
		}

		var orders []models.Order
		if err := tx.Preload("Items").
			Where("payment_id = ?", paymentID).
			Find(&orders).Error; err != nil {
			return err
		}

		for _, o := range models.CancellableOnPaymentFailure(orders) {
			if err := cancelOrder(tx, &o, reason); err != nil {
				return err
			}
			cancelled = append(cancelled, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateOrders(ctx, r.cache, r.logger, orderIDs(cancelled)...)
	return cancelled, nil
}

// Cancel is the full compensation flow behind explicit cancellation: every
// order not yet picked up flips to CANCELLED, its stock is restored, and the
// payment flips to FAILED — one transaction. Returned orders have their
// shipping legs loaded so the caller can enqueue carrier-cancel jobs after
// commit.
func (r *PaymentRepository) Cancel(ctx context.Context, paymentID, reason string) ([]models.Order, error) {
	var cancelled []models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status <> ?", paymentID, models.PaymentFailed).
			Update("status", models.PaymentFailed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.finalOrMissing(tx, paymentID)
		}

		var orders []models.Order
		if err := tx.Preload("Items").Preload("Shipping").
			Where("payment_id = ?", paymentID).
			Find(&orders).Error; err != nil {
			return err
		}

		for _, o := range models.CancellableByUser(orders) {
			if err := cancelOrder(tx, &o, reason); err != nil {
				return err
			}
			cancelled = append(cancelled, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateOrders(ctx, r.cache, r.logger, orderIDs(cancelled)...)
	return cancelled, nil
}

// cancelOrder flips one order to CANCELLED and restores its reserved stock
// inside the caller's transaction.
func cancelOrder(tx *gorm.DB, o *models.Order, reason string) error {
	if err := tx.Model(&models.Order{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"status":         models.OrderCancelled,
			"status_message": reason,
		}).Error; err != nil {
		return fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	if err := restoreStock(tx, o.Items); err != nil {
		return err
	}
	o.Status = models.OrderCancelled
	o.StatusMessage = reason
	return nil
}

// finalOrMissing distinguishes an idempotent replay (payment already in a
// terminal status) from a genuinely unknown payment id.
func (r *PaymentRepository) finalOrMissing(tx *gorm.DB, paymentID string) error {
	var payment models.Payment
	err := tx.Where("id = ?", paymentID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("payment %s is %s: %w", paymentID, payment.Status, ErrAlreadyFinal)
}

func orderIDs(orders []models.Order) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
