package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

type DiscountRepository struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindByCodes returns only ACTIVE, in-window, non-deleted discounts for the
// given codes, scoped to platform or shop vouchers. Ineligible codes are
// simply absent from the result.
func (r *DiscountRepository) FindByCodes(ctx context.Context, codes []string, platform bool) ([]models.Discount, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	now := time.Now()
	var discounts []models.Discount
	err := r.db.WithContext(ctx).
		Where("code IN ?", codes).
		Where("status = ?", models.DiscountActive).
		Where("is_platform = ?", platform).
		Where("start_at <= ? AND end_at >= ?", now, now).
		Find(&discounts).Error
	if err != nil {
		return nil, fmt.Errorf("find discounts by codes: %w", err)
	}
	return discounts, nil
}

// UserUsage counts how many snapshots the user has against a discount.
func (r *DiscountRepository) UserUsage(ctx context.Context, userID, discountID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DiscountSnapshot{}).
		Where("user_id = ? AND discount_id = ?", userID, discountID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count discount usage: %w", err)
	}
	return count, nil
}

// CreateSnapshot records a discount application and bumps the usage counter
// in one transaction. The WHERE guard keeps total uses from ever exceeding
// MaxUses.
func (r *DiscountRepository) CreateSnapshot(ctx context.Context, snap *models.DiscountSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Discount{}).
			Where("id = ? AND (max_uses = 0 OR uses_count < max_uses)", snap.DiscountID).
			UpdateColumn("uses_count", gorm.Expr("uses_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("discount %s: %w", snap.DiscountID, ErrUsageExhausted)
		}
		if err := tx.Create(snap).Error; err != nil {
			return fmt.Errorf("create discount snapshot: %w", err)
		}
		return nil
	})
}
