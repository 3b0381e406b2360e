package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

type DiscountApplyType string

const (
	DiscountApplyAll      DiscountApplyType = "ALL"
	DiscountApplySpecific DiscountApplyType = "SPECIFIC"
)

type DiscountStatus string

const (
	DiscountActive   DiscountStatus = "ACTIVE"
	DiscountInactive DiscountStatus = "INACTIVE"
)

type Discount struct {
	ID     string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code   string         `gorm:"type:varchar(64);uniqueIndex" json:"code"`
	ShopID *string        `gorm:"type:varchar(36);index" json:"shop_id,omitempty"`
	Status DiscountStatus `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"`

	Type             DiscountType `gorm:"type:varchar(20);not null" json:"type"`
	Value            int64        `gorm:"not null" json:"value"`
	MaxDiscountValue int64        `json:"max_discount_value"`
	MinOrderValue    int64        `json:"min_order_value"`

	MaxUses        int64 `json:"max_uses"`
	MaxUsesPerUser int64 `json:"max_uses_per_user"`
	UsesCount      int64 `gorm:"default:0" json:"uses_count"`

	// IsPlatform marks platform-scoped vouchers evaluated once over the whole
	// checkout rather than per shop.
	IsPlatform bool              `gorm:"default:false;index" json:"is_platform"`
	ApplyType  DiscountApplyType `gorm:"type:varchar(20);default:'ALL'" json:"apply_type"`
	// AppliesTo is a JSON-encoded Eligibility; only read when ApplyType is SPECIFIC.
	AppliesTo string `gorm:"type:text" json:"-"`

	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Discount) TableName() string {
	return "discounts"
}

type Eligibility struct {
	ProductIDs  []string `json:"product_ids,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	BrandIDs    []string `json:"brand_ids,omitempty"`
}

func (d *Discount) Eligibility() (Eligibility, error) {
	var e Eligibility
	if d.AppliesTo == "" {
		return e, nil
	}
	err := json.Unmarshal([]byte(d.AppliesTo), &e)
	return e, err
}

// AmountFor computes the discount granted against a base amount. Percentage
// discounts are capped by MaxDiscountValue; fixed discounts never exceed the
// base. Pure function of (discount, base).
func (d *Discount) AmountFor(base int64) int64 {
	if base <= 0 || d.Value <= 0 {
		return 0
	}
	switch d.Type {
	case DiscountPercentage:
		amount := base * d.Value / 100
		if d.MaxDiscountValue > 0 && amount > d.MaxDiscountValue {
			amount = d.MaxDiscountValue
		}
		if amount > base {
			amount = base
		}
		return amount
	case DiscountFixed:
		if d.Value > base {
			return base
		}
		return d.Value
	}
	return 0
}

// DiscountSnapshot is the immutable record of a discount applied to an order.
type DiscountSnapshot struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DiscountID string `gorm:"type:varchar(36);not null;index" json:"discount_id"`
	OrderID    string `gorm:"type:varchar(36);not null;index" json:"order_id"`
	UserID     string `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Code       string `gorm:"type:varchar(64)" json:"code"`
	Amount     int64  `gorm:"not null" json:"amount"`

	CreatedAt time.Time `json:"created_at"`
}

func (DiscountSnapshot) TableName() string {
	return "discount_snapshots"
}
