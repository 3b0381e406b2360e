package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// Payment covers one checkout. A single payment can span multiple shop
// orders; its terminal status is applied exactly once and every linked order
// is updated in the same transaction.
type Payment struct {
	ID     string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID string        `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Amount int64         `gorm:"not null" json:"amount"`
	Status PaymentStatus `gorm:"type:varchar(20);default:'PENDING';index" json:"status"`

	Orders []Order `gorm:"foreignKey:PaymentID" json:"orders,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
