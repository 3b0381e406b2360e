package models

import (
	"time"
)

type ShippingStatus string

const (
	ShippingDraft           ShippingStatus = "DRAFT"
	ShippingEnqueued        ShippingStatus = "ENQUEUED"
	ShippingCreated         ShippingStatus = "CREATED"
	ShippingPickuped        ShippingStatus = "PICKUPED"
	ShippingPendingDelivery ShippingStatus = "PENDING_DELIVERY"
	ShippingDelivered       ShippingStatus = "DELIVERED"
	ShippingReturned        ShippingStatus = "RETURNED"
	ShippingCancelled       ShippingStatus = "CANCELLED"
	ShippingFailed          ShippingStatus = "FAILED"
	// ShippingStatusUnknown is the fallback for carrier vocabulary the mapping
	// table does not cover. It never causes a state change.
	ShippingStatusUnknown ShippingStatus = "UNKNOWN"
)

var shippingRank = map[ShippingStatus]int{
	ShippingDraft:           0,
	ShippingEnqueued:        1,
	ShippingCreated:         2,
	ShippingPickuped:        3,
	ShippingPendingDelivery: 4,
	ShippingDelivered:       5,
	ShippingReturned:        5,
}

func (s ShippingStatus) Rank() int {
	return shippingRank[s]
}

func (s ShippingStatus) Terminal() bool {
	switch s {
	case ShippingDelivered, ShippingReturned, ShippingCancelled, ShippingFailed:
		return true
	}
	return false
}

// CanTransition encodes the shipping state machine:
// DRAFT -> ENQUEUED -> CREATED -> PICKUPED -> PENDING_DELIVERY -> {DELIVERED | RETURNED | CANCELLED},
// FAILED reachable from any non-terminal state, CANCELLED only once the
// carrier knows about the shipment (CREATED or later). A CREATED-or-later
// shipment only moves forward, never backward; terminal states are frozen.
func (s ShippingStatus) CanTransition(next ShippingStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case ShippingFailed:
		return true
	case ShippingCancelled:
		return s.Rank() >= ShippingCreated.Rank()
	case ShippingStatusUnknown, ShippingDraft:
		return false
	}
	return next.Rank() > s.Rank()
}

// OrderStatus maps a carrier-driven shipping status onto the order state
// machine so both progress together once the webhook guard passes.
func (s ShippingStatus) OrderStatus() (OrderStatus, bool) {
	switch s {
	case ShippingPickuped:
		return OrderPickuped, true
	case ShippingPendingDelivery:
		return OrderPendingDelivery, true
	case ShippingDelivered:
		return OrderDelivered, true
	case ShippingReturned:
		return OrderReturned, true
	case ShippingCancelled:
		return OrderCancelled, true
	}
	return "", false
}

// OrderShipping is the 1:1 shipping leg of an order. The origin and
// destination are denormalized at creation time so later address edits do not
// corrupt an in-flight shipment. OrderCode is assigned by the carrier and is
// only ever set once the shipment reaches CREATED.
type OrderShipping struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"order_id"`

	ServiceID     int            `gorm:"not null" json:"service_id"`
	ServiceTypeID int            `json:"service_type_id"`
	Status        ShippingStatus `gorm:"type:varchar(20);default:'DRAFT';index" json:"status"`
	OrderCode     *string        `gorm:"type:varchar(64);index" json:"order_code,omitempty"`

	FromName    string `gorm:"type:varchar(255)" json:"from_name"`
	FromPhone   string `gorm:"type:varchar(20)" json:"from_phone"`
	FromAddress string `gorm:"type:varchar(512)" json:"from_address"`
	ToName      string `gorm:"type:varchar(255)" json:"to_name"`
	ToPhone     string `gorm:"type:varchar(20)" json:"to_phone"`
	ToAddress   string `gorm:"type:varchar(512)" json:"to_address"`

	Weight int `gorm:"not null" json:"weight"`
	Length int `gorm:"not null" json:"length"`
	Width  int `gorm:"not null" json:"width"`
	Height int `gorm:"not null" json:"height"`

	CODAmount     int64 `json:"cod_amount"`
	ShippingFee   int64 `json:"shipping_fee"`
	PaymentTypeID int   `gorm:"default:1" json:"payment_type_id"`

	ExpectedDeliveryAt *time.Time `json:"expected_delivery_at,omitempty"`
	Attempts           int        `gorm:"default:0" json:"attempts"`
	LastError          string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	LastUpdatedAt      time.Time  `json:"last_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OrderShipping) TableName() string {
	return "order_shippings"
}

// CarrierKnown reports whether the carrier already holds this shipment, which
// is the idempotency short-circuit for re-delivered create jobs.
func (s *OrderShipping) CarrierKnown() bool {
	if s.OrderCode != nil && *s.OrderCode != "" {
		return true
	}
	return s.Status.Rank() >= ShippingCreated.Rank()
}
