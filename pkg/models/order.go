package models

import (
	"time"

	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPendingPayment   OrderStatus = "PENDING_PAYMENT"
	OrderPendingPackaging OrderStatus = "PENDING_PACKAGING"
	OrderPickuped         OrderStatus = "PICKUPED"
	OrderPendingDelivery  OrderStatus = "PENDING_DELIVERY"
	OrderDelivered        OrderStatus = "DELIVERED"
	OrderReturned         OrderStatus = "RETURNED"
	OrderCancelled        OrderStatus = "CANCELLED"
	OrderFailed           OrderStatus = "FAILED"
)

var orderRank = map[OrderStatus]int{
	OrderPendingPayment:   1,
	OrderPendingPackaging: 2,
	OrderPickuped:         3,
	OrderPendingDelivery:  4,
	OrderDelivered:        5,
	OrderReturned:         5,
}

// Rank orders the forward progression of an order. Terminal failure states
// have no rank and never progress.
func (s OrderStatus) Rank() int {
	return orderRank[s]
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderDelivered, OrderReturned, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// CanAdvance reports whether an order may move from s to next. Transitions
// are monotonic: an order never moves backward, and terminal states are
// frozen except for CANCELLED/FAILED reachable from any live state.
func (s OrderStatus) CanAdvance(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrderCancelled || next == OrderFailed {
		return true
	}
	return next.Rank() > s.Rank()
}

// WebhookAllowed is the guard for carrier-driven order updates: webhooks are
// honored only once the order has physically left the shop. An order still
// awaiting payment or packaging is never mutated by a carrier event.
func WebhookAllowed(s OrderStatus) bool {
	return !s.Terminal() && s.Rank() >= OrderPickuped.Rank()
}

type Order struct {
	ID              string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ShopID          string      `gorm:"type:varchar(36);not null;index" json:"shop_id"`
	UserID          string      `gorm:"type:varchar(36);not null;index" json:"user_id"`
	PaymentID       string      `gorm:"type:varchar(36);index" json:"payment_id"`
	Status          OrderStatus `gorm:"type:varchar(20);default:'PENDING_PAYMENT';index" json:"status"`
	ItemCost        int64       `gorm:"not null" json:"item_cost"`
	ShippingFee     int64       `gorm:"not null" json:"shipping_fee"`
	VoucherDiscount int64       `gorm:"not null" json:"voucher_discount"`
	TotalPayment    int64       `gorm:"not null" json:"total_payment"`
	StatusMessage   string      `gorm:"type:varchar(255)" json:"status_message,omitempty"`

	Items    []OrderItem    `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Shipping *OrderShipping `gorm:"foreignKey:OrderID" json:"shipping,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is the immutable snapshot of a line at order time. Price and
// quantity are captured here so pricing history stays reproducible and stock
// compensation restores the exact reserved amounts.
type OrderItem struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID     string `gorm:"type:varchar(36);not null;index" json:"order_id"`
	SKUID       string `gorm:"type:varchar(36);not null;index" json:"sku_id"`
	ProductID   string `gorm:"type:varchar(36);not null" json:"product_id"`
	ProductName string `gorm:"type:varchar(255)" json:"product_name"`
	Price       int64  `gorm:"not null" json:"price"`
	Quantity    int64  `gorm:"not null" json:"quantity"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// CancellableOnPaymentFailure selects the orders a failed or expired payment
// may cancel: only orders still awaiting the payment itself. An order that
// progressed further raced with a success path and is left untouched.
func CancellableOnPaymentFailure(orders []Order) []Order {
	var out []Order
	for _, o := range orders {
		if o.Status == OrderPendingPayment {
			out = append(out, o)
		}
	}
	return out
}

// CancellableByUser selects orders an explicit cancellation may still stop:
// anything not yet picked up by the carrier and not already terminal.
func CancellableByUser(orders []Order) []Order {
	var out []Order
	for _, o := range orders {
		if !o.Status.Terminal() && o.Status.Rank() < OrderPickuped.Rank() {
			out = append(out, o)
		}
	}
	return out
}
