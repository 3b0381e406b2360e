// Package queue defines the three logical job queues (payment, shipping,
// search), their task payloads, and the producers that enqueue them. Task ids
// are deterministic per (kind, entity) so duplicate enqueues collapse into the
// pending task instead of duplicating work.
package queue

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/example/fulfillment/pkg/carrier"
	"github.com/example/fulfillment/pkg/models"
)

const (
	QueuePayment  = "payment"
	QueueShipping = "shipping"
	QueueSearch   = "search"
)

// Task kinds. The worker registers a handler for every one of these and
// refuses to start otherwise.
const (
	TypePaymentSucceeded = "payment:succeeded"
	TypePaymentFailed    = "payment:failed"
	TypePaymentExpire    = "payment:expire"
	TypePaymentCancel    = "payment:cancel"

	TypeShippingCreate  = "shipping:create"
	TypeShippingCancel  = "shipping:cancel"
	TypeShippingWebhook = "shipping:webhook"

	TypeSearchSync   = "search:sync"
	TypeSearchBatch  = "search:batch"
	TypeSearchDelete = "search:delete"
)

// AllKinds is the closed set used for startup exhaustiveness checking.
var AllKinds = []string{
	TypePaymentSucceeded, TypePaymentFailed, TypePaymentExpire, TypePaymentCancel,
	TypeShippingCreate, TypeShippingCancel, TypeShippingWebhook,
	TypeSearchSync, TypeSearchBatch, TypeSearchDelete,
}

// TaskID derives the idempotent job identifier for a kind and entity.
func TaskID(kind, entityID string) string {
	return fmt.Sprintf("%s:%s", kind, entityID)
}

var (
	validate = validator.New()
	// Vietnamese phone numbers as the carrier accepts them.
	phonePattern = regexp.MustCompile(`^(\+84|84|0)[0-9]{9}$`)
)

type PaymentPayload struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Reason    string `json:"reason,omitempty"`
}

// ShippingCreatePayload carries everything the carrier call needs, snapshotted
// at enqueue time, plus the order id for local state updates.
type ShippingCreatePayload struct {
	OrderID string `json:"order_id" validate:"required"`

	ClientOrderCode string `json:"client_order_code" validate:"required"`
	FromName        string `json:"from_name" validate:"required"`
	FromPhone       string `json:"from_phone" validate:"required"`
	FromAddress     string `json:"from_address" validate:"required"`
	ToName          string `json:"to_name" validate:"required"`
	ToPhone         string `json:"to_phone" validate:"required"`
	ToAddress       string `json:"to_address" validate:"required"`

	ServiceID     int   `json:"service_id" validate:"gt=0"`
	ServiceTypeID int   `json:"service_type_id,omitempty"`
	Weight        int   `json:"weight" validate:"gt=0"`
	Length        int   `json:"length" validate:"gt=0"`
	Width         int   `json:"width" validate:"gt=0"`
	Height        int   `json:"height" validate:"gt=0"`
	CODAmount     int64 `json:"cod_amount" validate:"gte=0"`
	PaymentTypeID int   `json:"payment_type_id" validate:"oneof=1 2"`

	Items []carrier.OrderItem `json:"items" validate:"required,min=1"`
}

// Validate rejects malformed payloads before any external call. Validation
// failures are terminal: retrying cannot fix the payload.
func (p *ShippingCreatePayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid shipping payload: %w", err)
	}
	if !phonePattern.MatchString(p.FromPhone) {
		return fmt.Errorf("invalid shipping payload: from_phone %q", p.FromPhone)
	}
	if !phonePattern.MatchString(p.ToPhone) {
		return fmt.Errorf("invalid shipping payload: to_phone %q", p.ToPhone)
	}
	return nil
}

// CarrierRequest converts the payload into the GHN request shape.
func (p *ShippingCreatePayload) CarrierRequest() *carrier.CreateOrderRequest {
	return &carrier.CreateOrderRequest{
		ClientOrderCode: p.ClientOrderCode,
		FromName:        p.FromName,
		FromPhone:       p.FromPhone,
		FromAddress:     p.FromAddress,
		ToName:          p.ToName,
		ToPhone:         p.ToPhone,
		ToAddress:       p.ToAddress,
		ServiceID:       p.ServiceID,
		ServiceTypeID:   p.ServiceTypeID,
		Weight:          p.Weight,
		Length:          p.Length,
		Width:           p.Width,
		Height:          p.Height,
		CODAmount:       p.CODAmount,
		PaymentTypeID:   p.PaymentTypeID,
		Items:           p.Items,
	}
}

// NewShippingCreatePayload snapshots an order's shipping leg and item lines
// into a create-job payload. The order must have Items and Shipping loaded.
func NewShippingCreatePayload(o *models.Order) (*ShippingCreatePayload, error) {
	if o.Shipping == nil {
		return nil, fmt.Errorf("order %s has no shipping record", o.ID)
	}
	if len(o.Items) == 0 {
		return nil, fmt.Errorf("order %s has no item snapshots", o.ID)
	}
	sh := o.Shipping
	items := make([]carrier.OrderItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = carrier.OrderItem{
			Name:     it.ProductName,
			Code:     it.SKUID,
			Quantity: it.Quantity,
			Price:    it.Price,
		}
	}
	return &ShippingCreatePayload{
		OrderID:         o.ID,
		ClientOrderCode: o.ID,
		FromName:        sh.FromName,
		FromPhone:       sh.FromPhone,
		FromAddress:     sh.FromAddress,
		ToName:          sh.ToName,
		ToPhone:         sh.ToPhone,
		ToAddress:       sh.ToAddress,
		ServiceID:       sh.ServiceID,
		ServiceTypeID:   sh.ServiceTypeID,
		Weight:          sh.Weight,
		Length:          sh.Length,
		Width:           sh.Width,
		Height:          sh.Height,
		CODAmount:       sh.CODAmount,
		PaymentTypeID:   sh.PaymentTypeID,
		Items:           items,
	}, nil
}

type ShippingCancelPayload struct {
	OrderID   string `json:"orderId"`
	OrderCode string `json:"orderCode"`
}

// ShippingWebhookPayload mirrors the minimum fields of the inbound carrier
// webhook.
type ShippingWebhookPayload struct {
	OrderCode string `json:"orderCode"`
	Status    string `json:"status"`
}

type SearchAction string

const (
	SearchActionCreate SearchAction = "create"
	SearchActionUpdate SearchAction = "update"
	SearchActionDelete SearchAction = "delete"
)

type SearchSyncPayload struct {
	ProductID  string       `json:"productId,omitempty"`
	ProductIDs []string     `json:"productIds,omitempty"`
	Action     SearchAction `json:"action"`
}

func marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	return b, nil
}
