// Package fulfillment is the service facade over the orchestration subsystem:
// payment outcomes in, carrier jobs and pricing quotes out. The storefront's
// CRUD layer talks to this surface only; it never reaches into the queues or
// repositories directly.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/pricing"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

const orderCacheTTL = 5 * time.Minute

type Service struct {
	orders    *repository.OrderRepository
	shipping  *repository.ShippingRepository
	discounts *repository.DiscountRepository
	pricing   *pricing.Engine
	producer  *queue.Producers
	cache     *repository.CacheService
	events    *repository.EventLog
	expiry    time.Duration
	logger    *zap.Logger
}

func NewService(
	orders *repository.OrderRepository,
	shipping *repository.ShippingRepository,
	discounts *repository.DiscountRepository,
	producer *queue.Producers,
	cache *repository.CacheService,
	events *repository.EventLog,
	cfg *config.QueueConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		orders:    orders,
		shipping:  shipping,
		discounts: discounts,
		pricing:   pricing.NewEngine(discounts),
		producer:  producer,
		cache:     cache,
		events:    events,
		expiry:    cfg.PaymentExpiry,
		logger:    logger,
	}
}

// --- Payment outcomes ---

// PaymentSucceeded hands a completed payment to the queue. The caller's
// transaction must already be committed; this enqueue is the at-least-once
// signal and the worker's guarded update provides the exactly-once effect.
func (s *Service) PaymentSucceeded(ctx context.Context, paymentID string) error {
	return s.producer.EnqueuePaymentSucceeded(ctx, paymentID)
}

func (s *Service) PaymentFailed(ctx context.Context, paymentID, reason string) error {
	return s.producer.EnqueuePaymentFailed(ctx, paymentID, reason)
}

// CancelPayment starts the compensating cancellation saga for every order
// under the payment.
func (s *Service) CancelPayment(ctx context.Context, paymentID, reason string) error {
	return s.producer.EnqueuePaymentCancel(ctx, paymentID, reason)
}

// ArmPaymentExpiry schedules the auto-cancel fired when a payment is never
// completed. Arming twice collapses onto the pending task.
func (s *Service) ArmPaymentExpiry(ctx context.Context, paymentID string) error {
	return s.producer.SchedulePaymentExpiry(ctx, paymentID, s.expiry)
}

// --- Pricing ---

// Quote computes the multi-shop checkout totals. Read-only; discount usage is
// only consumed when ApplyDiscount records the snapshot at order placement.
func (s *Service) Quote(ctx context.Context, userID string, carts []pricing.ShopCart, platformCodes []string) (*pricing.CheckoutTotal, error) {
	return s.pricing.Quote(ctx, userID, carts, platformCodes)
}

// CreateDiscountSnapshot consumes one use of a discount and freezes its terms
// into a snapshot tied to the order.
func (s *Service) CreateDiscountSnapshot(ctx context.Context, snap *models.DiscountSnapshot) error {
	return s.discounts.CreateSnapshot(ctx, snap)
}

// FindDiscountsByCodes exposes the repository's filtered lookup so the CRUD
// layer can echo voucher terms back to the client.
func (s *Service) FindDiscountsByCodes(ctx context.Context, codes []string, platform bool) ([]models.Discount, error) {
	return s.discounts.FindByCodes(ctx, codes, platform)
}

func (s *Service) UserDiscountUsage(ctx context.Context, userID, discountID string) (int64, error) {
	return s.discounts.UserUsage(ctx, userID, discountID)
}

// --- Orders and shipping ---

// GetOrder loads an order through the cache.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	key := fmt.Sprintf("order:%s", orderID)
	var cached models.Order
	if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, order, orderCacheTTL); err != nil {
		s.logger.Warn("failed to cache order", zap.String("order_id", orderID), zap.Error(err))
	}
	return order, nil
}

// ReserveStock decrements stock for an order's item snapshots, all or
// nothing, before the payment window opens.
func (s *Service) ReserveStock(ctx context.Context, items []models.OrderItem) error {
	return s.orders.ReserveStock(ctx, items)
}

// CreateOrderShipping inserts the DRAFT shipping leg with the addresses and
// parcel dimensions snapshotted at placement time.
func (s *Service) CreateOrderShipping(ctx context.Context, sh *models.OrderShipping) error {
	return s.shipping.Create(ctx, sh)
}

// CarrierOrderCode returns the GHN order code, or nil while the shipment has
// not reached CREATED.
func (s *Service) CarrierOrderCode(ctx context.Context, orderID string) (*string, error) {
	return s.shipping.OrderCode(ctx, orderID)
}

// RequestCarrierOrder re-enqueues carrier creation for an order whose
// automatic job was lost; reconciliation uses it.
func (s *Service) RequestCarrierOrder(ctx context.Context, orderID string) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	return s.producer.EnqueueShippingCreate(ctx, order)
}

// CancelCarrierOrder enqueues a compensating cancellation for a single
// order's shipment. The worker no-ops unless the shipment is CREATED.
func (s *Service) CancelCarrierOrder(ctx context.Context, orderID string) error {
	sh, err := s.shipping.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	var code string
	if sh.OrderCode != nil {
		code = *sh.OrderCode
	}
	return s.producer.EnqueueShippingCancel(ctx, orderID, code)
}

// --- Search ---

func (s *Service) SyncProduct(ctx context.Context, productID string, action queue.SearchAction) error {
	return s.producer.EnqueueSearchSync(ctx, productID, action)
}

func (s *Service) SyncProducts(ctx context.Context, productIDs []string, action queue.SearchAction) error {
	return s.producer.EnqueueSearchBatch(ctx, productIDs, action)
}

// --- Observability ---

// History returns the latest audit events recorded for an entity.
func (s *Service) History(ctx context.Context, entityID string, limit int64) ([]*repository.FulfillmentEvent, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.Recent(ctx, entityID, limit)
}
