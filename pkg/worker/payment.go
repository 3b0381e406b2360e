package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

// PaymentStore is the slice of the payment repository the handler needs.
type PaymentStore interface {
	MarkSucceeded(ctx context.Context, paymentID string) ([]models.Order, error)
	MarkFailed(ctx context.Context, paymentID, reason string) ([]models.Order, error)
	Cancel(ctx context.Context, paymentID, reason string) ([]models.Order, error)
}

// FulfillmentEnqueuer covers the post-commit enqueues the payment flows make.
type FulfillmentEnqueuer interface {
	EnqueueShippingCreate(ctx context.Context, order *models.Order) error
	EnqueueShippingCancel(ctx context.Context, orderID, orderCode string) error
	CancelPaymentExpiry(ctx context.Context, paymentID string) error
}

// EventRecorder is the best-effort audit sink.
type EventRecorder interface {
	RecordAsync(kind, entityID string, data bson.M)
}

// PaymentHandler consumes the payment queue. Database state is the source of
// truth: the repository decides what actually changes, and every follow-up
// enqueue happens only after the transaction committed. Follow-up failures are
// logged, never returned, because retrying the task would re-run a transaction
// that is now a guaranteed no-op.
type PaymentHandler struct {
	store    PaymentStore
	producer FulfillmentEnqueuer
	events   EventRecorder
	logger   *zap.Logger
}

func NewPaymentHandler(store PaymentStore, producer FulfillmentEnqueuer, events EventRecorder, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{store: store, producer: producer, events: events, logger: logger}
}

// HandleSucceeded finalizes a successful payment: orders move to packaging and
// one carrier-create job per order is enqueued. A replay against an already
// final payment is a logged no-op.
func (h *PaymentHandler) HandleSucceeded(ctx context.Context, t *asynq.Task) error {
	var p queue.PaymentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("payment payload: %v: %w", err, asynq.SkipRetry)
	}

	orders, err := h.store.MarkSucceeded(ctx, p.PaymentID)
	if errors.Is(err, repository.ErrAlreadyFinal) {
		h.logger.Info("payment already final, success task collapsed",
			zap.String("payment_id", p.PaymentID))
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("payment %s not found: %w", p.PaymentID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("mark payment %s succeeded: %w", p.PaymentID, err)
	}

	if err := h.producer.CancelPaymentExpiry(ctx, p.PaymentID); err != nil {
		h.logger.Warn("failed to remove scheduled expiry",
			zap.String("payment_id", p.PaymentID), zap.Error(err))
	}

	for i := range orders {
		o := &orders[i]
		if o.Shipping == nil {
			h.logger.Warn("order has no shipping leg, skipping carrier job",
				zap.String("order_id", o.ID))
			continue
		}
		if err := h.producer.EnqueueShippingCreate(ctx, o); err != nil {
			// The shipment stays DRAFT and is picked up by reconciliation.
			h.logger.Error("failed to enqueue carrier creation",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	h.record("payment.succeeded", p.PaymentID, bson.M{"orders": len(orders)})
	h.logger.Info("payment finalized",
		zap.String("payment_id", p.PaymentID),
		zap.Int("orders", len(orders)))
	return nil
}

// HandleFailed cancels the orders of a failed payment and restores their
// stock. Only orders still awaiting payment are touched.
func (h *PaymentHandler) HandleFailed(ctx context.Context, t *asynq.Task) error {
	return h.fail(ctx, t, "payment failed")
}

// HandleExpire is the scheduled auto-cancel for payments nobody completed. A
// payment that succeeded in the meantime makes this a no-op.
func (h *PaymentHandler) HandleExpire(ctx context.Context, t *asynq.Task) error {
	return h.fail(ctx, t, "payment expired")
}

func (h *PaymentHandler) fail(ctx context.Context, t *asynq.Task, fallback string) error {
	var p queue.PaymentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("payment payload: %v: %w", err, asynq.SkipRetry)
	}
	reason := p.Reason
	if reason == "" {
		reason = fallback
	}

	cancelled, err := h.store.MarkFailed(ctx, p.PaymentID, reason)
	if errors.Is(err, repository.ErrAlreadyFinal) {
		h.logger.Info("payment already final, failure task collapsed",
			zap.String("payment_id", p.PaymentID))
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("payment %s not found: %w", p.PaymentID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("mark payment %s failed: %w", p.PaymentID, err)
	}

	if err := h.producer.CancelPaymentExpiry(ctx, p.PaymentID); err != nil {
		h.logger.Warn("failed to remove scheduled expiry",
			zap.String("payment_id", p.PaymentID), zap.Error(err))
	}

	h.record("payment.failed", p.PaymentID, bson.M{"reason": reason, "cancelled": len(cancelled)})
	h.logger.Info("payment failure applied",
		zap.String("payment_id", p.PaymentID),
		zap.String("reason", reason),
		zap.Int("cancelled_orders", len(cancelled)))
	return nil
}

// HandleCancel runs the explicit cancellation saga: orders not yet picked up
// are cancelled with their stock restored, then a carrier-cancel job goes out
// for every shipment that already exists at the carrier.
func (h *PaymentHandler) HandleCancel(ctx context.Context, t *asynq.Task) error {
	var p queue.PaymentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("payment payload: %v: %w", err, asynq.SkipRetry)
	}
	reason := p.Reason
	if reason == "" {
		reason = "cancelled by user"
	}

	cancelled, err := h.store.Cancel(ctx, p.PaymentID, reason)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("payment %s not found: %w", p.PaymentID, asynq.SkipRetry)
	}
	if errors.Is(err, repository.ErrAlreadyFinal) {
		h.logger.Info("payment already cancelled, cancel task collapsed",
			zap.String("payment_id", p.PaymentID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel payment %s: %w", p.PaymentID, err)
	}

	if err := h.producer.CancelPaymentExpiry(ctx, p.PaymentID); err != nil {
		h.logger.Warn("failed to remove scheduled expiry",
			zap.String("payment_id", p.PaymentID), zap.Error(err))
	}

	for i := range cancelled {
		o := &cancelled[i]
		if o.Shipping == nil || !o.Shipping.CarrierKnown() {
			continue
		}
		var code string
		if o.Shipping.OrderCode != nil {
			code = *o.Shipping.OrderCode
		}
		if err := h.producer.EnqueueShippingCancel(ctx, o.ID, code); err != nil {
			h.logger.Error("failed to enqueue carrier cancellation",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	h.record("payment.cancelled", p.PaymentID, bson.M{"reason": reason, "cancelled": len(cancelled)})
	h.logger.Info("cancellation applied",
		zap.String("payment_id", p.PaymentID),
		zap.Int("cancelled_orders", len(cancelled)))
	return nil
}

func (h *PaymentHandler) record(kind, entityID string, data bson.M) {
	if h.events != nil {
		h.events.RecordAsync(kind, entityID, data)
	}
}
