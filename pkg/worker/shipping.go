package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/carrier"
	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

// ShippingStore is the slice of the shipping repository the handler needs.
type ShippingStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.OrderShipping, error)
	MarkEnqueued(ctx context.Context, orderID string) error
	MarkCreated(ctx context.Context, orderID, orderCode string, expectedDelivery time.Time) error
	MarkFailed(ctx context.Context, orderID, reason string) error
	MarkCancelled(ctx context.Context, orderID string) error
	RecordAttempt(ctx context.Context, orderID, lastError string) error
	ApplyCarrierStatus(ctx context.Context, orderCode string, next models.ShippingStatus) (*repository.StatusResult, error)
}

// Carrier is the outbound GHN surface.
type Carrier interface {
	CreateOrder(ctx context.Context, req *carrier.CreateOrderRequest) (*carrier.CreatedOrder, error)
	CancelOrder(ctx context.Context, orderCode string) error
}

// Locker is the redis mutual-exclusion lock. Lock failures caused by redis
// being down are fail-open: the database state machine still rejects
// duplicate work.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

const createLockTTL = time.Minute

// ShippingHandler consumes the shipping queue: carrier order creation,
// compensating cancellation and inbound webhook application.
type ShippingHandler struct {
	store   ShippingStore
	carrier Carrier
	locks   Locker
	events  EventRecorder
	logger  *zap.Logger
}

func NewShippingHandler(store ShippingStore, c Carrier, locks Locker, events EventRecorder, logger *zap.Logger) *ShippingHandler {
	return &ShippingHandler{store: store, carrier: c, locks: locks, events: events, logger: logger}
}

// HandleCreate registers the shipment with the carrier. The flow is
// validate, lock, re-read state, call out, persist. Transient carrier
// failures go back to the queue; rejections and bad payloads fail the
// shipment terminally.
func (h *ShippingHandler) HandleCreate(ctx context.Context, t *asynq.Task) error {
	var p queue.ShippingCreatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("shipping create payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := p.Validate(); err != nil {
		if ferr := h.store.MarkFailed(ctx, p.OrderID, err.Error()); ferr != nil && !errors.Is(ferr, repository.ErrInvalidState) {
			h.logger.Error("failed to record validation failure",
				zap.String("order_id", p.OrderID), zap.Error(ferr))
		}
		return fmt.Errorf("order %s: %v: %w", p.OrderID, err, asynq.SkipRetry)
	}

	token, err := h.locks.AcquireLock(ctx, "lock:shipping:create:"+p.OrderID, createLockTTL)
	switch {
	case errors.Is(err, repository.ErrLockHeld):
		return fmt.Errorf("shipment creation for order %s already in flight", p.OrderID)
	case err != nil:
		h.logger.Warn("lock unavailable, proceeding without it",
			zap.String("order_id", p.OrderID), zap.Error(err))
	default:
		defer func() {
			if rerr := h.locks.ReleaseLock(context.Background(), "lock:shipping:create:"+p.OrderID, token); rerr != nil {
				h.logger.Warn("failed to release creation lock",
					zap.String("order_id", p.OrderID), zap.Error(rerr))
			}
		}()
	}

	sh, err := h.store.GetByOrderID(ctx, p.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("order %s has no shipping record: %w", p.OrderID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	if sh.CarrierKnown() {
		h.logger.Info("shipment already registered with carrier, task collapsed",
			zap.String("order_id", p.OrderID), zap.String("status", string(sh.Status)))
		return nil
	}
	if sh.Status.Terminal() {
		h.logger.Info("shipment already terminal, creation dropped",
			zap.String("order_id", p.OrderID), zap.String("status", string(sh.Status)))
		return nil
	}

	if sh.Status == models.ShippingDraft {
		if err := h.store.MarkEnqueued(ctx, p.OrderID); err != nil {
			if errors.Is(err, repository.ErrInvalidState) {
				// Another worker moved it first; let that worker finish.
				return nil
			}
			return err
		}
	}

	created, err := h.carrier.CreateOrder(ctx, p.CarrierRequest())
	if err != nil {
		return h.createFailed(ctx, p.OrderID, err)
	}

	if err := h.store.MarkCreated(ctx, p.OrderID, created.OrderCode, created.ExpectedDeliveryTime); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			// The carrier call is idempotent by client order code, so a
			// concurrent worker having won the race is harmless.
			h.logger.Info("shipment state changed during carrier call",
				zap.String("order_id", p.OrderID))
			return nil
		}
		return err
	}

	h.record("shipping.created", p.OrderID, bson.M{
		"order_code": created.OrderCode,
		"total_fee":  created.TotalFee,
	})
	h.logger.Info("carrier shipment created",
		zap.String("order_id", p.OrderID),
		zap.String("order_code", created.OrderCode))
	return nil
}

// createFailed routes a carrier error: transient failures are retried with
// the attempt recorded, terminal ones fail the shipment. On the final retry a
// transient failure also becomes terminal so the shipment never stays
// ENQUEUED forever.
func (h *ShippingHandler) createFailed(ctx context.Context, orderID string, cause error) error {
	if carrier.Retryable(cause) && !finalAttempt(ctx) {
		if err := h.store.RecordAttempt(ctx, orderID, cause.Error()); err != nil {
			h.logger.Warn("failed to record carrier attempt",
				zap.String("order_id", orderID), zap.Error(err))
		}
		return fmt.Errorf("carrier create for order %s: %w", orderID, cause)
	}

	if err := h.store.MarkFailed(ctx, orderID, cause.Error()); err != nil && !errors.Is(err, repository.ErrInvalidState) {
		h.logger.Error("failed to record carrier failure",
			zap.String("order_id", orderID), zap.Error(err))
	}
	h.record("shipping.failed", orderID, bson.M{"error": cause.Error()})
	return fmt.Errorf("carrier rejected shipment for order %s: %v: %w", orderID, cause, asynq.SkipRetry)
}

// HandleCancel runs the compensating cancellation. Local state flips only
// after the carrier confirms; anything but a CREATED shipment is a no-op
// because there is nothing at the carrier to undo.
func (h *ShippingHandler) HandleCancel(ctx context.Context, t *asynq.Task) error {
	var p queue.ShippingCancelPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("shipping cancel payload: %v: %w", err, asynq.SkipRetry)
	}

	sh, err := h.store.GetByOrderID(ctx, p.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("order %s has no shipping record: %w", p.OrderID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	if sh.Status == models.ShippingCancelled {
		h.logger.Info("shipment already cancelled, task collapsed",
			zap.String("order_id", p.OrderID))
		return nil
	}
	if sh.Status != models.ShippingCreated {
		h.logger.Info("shipment not CREATED, nothing to cancel at carrier",
			zap.String("order_id", p.OrderID), zap.String("status", string(sh.Status)))
		return nil
	}

	code := p.OrderCode
	if code == "" && sh.OrderCode != nil {
		code = *sh.OrderCode
	}
	if code == "" {
		return fmt.Errorf("shipment for order %s is CREATED but has no carrier code: %w", p.OrderID, asynq.SkipRetry)
	}

	if err := h.carrier.CancelOrder(ctx, code); err != nil {
		if carrier.Retryable(err) && !finalAttempt(ctx) {
			if rerr := h.store.RecordAttempt(ctx, p.OrderID, err.Error()); rerr != nil {
				h.logger.Warn("failed to record carrier attempt",
					zap.String("order_id", p.OrderID), zap.Error(rerr))
			}
			return fmt.Errorf("carrier cancel for order %s: %w", p.OrderID, err)
		}
		if ferr := h.store.MarkFailed(ctx, p.OrderID, "carrier cancel failed: "+err.Error()); ferr != nil && !errors.Is(ferr, repository.ErrInvalidState) {
			h.logger.Error("failed to record cancel failure",
				zap.String("order_id", p.OrderID), zap.Error(ferr))
		}
		return fmt.Errorf("carrier refused cancellation for order %s: %v: %w", p.OrderID, err, asynq.SkipRetry)
	}

	if err := h.store.MarkCancelled(ctx, p.OrderID); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			h.logger.Info("shipment state changed during carrier cancel",
				zap.String("order_id", p.OrderID))
			return nil
		}
		return err
	}

	h.record("shipping.cancelled", p.OrderID, bson.M{"order_code": code})
	h.logger.Info("carrier shipment cancelled",
		zap.String("order_id", p.OrderID),
		zap.String("order_code", code))
	return nil
}

// HandleWebhook maps a carrier status event onto the shipment state machine.
// Unknown carrier statuses and rejected transitions keep the current state; a
// missing order code skips retries because replaying cannot make it appear.
func (h *ShippingHandler) HandleWebhook(ctx context.Context, t *asynq.Task) error {
	var p queue.ShippingWebhookPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("shipping webhook payload: %v: %w", err, asynq.SkipRetry)
	}

	next, ok := carrier.MapStatus(p.Status)
	if !ok {
		h.logger.Warn("unknown carrier status, keeping current state",
			zap.String("order_code", p.OrderCode),
			zap.String("carrier_status", p.Status))
		return nil
	}

	res, err := h.store.ApplyCarrierStatus(ctx, p.OrderCode, next)
	if errors.Is(err, repository.ErrNotFound) {
		h.logger.Warn("webhook for unknown carrier code dropped",
			zap.String("order_code", p.OrderCode))
		return fmt.Errorf("carrier code %s: %w", p.OrderCode, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("apply carrier status %s to %s: %w", next, p.OrderCode, err)
	}

	if !res.Applied {
		h.logger.Info("carrier webhook ignored",
			zap.String("order_code", p.OrderCode),
			zap.String("carrier_status", p.Status),
			zap.String("reason", res.Message))
		return nil
	}

	h.record("shipping.webhook", p.OrderCode, bson.M{
		"carrier_status": p.Status,
		"status":         string(next),
	})
	h.logger.Info("carrier status applied",
		zap.String("order_code", p.OrderCode),
		zap.String("status", string(next)))
	return nil
}

func (h *ShippingHandler) record(kind, entityID string, data bson.M) {
	if h.events != nil {
		h.events.RecordAsync(kind, entityID, data)
	}
}

// finalAttempt reports whether the running delivery is the task's last one.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= max
}
