package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/models"
)

// RedisOpt builds the asynq connection options from the shared redis config.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}

// Producers wraps the asynq client plus the inspector used to drop scheduled
// auto-expire tasks once a payment completes.
type Producers struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	logger    *zap.Logger
}

func NewProducers(opt asynq.RedisClientOpt, cfg *config.QueueConfig, logger *zap.Logger) *Producers {
	return &Producers{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		maxRetry:  cfg.MaxRetry,
		logger:    logger,
	}
}

func (p *Producers) Close() error {
	return p.client.Close()
}

// enqueue collapses duplicate task ids: a second enqueue of a pending task is
// a no-op, which is what gives every job kind its idempotency.
func (p *Producers) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	_, err := p.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		p.logger.Debug("task already pending, enqueue collapsed",
			zap.String("type", task.Type()))
		return nil
	}
	return err
}

// --- Payment queue ---

func (p *Producers) EnqueuePaymentSucceeded(ctx context.Context, paymentID string) error {
	b, err := marshal(&PaymentPayload{PaymentID: paymentID})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypePaymentSucceeded, b),
		asynq.Queue(QueuePayment),
		asynq.TaskID(TaskID(TypePaymentSucceeded, paymentID)),
		asynq.MaxRetry(p.maxRetry))
}

func (p *Producers) EnqueuePaymentFailed(ctx context.Context, paymentID, reason string) error {
	b, err := marshal(&PaymentPayload{PaymentID: paymentID, Reason: reason})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypePaymentFailed, b),
		asynq.Queue(QueuePayment),
		asynq.TaskID(TaskID(TypePaymentFailed, paymentID)),
		asynq.MaxRetry(p.maxRetry))
}

func (p *Producers) EnqueuePaymentCancel(ctx context.Context, paymentID, reason string) error {
	b, err := marshal(&PaymentPayload{PaymentID: paymentID, Reason: reason})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypePaymentCancel, b),
		asynq.Queue(QueuePayment),
		asynq.TaskID(TaskID(TypePaymentCancel, paymentID)),
		asynq.MaxRetry(p.maxRetry))
}

// SchedulePaymentExpiry arms the auto-cancel for a pending payment. The task
// id is deterministic so the expiry can be removed when the payment completes.
func (p *Producers) SchedulePaymentExpiry(ctx context.Context, paymentID string, delay time.Duration) error {
	b, err := marshal(&PaymentPayload{PaymentID: paymentID, Reason: "payment expired"})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypePaymentExpire, b),
		asynq.Queue(QueuePayment),
		asynq.TaskID(TaskID(TypePaymentExpire, paymentID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(p.maxRetry))
}

// CancelPaymentExpiry removes a scheduled auto-cancel task. Missing tasks are
// fine: the expiry may already have fired or never been armed.
func (p *Producers) CancelPaymentExpiry(ctx context.Context, paymentID string) error {
	err := p.inspector.DeleteTask(QueuePayment, TaskID(TypePaymentExpire, paymentID))
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("delete scheduled expiry for payment %s: %w", paymentID, err)
	}
	return nil
}

// --- Shipping queue ---

func (p *Producers) EnqueueShippingCreate(ctx context.Context, order *models.Order) error {
	payload, err := NewShippingCreatePayload(order)
	if err != nil {
		return err
	}
	b, err := marshal(payload)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypeShippingCreate, b),
		asynq.Queue(QueueShipping),
		asynq.TaskID(TaskID(TypeShippingCreate, order.ID)),
		asynq.MaxRetry(p.maxRetry))
}

func (p *Producers) EnqueueShippingCancel(ctx context.Context, orderID, orderCode string) error {
	b, err := marshal(&ShippingCancelPayload{OrderID: orderID, OrderCode: orderCode})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypeShippingCancel, b),
		asynq.Queue(QueueShipping),
		asynq.TaskID(TaskID(TypeShippingCancel, orderID)),
		asynq.MaxRetry(p.maxRetry))
}

// EnqueueShippingWebhook hands an inbound carrier event to the shipping
// worker. Webhook events are not deduplicated by task id: the carrier may
// legitimately send several events for one order code and the state machine
// guards handle replays.
func (p *Producers) EnqueueShippingWebhook(ctx context.Context, orderCode, status string) error {
	b, err := marshal(&ShippingWebhookPayload{OrderCode: orderCode, Status: status})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypeShippingWebhook, b),
		asynq.Queue(QueueShipping),
		asynq.MaxRetry(p.maxRetry))
}

// --- Search queue ---

func (p *Producers) EnqueueSearchSync(ctx context.Context, productID string, action SearchAction) error {
	kind := TypeSearchSync
	if action == SearchActionDelete {
		kind = TypeSearchDelete
	}
	b, err := marshal(&SearchSyncPayload{ProductID: productID, Action: action})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(kind, b),
		asynq.Queue(QueueSearch),
		asynq.TaskID(TaskID(kind, productID)),
		asynq.MaxRetry(p.maxRetry))
}

func (p *Producers) EnqueueSearchBatch(ctx context.Context, productIDs []string, action SearchAction) error {
	b, err := marshal(&SearchSyncPayload{ProductIDs: productIDs, Action: action})
	if err != nil {
		return err
	}
	return p.enqueue(ctx, asynq.NewTask(TypeSearchBatch, b),
		asynq.Queue(QueueSearch),
		asynq.TaskID(TaskID(TypeSearchBatch, strings.Join(productIDs, ","))),
		asynq.MaxRetry(p.maxRetry))
}
