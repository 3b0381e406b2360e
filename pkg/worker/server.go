// Package worker runs the queue consumers. The shipping queue gets its own
// server with a bounded worker pool so the carrier API's rate limits are
// respected; payment and search share a default pool. Exhausted tasks land in
// asynq's archive for manual inspection, never silently dropped.
package worker

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/queue"
)

// ShippingKinds and GeneralKinds partition the task kinds across the two
// servers.
var (
	ShippingKinds = []string{
		queue.TypeShippingCreate,
		queue.TypeShippingCancel,
		queue.TypeShippingWebhook,
	}
	GeneralKinds = []string{
		queue.TypePaymentSucceeded,
		queue.TypePaymentFailed,
		queue.TypePaymentExpire,
		queue.TypePaymentCancel,
		queue.TypeSearchSync,
		queue.TypeSearchBatch,
		queue.TypeSearchDelete,
	}
)

// Registry maps every task kind to its handler. NewMux refuses to serve if a
// kind is missing, so a forgotten registration fails at startup, not at
// dequeue time.
func Registry(payment *PaymentHandler, shipping *ShippingHandler, search *SearchHandler) map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		queue.TypePaymentSucceeded: payment.HandleSucceeded,
		queue.TypePaymentFailed:    payment.HandleFailed,
		queue.TypePaymentExpire:    payment.HandleExpire,
		queue.TypePaymentCancel:    payment.HandleCancel,

		queue.TypeShippingCreate:  shipping.HandleCreate,
		queue.TypeShippingCancel:  shipping.HandleCancel,
		queue.TypeShippingWebhook: shipping.HandleWebhook,

		queue.TypeSearchSync:   search.HandleSync,
		queue.TypeSearchBatch:  search.HandleBatch,
		queue.TypeSearchDelete: search.HandleDelete,
	}
}

func NewMux(registry map[string]asynq.HandlerFunc, kinds []string) (*asynq.ServeMux, error) {
	mux := asynq.NewServeMux()
	for _, kind := range kinds {
		h, ok := registry[kind]
		if !ok {
			return nil, fmt.Errorf("no handler registered for task kind %q", kind)
		}
		mux.HandleFunc(kind, h)
	}
	return mux, nil
}

// retryDelay doubles the base delay per attempt, capped at ten minutes.
func retryDelay(base time.Duration) func(n int, err error, task *asynq.Task) time.Duration {
	const maxDelay = 10 * time.Minute
	return func(n int, err error, task *asynq.Task) time.Duration {
		delay := base << uint(n)
		if delay > maxDelay || delay <= 0 {
			delay = maxDelay
		}
		return delay
	}
}

func NewShippingServer(opt asynq.RedisClientOpt, cfg *config.QueueConfig, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.ShippingConcurrency,
		Queues:         map[string]int{queue.QueueShipping: 1},
		RetryDelayFunc: retryDelay(cfg.RetryBase),
		Logger:         &zapAdapter{logger.Named("asynq-shipping").Sugar()},
	})
}

func NewGeneralServer(opt asynq.RedisClientOpt, cfg *config.QueueConfig, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			queue.QueuePayment: 2,
			queue.QueueSearch:  1,
		},
		RetryDelayFunc: retryDelay(cfg.RetryBase),
		Logger:         &zapAdapter{logger.Named("asynq").Sugar()},
	})
}

type zapAdapter struct {
	sugar *zap.SugaredLogger
}

func (z *zapAdapter) Debug(args ...interface{}) { z.sugar.Debug(args...) }
func (z *zapAdapter) Info(args ...interface{})  { z.sugar.Info(args...) }
func (z *zapAdapter) Warn(args ...interface{})  { z.sugar.Warn(args...) }
func (z *zapAdapter) Error(args ...interface{}) { z.sugar.Error(args...) }
func (z *zapAdapter) Fatal(args ...interface{}) { z.sugar.Fatal(args...) }
