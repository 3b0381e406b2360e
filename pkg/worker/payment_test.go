package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

type fakePaymentStore struct {
	succeeded []string
	failed    []string
	cancelled []string

	orders []models.Order
	err    error
}

func (f *fakePaymentStore) MarkSucceeded(_ context.Context, paymentID string) ([]models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.succeeded = append(f.succeeded, paymentID)
	return f.orders, nil
}

func (f *fakePaymentStore) MarkFailed(_ context.Context, paymentID, _ string) ([]models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed = append(f.failed, paymentID)
	return f.orders, nil
}

func (f *fakePaymentStore) Cancel(_ context.Context, paymentID, _ string) ([]models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cancelled = append(f.cancelled, paymentID)
	return f.orders, nil
}

type fakeEnqueuer struct {
	created        []string
	cancelled      []string
	expiryRemovals []string
	err            error
}

func (f *fakeEnqueuer) EnqueueShippingCreate(_ context.Context, order *models.Order) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, order.ID)
	return nil
}

func (f *fakeEnqueuer) EnqueueShippingCancel(_ context.Context, orderID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeEnqueuer) CancelPaymentExpiry(_ context.Context, paymentID string) error {
	f.expiryRemovals = append(f.expiryRemovals, paymentID)
	return nil
}

func paymentTask(t *testing.T, kind, paymentID, reason string) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(&queue.PaymentPayload{PaymentID: paymentID, Reason: reason})
	require.NoError(t, err)
	return asynq.NewTask(kind, b)
}

func newPaymentHandler(store *fakePaymentStore, enq *fakeEnqueuer) *PaymentHandler {
	return NewPaymentHandler(store, enq, nil, zap.NewNop())
}

func TestHandleSucceededEnqueuesCarrierJobs(t *testing.T) {
	code := "GHN1"
	store := &fakePaymentStore{orders: []models.Order{
		{ID: "o1", Shipping: &models.OrderShipping{Status: models.ShippingDraft}},
		{ID: "o2", Shipping: &models.OrderShipping{Status: models.ShippingDraft, OrderCode: &code}},
		{ID: "o3"}, // no shipping leg
	}}
	enq := &fakeEnqueuer{}
	h := newPaymentHandler(store, enq)

	err := h.HandleSucceeded(context.Background(), paymentTask(t, queue.TypePaymentSucceeded, "pay-1", ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"pay-1"}, store.succeeded)
	assert.Equal(t, []string{"o1", "o2"}, enq.created)
	assert.Equal(t, []string{"pay-1"}, enq.expiryRemovals)
}

func TestHandleSucceededIdempotentReplay(t *testing.T) {
	store := &fakePaymentStore{err: repository.ErrAlreadyFinal}
	enq := &fakeEnqueuer{}
	h := newPaymentHandler(store, enq)

	err := h.HandleSucceeded(context.Background(), paymentTask(t, queue.TypePaymentSucceeded, "pay-1", ""))
	assert.NoError(t, err)
	assert.Empty(t, enq.created)
}

func TestHandleSucceededUnknownPaymentSkipsRetry(t *testing.T) {
	store := &fakePaymentStore{err: repository.ErrNotFound}
	h := newPaymentHandler(store, &fakeEnqueuer{})

	err := h.HandleSucceeded(context.Background(), paymentTask(t, queue.TypePaymentSucceeded, "ghost", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleSucceededTransientErrorRetries(t *testing.T) {
	store := &fakePaymentStore{err: errors.New("deadlock")}
	h := newPaymentHandler(store, &fakeEnqueuer{})

	err := h.HandleSucceeded(context.Background(), paymentTask(t, queue.TypePaymentSucceeded, "pay-1", ""))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleSucceededEnqueueFailureDoesNotRetry(t *testing.T) {
	// The transaction committed; a lost follow-up job must not re-run it.
	store := &fakePaymentStore{orders: []models.Order{
		{ID: "o1", Shipping: &models.OrderShipping{Status: models.ShippingDraft}},
	}}
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	h := newPaymentHandler(store, enq)

	err := h.HandleSucceeded(context.Background(), paymentTask(t, queue.TypePaymentSucceeded, "pay-1", ""))
	assert.NoError(t, err)
}

func TestHandleFailedUsesPayloadReason(t *testing.T) {
	store := &fakePaymentStore{}
	h := newPaymentHandler(store, &fakeEnqueuer{})

	err := h.HandleFailed(context.Background(), paymentTask(t, queue.TypePaymentFailed, "pay-1", "card declined"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pay-1"}, store.failed)
}

func TestHandleExpireCollapsesOnCompletedPayment(t *testing.T) {
	store := &fakePaymentStore{err: repository.ErrAlreadyFinal}
	h := newPaymentHandler(store, &fakeEnqueuer{})

	err := h.HandleExpire(context.Background(), paymentTask(t, queue.TypePaymentExpire, "pay-1", ""))
	assert.NoError(t, err)
}

func TestHandleCancelEnqueuesCarrierCancellation(t *testing.T) {
	code := "GHNX"
	store := &fakePaymentStore{orders: []models.Order{
		// Shipment already at the carrier: needs a compensating cancel.
		{ID: "o1", Shipping: &models.OrderShipping{Status: models.ShippingCreated, OrderCode: &code}},
		// Shipment never left DRAFT: nothing to undo remotely.
		{ID: "o2", Shipping: &models.OrderShipping{Status: models.ShippingDraft}},
	}}
	enq := &fakeEnqueuer{}
	h := newPaymentHandler(store, enq)

	err := h.HandleCancel(context.Background(), paymentTask(t, queue.TypePaymentCancel, "pay-1", "changed my mind"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pay-1"}, store.cancelled)
	assert.Equal(t, []string{"o1"}, enq.cancelled)
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	h := newPaymentHandler(&fakePaymentStore{}, &fakeEnqueuer{})
	task := asynq.NewTask(queue.TypePaymentSucceeded, []byte("{not json"))

	err := h.HandleSucceeded(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
