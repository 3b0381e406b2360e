package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/carrier"
	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

type fakeShippingStore struct {
	shipment *models.OrderShipping

	enqueued  []string
	created   map[string]string
	failed    map[string]string
	cancelled []string
	attempts  int

	applied    []models.ShippingStatus
	statusResp *repository.StatusResult
	statusErr  error
}

func newFakeShippingStore(sh *models.OrderShipping) *fakeShippingStore {
	return &fakeShippingStore{
		shipment: sh,
		created:  map[string]string{},
		failed:   map[string]string{},
	}
}

func (f *fakeShippingStore) GetByOrderID(_ context.Context, orderID string) (*models.OrderShipping, error) {
	if f.shipment == nil {
		return nil, repository.ErrNotFound
	}
	return f.shipment, nil
}

func (f *fakeShippingStore) MarkEnqueued(_ context.Context, orderID string) error {
	if f.shipment.Status != models.ShippingDraft {
		return repository.ErrInvalidState
	}
	f.enqueued = append(f.enqueued, orderID)
	f.shipment.Status = models.ShippingEnqueued
	return nil
}

func (f *fakeShippingStore) MarkCreated(_ context.Context, orderID, orderCode string, _ time.Time) error {
	if f.shipment.Status != models.ShippingEnqueued {
		return repository.ErrInvalidState
	}
	f.created[orderID] = orderCode
	f.shipment.Status = models.ShippingCreated
	f.shipment.OrderCode = &orderCode
	return nil
}

func (f *fakeShippingStore) MarkFailed(_ context.Context, orderID, reason string) error {
	f.failed[orderID] = reason
	f.shipment.Status = models.ShippingFailed
	return nil
}

func (f *fakeShippingStore) MarkCancelled(_ context.Context, orderID string) error {
	if f.shipment.Status != models.ShippingCreated {
		return repository.ErrInvalidState
	}
	f.cancelled = append(f.cancelled, orderID)
	f.shipment.Status = models.ShippingCancelled
	return nil
}

func (f *fakeShippingStore) RecordAttempt(_ context.Context, _, _ string) error {
	f.attempts++
	return nil
}

func (f *fakeShippingStore) ApplyCarrierStatus(_ context.Context, _ string, next models.ShippingStatus) (*repository.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.applied = append(f.applied, next)
	if f.statusResp != nil {
		return f.statusResp, nil
	}
	return &repository.StatusResult{Applied: true}, nil
}

type fakeCarrier struct {
	created   *carrier.CreatedOrder
	createErr error
	cancelErr error
	calls     int
	cancels   []string
}

func (f *fakeCarrier) CreateOrder(_ context.Context, _ *carrier.CreateOrderRequest) (*carrier.CreatedOrder, error) {
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeCarrier) CancelOrder(_ context.Context, orderCode string) error {
	f.cancels = append(f.cancels, orderCode)
	return f.cancelErr
}

type fakeLocker struct {
	held bool
	down bool
}

func (f *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (string, error) {
	if f.down {
		return "", errors.New("redis unavailable")
	}
	if f.held {
		return "", repository.ErrLockHeld
	}
	return "token", nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, _, _ string) error { return nil }

func createTask(t *testing.T) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(&queue.ShippingCreatePayload{
		OrderID:         "o1",
		ClientOrderCode: "o1",
		FromName:        "Shop", FromPhone: "0901234567", FromAddress: "72 Le Thanh Ton",
		ToName: "B", ToPhone: "0912345678", ToAddress: "12 Hang Bac",
		ServiceID: 53320, Weight: 500, Length: 20, Width: 15, Height: 10,
		PaymentTypeID: 1,
		Items:         []carrier.OrderItem{{Name: "Shirt", Quantity: 1, Price: 1000}},
	})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeShippingCreate, b)
}

func newShippingHandler(store ShippingStore, c Carrier, l Locker) *ShippingHandler {
	return NewShippingHandler(store, c, l, nil, zap.NewNop())
}

func TestHandleCreateHappyPath(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	ghn := &fakeCarrier{created: &carrier.CreatedOrder{OrderCode: "GHN1"}}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCreate(context.Background(), createTask(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, store.enqueued)
	assert.Equal(t, "GHN1", store.created["o1"])
	assert.Equal(t, models.ShippingCreated, store.shipment.Status)
}

func TestHandleCreateAlreadyAtCarrier(t *testing.T) {
	code := "GHN1"
	store := newFakeShippingStore(&models.OrderShipping{
		OrderID: "o1", Status: models.ShippingCreated, OrderCode: &code,
	})
	ghn := &fakeCarrier{}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCreate(context.Background(), createTask(t))
	assert.NoError(t, err)
	assert.Zero(t, ghn.calls, "replays must never call the carrier twice")
}

func TestHandleCreateInvalidPayloadFailsShipment(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	h := newShippingHandler(store, &fakeCarrier{}, &fakeLocker{})

	b, err := json.Marshal(&queue.ShippingCreatePayload{OrderID: "o1"})
	require.NoError(t, err)

	err = h.HandleCreate(context.Background(), asynq.NewTask(queue.TypeShippingCreate, b))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.NotEmpty(t, store.failed["o1"])
}

func TestHandleCreateLockHeldRetriesLater(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	ghn := &fakeCarrier{}
	h := newShippingHandler(store, ghn, &fakeLocker{held: true})

	err := h.HandleCreate(context.Background(), createTask(t))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Zero(t, ghn.calls)
}

func TestHandleCreateLockFailOpenWhenRedisDown(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	ghn := &fakeCarrier{created: &carrier.CreatedOrder{OrderCode: "GHN1"}}
	h := newShippingHandler(store, ghn, &fakeLocker{down: true})

	err := h.HandleCreate(context.Background(), createTask(t))
	require.NoError(t, err)
	assert.Equal(t, 1, ghn.calls)
}

func TestHandleCreateTransientCarrierErrorRetries(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	ghn := &fakeCarrier{createErr: &carrier.APIError{StatusCode: http.StatusBadGateway, Message: "down"}}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCreate(context.Background(), createTask(t))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 1, store.attempts)
	assert.Empty(t, store.failed)
}

func TestHandleCreateCarrierRejectionIsTerminal(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingDraft})
	ghn := &fakeCarrier{createErr: &carrier.APIError{StatusCode: http.StatusBadRequest, Message: "bad address"}}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCreate(context.Background(), createTask(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Contains(t, store.failed["o1"], "bad address")
	assert.Equal(t, models.ShippingFailed, store.shipment.Status)
}

func cancelTask(t *testing.T, orderID, orderCode string) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(&queue.ShippingCancelPayload{OrderID: orderID, OrderCode: orderCode})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeShippingCancel, b)
}

func TestHandleCancelConfirmsWithCarrierFirst(t *testing.T) {
	code := "GHN1"
	store := newFakeShippingStore(&models.OrderShipping{
		OrderID: "o1", Status: models.ShippingCreated, OrderCode: &code,
	})
	ghn := &fakeCarrier{}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCancel(context.Background(), cancelTask(t, "o1", "GHN1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GHN1"}, ghn.cancels)
	assert.Equal(t, []string{"o1"}, store.cancelled)
}

func TestHandleCancelNoOpBeforeCarrierKnows(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingEnqueued})
	ghn := &fakeCarrier{}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCancel(context.Background(), cancelTask(t, "o1", ""))
	assert.NoError(t, err)
	assert.Empty(t, ghn.cancels)
	assert.Equal(t, models.ShippingEnqueued, store.shipment.Status)
}

func TestHandleCancelIdempotentReplay(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1", Status: models.ShippingCancelled})
	ghn := &fakeCarrier{}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCancel(context.Background(), cancelTask(t, "o1", "GHN1"))
	assert.NoError(t, err)
	assert.Empty(t, ghn.cancels)
}

func TestHandleCancelCarrierRefusalKeepsRemoteTruth(t *testing.T) {
	code := "GHN1"
	store := newFakeShippingStore(&models.OrderShipping{
		OrderID: "o1", Status: models.ShippingCreated, OrderCode: &code,
	})
	ghn := &fakeCarrier{cancelErr: &carrier.APIError{StatusCode: http.StatusBadRequest, Message: "already picked"}}
	h := newShippingHandler(store, ghn, &fakeLocker{})

	err := h.HandleCancel(context.Background(), cancelTask(t, "o1", "GHN1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	// Local state never flips to CANCELLED without carrier confirmation.
	assert.Empty(t, store.cancelled)
}

func webhookTask(t *testing.T, orderCode, status string) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(&queue.ShippingWebhookPayload{OrderCode: orderCode, Status: status})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeShippingWebhook, b)
}

func TestHandleWebhookAppliesMappedStatus(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1"})
	h := newShippingHandler(store, &fakeCarrier{}, &fakeLocker{})

	err := h.HandleWebhook(context.Background(), webhookTask(t, "GHN1", "picked"))
	require.NoError(t, err)
	assert.Equal(t, []models.ShippingStatus{models.ShippingPickuped}, store.applied)
}

func TestHandleWebhookUnknownStatusKeepsState(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1"})
	h := newShippingHandler(store, &fakeCarrier{}, &fakeLocker{})

	err := h.HandleWebhook(context.Background(), webhookTask(t, "GHN1", "teleported"))
	assert.NoError(t, err)
	assert.Empty(t, store.applied)
}

func TestHandleWebhookRejectedTransitionIsNoOp(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1"})
	store.statusResp = &repository.StatusResult{Applied: false, Message: "order not yet picked up"}
	h := newShippingHandler(store, &fakeCarrier{}, &fakeLocker{})

	err := h.HandleWebhook(context.Background(), webhookTask(t, "GHN1", "delivered"))
	assert.NoError(t, err, "rejected transitions must not be retried")
}

func TestHandleWebhookUnknownOrderCodeSkipsRetry(t *testing.T) {
	store := newFakeShippingStore(&models.OrderShipping{OrderID: "o1"})
	store.statusErr = repository.ErrNotFound
	h := newShippingHandler(store, &fakeCarrier{}, &fakeLocker{})

	err := h.HandleWebhook(context.Background(), webhookTask(t, "GHOST", "picked"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
