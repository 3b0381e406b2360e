package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.GHNConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		ShopID:  "12345",
		Timeout: 5 * time.Second,
	}, zap.NewNop()), srv
}

func TestCreateOrderSuccess(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createOrderPath, r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("Token"))
		assert.Equal(t, "12345", r.Header.Get("ShopId"))

		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order-1", req.ClientOrderCode)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    200,
			"message": "Success",
			"data": map[string]interface{}{
				"order_code": "GHN5F9K",
				"total_fee":  22000,
			},
		})
	})

	created, err := client.CreateOrder(context.Background(), &CreateOrderRequest{
		ClientOrderCode: "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "GHN5F9K", created.OrderCode)
	assert.Equal(t, int64(22000), created.TotalFee)
}

func TestCreateOrderRejection(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    400,
			"message": "to_phone is invalid",
		})
	})

	_, err := client.CreateOrder(context.Background(), &CreateOrderRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "to_phone")
	assert.False(t, Retryable(err))
}

// GHN sometimes returns HTTP 200 with a non-200 envelope code; that still
// counts as a rejection.
func TestCreateOrderEnvelopeError(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    422,
			"message": "weight exceeds service limit",
		})
	})

	_, err := client.CreateOrder(context.Background(), &CreateOrderRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.False(t, Retryable(err))
}

func TestCreateOrderServerErrorIsRetryable(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 502, "message": "upstream unavailable",
		})
	})

	_, err := client.CreateOrder(context.Background(), &CreateOrderRequest{})
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestCreateOrderMissingOrderCode(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200, "message": "Success", "data": map[string]interface{}{},
		})
	})

	_, err := client.CreateOrder(context.Background(), &CreateOrderRequest{})
	require.Error(t, err)
	// An accepted order without a code is a carrier fault, so retry.
	assert.True(t, Retryable(err))
}

func TestCancelOrder(t *testing.T) {
	var gotCodes []string
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cancelOrderPath, r.URL.Path)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotCodes = body["order_codes"]
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 200, "message": "OK"})
	})

	require.NoError(t, client.CancelOrder(context.Background(), "GHN5F9K"))
	assert.Equal(t, []string{"GHN5F9K"}, gotCodes)
}

func TestCancelOrderRefused(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 400, "message": "order already picked",
		})
	})

	err := client.CancelOrder(context.Background(), "GHN5F9K")
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	client, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.CreateOrder(context.Background(), &CreateOrderRequest{})
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, Retryable(&APIError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, Retryable(&APIError{StatusCode: http.StatusConflict}))
	assert.True(t, Retryable(errors.New("connection reset")))
}
