// Package carrier is the thin client over the GHN shipping API. Only the
// shipping worker talks to it.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/fulfillment/pkg/config"
	"go.uber.org/zap"
)

const (
	createOrderPath = "/shiip/public-api/v2/shipping-order/create"
	cancelOrderPath = "/shiip/public-api/v2/switch-status/cancel"
)

// APIError is a non-2xx or carrier-rejected response. Temporary errors are
// retried by the queue; the rest fail the shipment.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghn: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Retryable classifies a carrier call failure. Network-level errors (timeouts,
// connection resets) are retryable; carrier rejections are only retryable when
// the carrier itself is at fault.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return err != nil
}

type OrderItem struct {
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type CreateOrderRequest struct {
	ClientOrderCode string `json:"client_order_code"`
	FromName        string `json:"from_name"`
	FromPhone       string `json:"from_phone"`
	FromAddress     string `json:"from_address"`
	ToName          string `json:"to_name"`
	ToPhone         string `json:"to_phone"`
	ToAddress       string `json:"to_address"`

	ServiceID     int   `json:"service_id"`
	ServiceTypeID int   `json:"service_type_id,omitempty"`
	Weight        int   `json:"weight"`
	Length        int   `json:"length"`
	Width         int   `json:"width"`
	Height        int   `json:"height"`
	CODAmount     int64 `json:"cod_amount"`
	// 1 = prepaid, 2 = cash on delivery.
	PaymentTypeID int         `json:"payment_type_id"`
	Items         []OrderItem `json:"items"`
}

type CreatedOrder struct {
	OrderCode            string    `json:"order_code"`
	ExpectedDeliveryTime time.Time `json:"expected_delivery_time"`
	TotalFee             int64     `json:"total_fee"`
}

// envelope is GHN's uniform response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	shopID     string
	logger     *zap.Logger
}

func NewClient(cfg *config.GHNConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		shopID:     cfg.ShopID,
		logger:     logger,
	}
}

// CreateOrder registers the shipment with GHN and returns the carrier order
// code. The client-supplied order code makes the call idempotent on the
// carrier side.
func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreatedOrder, error) {
	var created CreatedOrder
	if err := c.post(ctx, createOrderPath, req, &created); err != nil {
		return nil, err
	}
	if created.OrderCode == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "carrier accepted order without an order code"}
	}
	c.logger.Info("GHN order created",
		zap.String("client_order_code", req.ClientOrderCode),
		zap.String("order_code", created.OrderCode))
	return &created, nil
}

// CancelOrder asks GHN to cancel the shipment. Local state only flips once
// this call confirms, so local and remote state never diverge ahead of
// confirmation.
func (c *Client) CancelOrder(ctx context.Context, orderCode string) error {
	body := map[string][]string{"order_codes": {orderCode}}
	if err := c.post(ctx, cancelOrderPath, body, nil); err != nil {
		return err
	}
	c.logger.Info("GHN order cancelled", zap.String("order_code", orderCode))
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ghn: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ghn: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)
	req.Header.Set("ShopId", c.shopID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ghn: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "undecodable carrier response"}
	}
	if resp.StatusCode != http.StatusOK || env.Code != http.StatusOK {
		status := resp.StatusCode
		if status == http.StatusOK {
			status = env.Code
		}
		return &APIError{StatusCode: status, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "undecodable carrier payload"}
		}
	}
	return nil
}
