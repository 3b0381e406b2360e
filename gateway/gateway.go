// Package gateway exposes the HTTP edge of the fulfillment subsystem: the
// GHN webhook receiver, the internal bridge the storefront's CRUD layer
// calls, and the health endpoint. Webhook handling is receive-and-enqueue;
// the shipping worker does all the actual state work.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/fulfillment"
	"github.com/example/fulfillment/pkg/models"
	"github.com/example/fulfillment/pkg/pricing"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

type Gateway struct {
	config   *config.Config
	service  *fulfillment.Service
	producer *queue.Producers
	cache    *repository.CacheService
	logger   *zap.Logger
	router   *gin.Engine
}

func NewGateway(cfg *config.Config, svc *fulfillment.Service, producer *queue.Producers, cache *repository.CacheService, logger *zap.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config:   cfg,
		service:  svc,
		producer: producer,
		cache:    cache,
		logger:   logger,
		router:   router,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", g.health)

	// Inbound carrier callbacks.
	g.router.POST("/webhooks/ghn", g.ghnWebhook)

	// Internal bridge for the storefront services. Not exposed publicly.
	internal := g.router.Group("/internal/v1")
	{
		payments := internal.Group("/payments")
		{
			payments.POST("/:id/succeeded", g.paymentSucceeded)
			payments.POST("/:id/failed", g.paymentFailed)
			payments.POST("/:id/cancel", g.paymentCancel)
			payments.POST("/:id/expiry", g.armExpiry)
		}

		orders := internal.Group("/orders")
		{
			orders.GET("/:id", g.getOrder)
			orders.GET("/:id/shipping-code", g.shippingCode)
			orders.POST("/:id/carrier-order", g.requestCarrierOrder)
			orders.POST("/:id/carrier-cancel", g.cancelCarrierOrder)
			orders.GET("/:id/history", g.orderHistory)
		}

		internal.POST("/pricing/quote", g.quote)
		internal.POST("/discounts/apply", g.applyDiscount)

		search := internal.Group("/search")
		{
			search.POST("/products/:id/sync", g.syncProduct)
			search.POST("/products/sync", g.syncProducts)
		}
	}
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Server.Host, g.config.Server.Port)
	g.logger.Info("Gateway starting", zap.String("address", addr))
	return g.router.Run(addr)
}

func (g *Gateway) health(c *gin.Context) {
	status := g.cache.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": "ok", "cache": status})
}

// ghnWebhookBody mirrors the fields GHN posts on every status change. Extra
// fields are ignored.
type ghnWebhookBody struct {
	OrderCode string `json:"OrderCode" binding:"required"`
	Status    string `json:"Status" binding:"required"`
}

// ghnWebhook acknowledges as soon as the event is durably enqueued; slow
// database work never makes the carrier time out and re-deliver.
func (g *Gateway) ghnWebhook(c *gin.Context) {
	var body ghnWebhookBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.producer.EnqueueShippingWebhook(c.Request.Context(), body.OrderCode, body.Status); err != nil {
		g.logger.Error("failed to enqueue carrier webhook",
			zap.String("order_code", body.OrderCode), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type outcomeBody struct {
	Reason string `json:"reason"`
}

func (g *Gateway) paymentSucceeded(c *gin.Context) {
	if err := g.service.PaymentSucceeded(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) paymentFailed(c *gin.Context) {
	var body outcomeBody
	_ = c.BindJSON(&body)
	if err := g.service.PaymentFailed(c.Request.Context(), c.Param("id"), body.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) paymentCancel(c *gin.Context) {
	var body outcomeBody
	_ = c.BindJSON(&body)
	if err := g.service.CancelPayment(c.Request.Context(), c.Param("id"), body.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) armExpiry(c *gin.Context) {
	if err := g.service.ArmPaymentExpiry(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.service.GetOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) shippingCode(c *gin.Context) {
	code, err := g.service.CarrierOrderCode(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_code": code})
}

func (g *Gateway) requestCarrierOrder(c *gin.Context) {
	err := g.service.RequestCarrierOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) cancelCarrierOrder(c *gin.Context) {
	err := g.service.CancelCarrierOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (g *Gateway) orderHistory(c *gin.Context) {
	events, err := g.service.History(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type quoteBody struct {
	UserID        string             `json:"user_id" binding:"required"`
	Carts         []pricing.ShopCart `json:"carts" binding:"required"`
	PlatformCodes []string           `json:"platform_codes"`
}

func (g *Gateway) quote(c *gin.Context) {
	var body quoteBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	total, err := g.service.Quote(c.Request.Context(), body.UserID, body.Carts, body.PlatformCodes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, total)
}

func (g *Gateway) applyDiscount(c *gin.Context) {
	var snap models.DiscountSnapshot
	if err := c.BindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := g.service.CreateDiscountSnapshot(c.Request.Context(), &snap)
	if errors.Is(err, repository.ErrUsageExhausted) {
		c.JSON(http.StatusConflict, gin.H{"error": "discount usage exhausted"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": snap.ID})
}

type syncBody struct {
	Action queue.SearchAction `json:"action" binding:"required"`
}

func (g *Gateway) syncProduct(c *gin.Context) {
	var body syncBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.service.SyncProduct(c.Request.Context(), c.Param("id"), body.Action); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type syncBatchBody struct {
	ProductIDs []string           `json:"product_ids" binding:"required"`
	Action     queue.SearchAction `json:"action" binding:"required"`
}

func (g *Gateway) syncProducts(c *gin.Context) {
	var body syncBatchBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.service.SyncProducts(c.Request.Context(), body.ProductIDs, body.Action); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
