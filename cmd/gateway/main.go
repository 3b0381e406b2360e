package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/fulfillment/gateway"
	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/discovery"
	"github.com/example/fulfillment/pkg/fulfillment"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
)

func main() {
	// Load config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting fulfillment gateway",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("host", cfg.Server.Host))

	// Storage
	db, err := repository.Open(&cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to connect to mysql", zap.Error(err))
	}

	cache := repository.NewCacheService(&cfg.Redis)
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}

	events, err := repository.NewEventLog(&cfg.MongoDB, logger.Named("events"))
	if err != nil {
		logger.Warn("MongoDB unavailable, audit trail disabled", zap.Error(err))
		events = nil
	} else {
		defer events.Close(ctx)
	}

	producer := queue.NewProducers(queue.RedisOpt(&cfg.Redis), &cfg.Queue, logger.Named("producer"))
	defer producer.Close()

	orders := repository.NewOrderRepository(db, cache, logger.Named("orders"))
	shipments := repository.NewShippingRepository(db, cache, logger.Named("shipments"))
	discounts := repository.NewDiscountRepository(db)

	svc := fulfillment.NewService(orders, shipments, discounts, producer, cache, events, &cfg.Queue, logger.Named("service"))

	// Register in etcd
	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
	} else {
		defer sd.Close()
		instance := &discovery.ServiceInstance{
			Name: cfg.Server.Name,
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}
		if err := sd.Register(ctx, instance); err != nil {
			logger.Error("Failed to register service", zap.Error(err))
		} else {
			defer sd.Deregister(ctx, instance)
		}
	}

	// Create gateway
	gw := gateway.NewGateway(cfg, svc, producer, cache, logger)
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	logger.Info("Gateway started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Fatal("Gateway error", zap.Error(err))
	}

	logger.Info("Gateway stopped")
}
