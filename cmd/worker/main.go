package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/carrier"
	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/discovery"
	"github.com/example/fulfillment/pkg/queue"
	"github.com/example/fulfillment/pkg/repository"
	"github.com/example/fulfillment/pkg/search"
	"github.com/example/fulfillment/pkg/worker"
)

func main() {
	// Load config
	cfg, err := config.Load("config/worker-config.yaml")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting fulfillment worker",
		zap.String("name", cfg.Server.Name),
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.Int("shipping_concurrency", cfg.Queue.ShippingConcurrency))

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

	// Queue producers (the handlers enqueue follow-up jobs themselves).
	opt := queue.RedisOpt(&cfg.Redis)
	producer := queue.NewProducers(opt, &cfg.Queue, logger.Named("producer"))
	defer producer.Close()

	// Handlers
	payments := repository.NewPaymentRepository(db, cache, logger.Named("payments"))
	shipments := repository.NewShippingRepository(db, cache, logger.Named("shipments"))
	ghn := carrier.NewClient(&cfg.GHN, logger.Named("ghn"))

	indexer, err := search.NewIndexer(&cfg.Elastic, logger.Named("search"))
	if err != nil {
		logger.Fatal("Failed to create search indexer", zap.Error(err))
	}
	builder := search.NewBuilder(db)

	var recorder worker.EventRecorder
	if events != nil {
		recorder = events
	}
	paymentHandler := worker.NewPaymentHandler(payments, producer, recorder, logger.Named("payment"))
	shippingHandler := worker.NewShippingHandler(shipments, ghn, cache, recorder, logger.Named("shipping"))
	searchHandler := worker.NewSearchHandler(builder, indexer, logger.Named("search"))

	registry := worker.Registry(paymentHandler, shippingHandler, searchHandler)
	shippingMux, err := worker.NewMux(registry, worker.ShippingKinds)
	if err != nil {
		logger.Fatal("Incomplete handler registry", zap.Error(err))
	}
	generalMux, err := worker.NewMux(registry, worker.GeneralKinds)
	if err != nil {
		logger.Fatal("Incomplete handler registry", zap.Error(err))
	}

	shippingSrv := worker.NewShippingServer(opt, &cfg.Queue, logger)
	generalSrv := worker.NewGeneralServer(opt, &cfg.Queue, logger)

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

	// Start both servers
	serverErr := make(chan error, 2)
	go func() {
		if err := shippingSrv.Start(shippingMux); err != nil && err != asynq.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		if err := generalSrv.Start(generalMux); err != nil && err != asynq.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("Worker started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Error("Worker error", zap.Error(err))
	}

	shippingSrv.Shutdown()
	generalSrv.Shutdown()

	logger.Info("Worker stopped")
}
