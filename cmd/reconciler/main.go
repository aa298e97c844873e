package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"main/internal/application/service/reconciler"
	"main/internal/config"
	"main/internal/infrastructure/broker"
	"main/internal/infrastructure/encoder"
	"main/internal/infrastructure/oracle"
	"main/internal/infrastructure/orders"
	"main/internal/infrastructure/pools"
	"main/internal/infrastructure/registry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	orderRepo, err := orders.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("connect order store: %v", err)
	}
	defer orderRepo.Close()

	registries, err := registry.NewRegistry(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("connect registries: %v", err)
	}

	publisher, err := broker.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.OrderEventsExchange)
	if err != nil {
		logger.Fatalf("create order event publisher: %v", err)
	}
	defer publisher.Close()

	service := reconciler.NewService(cfg.Reconcile, reconciler.Collaborators{
		Oracle:    oracle.NewClient(cfg.Oracle.Endpoint, cfg.Oracle.RatePerSecond),
		Pools:     pools.NewClient(cfg.Oracle.PoolsEndpoint),
		Royalties: registries,
		TokenSets: registries,
		Sources:   registries,
		Encoder:   encoder.New(),
		Orders:    orderRepo,
		Publisher: publisher,
	}, logger)

	consumer, err := broker.NewConsumer(cfg.RabbitMQ, service, logger)
	if err != nil {
		logger.Fatalf("create trigger consumer: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("start trigger consumer: %v", err)
	}

	logger.WithField("allowed_pools", len(cfg.Reconcile.AllowedPools)).Info("reconciler started")

	<-ctx.Done()
	if err := consumer.Close(context.Background()); err != nil {
		logger.Errorf("close trigger consumer: %v", err)
	}
	logger.Info("reconciler stopped")
}
