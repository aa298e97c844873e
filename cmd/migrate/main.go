package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"main/internal/config"
	"main/internal/infrastructure/orders"
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

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	for _, statement := range orders.Schema {
		if _, err := pool.Exec(ctx, statement); err != nil {
			logger.Fatalf("migrate orders: %v", err)
		}
	}
	logger.Info("orders schema applied")

	registries, err := registry.NewRegistry(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("connect registries: %v", err)
	}
	if err := registries.AutoMigrate(); err != nil {
		logger.Fatalf("migrate registries: %v", err)
	}
	logger.Info("registry schema applied")
}
