package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnv              = "development"
	defaultQuoteDepth       = 10
	defaultSlippageBps      = 0
	defaultConcurrency      = 20
	defaultSourceName       = "poolswap"
	defaultPoolEvents       = "pool-events"
	defaultOrderEvents      = "order-events"
	defaultPrefetch         = 50
	defaultBatchSize        = 50
	defaultBatchTimeoutMs   = 500
	defaultOracleRatePerSec = 10
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env       string
	Postgres  PostgresConfig
	RabbitMQ  RabbitMQConfig
	Oracle    OracleConfig
	Reconcile ReconcileConfig
}

// PostgresConfig stores database connection parameters.
type PostgresConfig struct {
	DSN string
}

// RabbitMQConfig stores broker connection and batching parameters.
type RabbitMQConfig struct {
	URL                 string
	PoolEventsExchange  string
	OrderEventsExchange string
	Prefetch            int
	BatchSize           int
	BatchTimeout        time.Duration
}

// OracleConfig stores pricing oracle and pool provider endpoints.
type OracleConfig struct {
	Endpoint      string
	PoolsEndpoint string
	RatePerSecond int
}

// ReconcileConfig stores the knobs of the reconciliation core.
type ReconcileConfig struct {
	QuoteDepth   int
	SlippageBps  int64
	Concurrency  int
	SourceName   string
	AllowedPools map[string]bool
}

// Allowed reports whether the pool address passes the operational allow-list.
func (r ReconcileConfig) Allowed(poolAddress string) bool {
	return r.AllowedPools[strings.ToLower(poolAddress)]
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}

	amqpURL := os.Getenv("RABBITMQ_URL")
	if amqpURL == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}

	oracleEndpoint := os.Getenv("ORACLE_ENDPOINT")
	if oracleEndpoint == "" {
		return nil, errors.New("ORACLE_ENDPOINT is required")
	}

	depth, err := getInt("QUOTE_DEPTH", defaultQuoteDepth)
	if err != nil {
		return nil, fmt.Errorf("parse QUOTE_DEPTH: %w", err)
	}
	if depth < 1 {
		return nil, errors.New("QUOTE_DEPTH must be at least 1")
	}

	slippage, err := getInt("SLIPPAGE_BPS", defaultSlippageBps)
	if err != nil {
		return nil, fmt.Errorf("parse SLIPPAGE_BPS: %w", err)
	}

	concurrency, err := getInt("RECONCILE_CONCURRENCY", defaultConcurrency)
	if err != nil {
		return nil, fmt.Errorf("parse RECONCILE_CONCURRENCY: %w", err)
	}

	prefetch, err := getInt("RABBITMQ_PREFETCH", defaultPrefetch)
	if err != nil {
		return nil, fmt.Errorf("parse RABBITMQ_PREFETCH: %w", err)
	}

	batchSize, err := getInt("EVENT_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, fmt.Errorf("parse EVENT_BATCH_SIZE: %w", err)
	}

	batchTimeoutMs, err := getInt("EVENT_BATCH_TIMEOUT_MS", defaultBatchTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("parse EVENT_BATCH_TIMEOUT_MS: %w", err)
	}

	oracleRate, err := getInt("ORACLE_RATE_PER_SECOND", defaultOracleRatePerSec)
	if err != nil {
		return nil, fmt.Errorf("parse ORACLE_RATE_PER_SECOND: %w", err)
	}

	return &Config{
		Env:      getString("APP_ENV", defaultEnv),
		Postgres: PostgresConfig{DSN: dsn},
		RabbitMQ: RabbitMQConfig{
			URL:                 amqpURL,
			PoolEventsExchange:  getString("POOL_EVENTS_EXCHANGE", defaultPoolEvents),
			OrderEventsExchange: getString("ORDER_EVENTS_EXCHANGE", defaultOrderEvents),
			Prefetch:            prefetch,
			BatchSize:           batchSize,
			BatchTimeout:        time.Duration(batchTimeoutMs) * time.Millisecond,
		},
		Oracle: OracleConfig{
			Endpoint:      oracleEndpoint,
			PoolsEndpoint: getString("POOLS_ENDPOINT", oracleEndpoint),
			RatePerSecond: oracleRate,
		},
		Reconcile: ReconcileConfig{
			QuoteDepth:   depth,
			SlippageBps:  int64(slippage),
			Concurrency:  concurrency,
			SourceName:   getString("SOURCE_NAME", defaultSourceName),
			AllowedPools: parsePoolList(os.Getenv("ALLOWED_POOLS")),
		},
	}, nil
}

func parsePoolList(raw string) map[string]bool {
	pools := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		addr := strings.ToLower(strings.TrimSpace(part))
		if addr != "" {
			pools[addr] = true
		}
	}
	return pools
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}
