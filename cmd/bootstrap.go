package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/interbank-service/internal/config"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/rabbitmq"
)

// openRepository connects to the configured database and applies pending
// migrations. Closing the repository releases the pool.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database url parse failed: %w", err)
		}
		poolConfig.MaxConns = cfg.DBMaxConns
		poolConfig.MinConns = cfg.DBMinConns
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		// Disable prepared statement caching to prevent conflicts behind poolers.
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}

		repo := store.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		logger.Info("database connected", "component", "bootstrap", "driver", cfg.DatabaseDriver)
		return repo, nil
	default:
		repo, err := store.NewSQLiteRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info("database connected", "component", "bootstrap", "driver", cfg.DatabaseDriver)
		return repo, nil
	}
}

// connectRedis returns nil when REDIS_URL is unset or unreachable. Callers
// treat a nil client as "no cache, no rate limiting".
func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; registry cache and b2b rate limiting disabled", "component", "bootstrap", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; registry cache and b2b rate limiting disabled", "component", "bootstrap", "error", err)
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; registry cache and b2b rate limiting disabled", "component", "bootstrap", "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "component", "bootstrap")
	return client
}

// newEventPublisher falls back to a no-op publisher when RabbitMQ is not
// configured or unreachable.
func newEventPublisher(cfg config.Config, logger *slog.Logger) rabbitmq.Publisher {
	if cfg.RabbitMQURL == "" {
		logger.Info("rabbitmq url missing; transfer events disabled", "component", "bootstrap")
		return &rabbitmq.EventProducerFallback{}
	}
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "component", "bootstrap", "error", err)
		return &rabbitmq.EventProducerFallback{}
	}
	logger.Info("rabbitmq producer connected", "component", "bootstrap", "exchange", cfg.EventsExchange)
	return producer
}
