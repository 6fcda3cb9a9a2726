// internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/config"
)

// InitializeDBPool connects to the archive database and verifies the connection.
func InitializeDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Info("Connected to result archive database.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// InitializeRedis opens a client and checks the server answers.
func InitializeRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("Connected to redis task store.", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}

// InitializeTaskStore builds the task store selected by service.task_backend.
// The returned client is nil for the memory backend and must be closed by the caller otherwise.
func InitializeTaskStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (TaskStore, *redis.Client, error) {
	switch cfg.Service().TaskBackend {
	case config.TaskBackendRedis:
		client, err := InitializeRedis(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisTaskStore(client, cfg.Redis().KeyPrefix, cfg.Redis().TaskTTL, logger), client, nil
	case config.TaskBackendMemory, "":
		logger.Info("Using in-memory task store. Tasks are lost on restart.")
		return NewMemoryTaskStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported task backend: %s", cfg.Service().TaskBackend)
	}
}
