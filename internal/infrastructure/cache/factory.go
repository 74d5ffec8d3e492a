package cache

import (
	"context"
	"fmt"

	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends bundles the coordination stores the service needs
type Backends struct {
	Idempotency shared.IdempotencyStore
	JobLock     JobLock
	client      *redis.Client
}

// Close releases the idempotency store and the Redis client
func (b *Backends) Close() error {
	if err := b.Idempotency.Close(); err != nil {
		return err
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// NewBackends builds Redis-backed stores when Redis is enabled and
// in-process ones otherwise. An enabled but unreachable Redis is an error.
func NewBackends(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Backends, error) {
	if !cfg.Enabled {
		logger.Warn("Redis disabled, using in-memory idempotency store and local job lock. " +
			"Idempotency keys do not survive restarts or span instances.")
		return &Backends{
			Idempotency: NewInMemoryIdempotencyStore(),
			JobLock:     NewLocalJobLock(),
		}, nil
	}

	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("redis required but unavailable: %w", err)
	}
	logger.Info("Using Redis idempotency store and job lock", zap.String("addr", cfg.Addr()))
	return &Backends{
		Idempotency: NewRedisIdempotencyStore(client, ""),
		JobLock:     NewRedisJobLock(client),
		client:      client,
	}, nil
}

// Ping checks Redis when it backs the stores
func (b *Backends) Ping(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Ping(ctx).Err()
}
