package cache

import (
	"context"
	"testing"

	"github.com/erp/paymentalloc/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBackends_RedisDisabled(t *testing.T) {
	b, err := NewBackends(context.Background(), config.RedisConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.IsType(t, &InMemoryIdempotencyStore{}, b.Idempotency)
	assert.IsType(t, &LocalJobLock{}, b.JobLock)
	assert.NoError(t, b.Ping(context.Background()))
}

func TestNewBackends_RedisUnreachable(t *testing.T) {
	_, err := NewBackends(context.Background(), config.RedisConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    1,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis required but unavailable")
}
