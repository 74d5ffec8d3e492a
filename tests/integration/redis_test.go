package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/paymentalloc/internal/infrastructure/cache"
	"github.com/erp/paymentalloc/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// newRedis starts a Redis container and returns a config pointing at it
func newRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return config.RedisConfig{Enabled: true, Host: host, Port: port.Int()}
}

func TestRedisBackends(t *testing.T) {
	cfg := newRedis(t)
	ctx := context.Background()

	backends, err := cache.NewBackends(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backends.Close() })
	require.NoError(t, backends.Ping(ctx))

	t.Run("idempotency key is reserved once", func(t *testing.T) {
		store := backends.Idempotency
		key := fmt.Sprintf("commit-%d", time.Now().UnixNano())

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Reserve(ctx, key, time.Minute)
				assert.NoError(t, err)
				if ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())

		result, found, err := store.Lookup(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, result, "pending reservation has no result")

		require.NoError(t, store.Complete(ctx, key, []byte(`{"batch_id":"b1"}`), time.Minute))
		result, found, err = store.Lookup(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, `{"batch_id":"b1"}`, string(result))

		require.NoError(t, store.Release(ctx, key))
		_, found, err = store.Lookup(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("reservation expires after ttl", func(t *testing.T) {
		key := fmt.Sprintf("ttl-%d", time.Now().UnixNano())
		ok, err := backends.Idempotency.Reserve(ctx, key, 200*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		require.Eventually(t, func() bool {
			ok, err := backends.Idempotency.Reserve(ctx, key, time.Minute)
			return err == nil && ok
		}, 3*time.Second, 100*time.Millisecond)
	})

	t.Run("job lock excludes a second runner", func(t *testing.T) {
		inside := make(chan struct{})
		done := make(chan struct{})
		first := make(chan error, 1)
		go func() {
			first <- backends.JobLock.RunExclusive(ctx, "reconcile", time.Minute, func(context.Context) error {
				close(inside)
				<-done
				return nil
			})
		}()
		<-inside

		err := backends.JobLock.RunExclusive(ctx, "reconcile", time.Minute, func(context.Context) error {
			t.Error("second runner must not enter")
			return nil
		})
		assert.True(t, errors.Is(err, cache.ErrLockHeld), "got %v", err)

		close(done)
		require.NoError(t, <-first)
		require.Eventually(t, func() bool {
			return backends.JobLock.RunExclusive(ctx, "reconcile", time.Minute, func(context.Context) error { return nil }) == nil
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("job lock outlives its ttl while the run is active", func(t *testing.T) {
		inside := make(chan struct{})
		done := make(chan struct{})
		first := make(chan error, 1)
		go func() {
			first <- backends.JobLock.RunExclusive(ctx, "long-run", time.Second, func(context.Context) error {
				close(inside)
				<-done
				return nil
			})
		}()
		<-inside

		time.Sleep(2500 * time.Millisecond)
		err := backends.JobLock.RunExclusive(ctx, "long-run", time.Second, func(context.Context) error {
			t.Error("second runner must not enter while the first refreshes")
			return nil
		})
		assert.True(t, errors.Is(err, cache.ErrLockHeld), "got %v", err)

		close(done)
		require.NoError(t, <-first)
	})
}
