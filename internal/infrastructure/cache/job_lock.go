package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Job lock errors
var (
	ErrLockHeld = errors.New("job lock is held by another run")
	ErrLockLost = errors.New("job lock lost before the run finished")
)

// JobLock runs fn while holding an exclusive named lock
type JobLock interface {
	RunExclusive(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// RedisJobLock is a JobLock shared by every instance through Redis
type RedisJobLock struct {
	locker *redislock.Client
	prefix string
}

// NewRedisJobLock creates a Redis-backed job lock
func NewRedisJobLock(client *redis.Client) *RedisJobLock {
	return &RedisJobLock{locker: redislock.New(client), prefix: "payalloc:job:"}
}

// RunExclusive obtains the lock without waiting, runs fn and releases.
// While fn runs the lock is refreshed every ttl/2, so it only expires
// after ttl if the process dies mid-run. If a refresh fails the run's
// context is cancelled and ErrLockLost is returned.
func (l *RedisJobLock) RunExclusive(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.locker.Obtain(ctx, l.prefix+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("obtain job lock %s: %w", name, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if interval := ttl / 2; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keepAlive(runCtx, lock, ttl, interval, stop, cancel)
		}()
	}

	err = fn(runCtx)
	close(stop)
	wg.Wait()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrLockLost) {
		return errors.Join(cause, err)
	}
	return err
}

func keepAlive(ctx context.Context, lock *redislock.Lock, ttl, interval time.Duration, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, ttl, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				cancel(fmt.Errorf("%w: %v", ErrLockLost, err))
				return
			}
		}
	}
}

// LocalJobLock is an in-process JobLock for single-instance deployments
type LocalJobLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalJobLock creates an in-process job lock
func NewLocalJobLock() *LocalJobLock {
	return &LocalJobLock{held: make(map[string]bool)}
}

// RunExclusive runs fn unless another call holds name
func (l *LocalJobLock) RunExclusive(ctx context.Context, name string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return ErrLockHeld
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

var (
	_ JobLock = (*RedisJobLock)(nil)
	_ JobLock = (*LocalJobLock)(nil)
)
