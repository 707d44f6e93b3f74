// Package lock provides a Redis-backed mutex shared by every ledger process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chainsafe/liquid-stake/pkg/config"
)

var (
	// ErrNotHeld is returned by Unlock when the lock expired or belongs to someone else.
	ErrNotHeld = errors.New("lock not held")
)

const defaultRetryInterval = 50 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewClient creates a new Redis client from the provided configuration.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Mutex is a lease on a single Redis key. The lease expires after ttl
// so a crashed holder cannot block others forever.
type Mutex struct {
	client        *redis.Client
	key           string
	ttl           time.Duration
	retryInterval time.Duration

	mu    sync.Mutex
	token string
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithRetryInterval sets how long Lock waits between acquisition attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Mutex) { m.retryInterval = d }
}

// NewMutex creates a mutex on key whose lease lasts ttl.
func NewMutex(client *redis.Client, key string, ttl time.Duration, opts ...Option) *Mutex {
	m := &Mutex{
		client:        client,
		key:           key,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// TryLock makes one attempt to acquire the lease.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", m.key, err)
	}
	if ok {
		m.mu.Lock()
		m.token = token
		m.mu.Unlock()
	}
	return ok, nil
}

// Lock blocks until the lease is acquired or ctx is done.
func (m *Mutex) Lock(ctx context.Context) error {
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Unlock releases the lease if it is still held by this mutex.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = ""
	m.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, m.client, []string{m.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", m.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
