// Package cache is the read-through layer in front of the upstream REST
// calls: a short Redis TTL absorbs bursts across concurrent detection
// cycles, falling back to an in-memory manager when Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Manager is the read-through contract the Fetcher depends on.
type Manager interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Health(ctx context.Context) bool
	Close() error
}

// RedisManager implements Manager over go-redis.
type RedisManager struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisManager dials addr lazily — go-redis connects on first command —
// and returns a ready Manager.
func NewRedisManager(addr, password string, db int) *RedisManager {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return &RedisManager{client: client, keyPrefix: "sentinel:"}
}

// Get unmarshals the cached value into dest. Returns false, nil on a clean
// miss.
func (r *RedisManager) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the given TTL.
func (r *RedisManager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Health pings Redis.
func (r *RedisManager) Health(ctx context.Context) bool {
	pong, err := r.client.Ping(ctx).Result()
	if err != nil || pong != "PONG" {
		return false
	}
	return true
}

// Close releases the underlying connection pool.
func (r *RedisManager) Close() error {
	return r.client.Close()
}

// entry is the in-memory manager's stored record.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryManager is a process-local fallback used when Redis is
// unreachable, or in tests. Not safe for use by multiple goroutines without
// the caller serializing access — the Fetcher only reads/writes it from
// within one detection cycle at a time.
type InMemoryManager struct {
	data map[string]entry
}

// NewInMemoryManager returns an empty in-memory cache.
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{data: make(map[string]entry)}
}

// Get implements Manager.
func (m *InMemoryManager) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	e, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.data, key)
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set implements Manager.
func (m *InMemoryManager) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	m.data[key] = entry{data: raw, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Health always reports true for the in-memory fallback.
func (m *InMemoryManager) Health(context.Context) bool { return true }

// Close is a no-op.
func (m *InMemoryManager) Close() error { return nil }

// Fallback wraps a primary Manager with an in-memory backup: writes go to
// both, reads try the primary first and fall back on error.
type Fallback struct {
	primary  Manager
	fallback Manager
}

// NewFallback builds a Manager that prefers primary but degrades to
// fallback when a primary call returns an error. Primary health is not
// consulted when choosing the tier.
func NewFallback(primary, fallback Manager) *Fallback {
	return &Fallback{primary: primary, fallback: fallback}
}

// Get implements Manager.
func (f *Fallback) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	hit, err := f.primary.Get(ctx, key, dest)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache primary get failed, using fallback")
		return f.fallback.Get(ctx, key, dest)
	}
	return hit, nil
}

// Set implements Manager, writing to both tiers.
func (f *Fallback) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache primary set failed, using fallback")
		return f.fallback.Set(ctx, key, value, ttl)
	}
	return f.fallback.Set(ctx, key, value, ttl)
}

// Health reports the primary's health.
func (f *Fallback) Health(ctx context.Context) bool {
	return f.primary.Health(ctx)
}

// Close closes both tiers.
func (f *Fallback) Close() error {
	_ = f.fallback.Close()
	return f.primary.Close()
}
