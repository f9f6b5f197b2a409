package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "compflow:cache:"

// RedisBackend stores entries in Redis under a key prefix, letting several
// processes share one cache. Expiry is delegated to Redis TTLs.
//
// LRU eviction is decided by each process's Store, not by Redis: an entry
// evicted by one host is gone for every host sharing the prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
	owned  bool
	closed atomic.Bool
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of
// the client; Close does not close it.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// OpenRedis connects to the Redis server at url and verifies the connection.
// The returned backend owns the client and closes it on Close.
func OpenRedis(ctx context.Context, url, password, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	b := NewRedisBackend(client, prefix)
	b.owned = true
	return b, nil
}

func (r *RedisBackend) key(k string) string { return r.prefix + k }

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear implements Backend. Only keys under the backend's prefix are removed.
func (r *RedisBackend) Clear(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}

	var batch []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Keys implements Backend. Redis does not expose write order, so keys come
// back in scan order.
func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Len implements Backend.
func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.owned {
		return r.client.Close()
	}
	return nil
}
