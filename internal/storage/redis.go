package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flagsync:"

// RedisStorage shares the cache entry between processes through Redis.
type RedisStorage struct {
	client redis.UniversalClient
	ttl    time.Duration
	owned  bool

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
}

// NewRedisStorage parses url, connects and pings the server
func NewRedisStorage(ctx context.Context, url string, ttl time.Duration) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStorageFromClient(client, ttl)
	s.owned = true
	return s, nil
}

// NewRedisStorageFromClient wraps a client owned by the caller
func NewRedisStorageFromClient(client redis.UniversalClient, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

// Get loads and decodes the entry
func (r *RedisStorage) Get(ctx context.Context, key string) (*domain.ProjectConfig, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.misses.Add(1)
			return nil, domain.NewNotFoundError("config", key)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cfg domain.ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	r.hits.Add(1)
	return &cfg, nil
}

// Set encodes the entry and stores it with the configured TTL
func (r *RedisStorage) Set(ctx context.Context, key string, cfg *domain.ProjectConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	r.sets.Add(1)
	return nil
}

// Delete removes the entry
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	r.deletes.Add(1)
	return nil
}

// Metrics returns the backend counters
func (r *RedisStorage) Metrics() Metrics {
	return Metrics{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Sets:    r.sets.Load(),
		Deletes: r.deletes.Load(),
	}
}

// Close closes the client when this storage created it
func (r *RedisStorage) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
