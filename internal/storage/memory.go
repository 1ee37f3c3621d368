package storage

import (
	"context"
	"sync/atomic"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/dgraph-io/ristretto"
)

// MemoryStorage keeps snapshots in a ristretto cache.
// Snapshots are immutable so they are stored by pointer.
type MemoryStorage struct {
	cache *ristretto.Cache
	cfg   Config

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
}

// NewMemoryStorage creates a ristretto backed cache
func NewMemoryStorage(cfg Config) (*MemoryStorage, error) {
	defaults := DefaultConfig()
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaults.MaxCost
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaults.NumCounters
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = defaults.BufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &MemoryStorage{cache: cache, cfg: cfg}, nil
}

// Get returns the snapshot stored under key
func (m *MemoryStorage) Get(ctx context.Context, key string) (*domain.ProjectConfig, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	value, found := m.cache.Get(key)
	if !found {
		m.misses.Add(1)
		return nil, domain.NewNotFoundError("config", key)
	}

	cfg, ok := value.(*domain.ProjectConfig)
	if !ok {
		m.misses.Add(1)
		return nil, domain.NewNotFoundError("config", key)
	}

	m.hits.Add(1)
	return cfg, nil
}

// Set stores the snapshot and waits until it is visible to Get
func (m *MemoryStorage) Set(ctx context.Context, key string, cfg *domain.ProjectConfig) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	cost := int64(len(cfg.Raw)) + 1

	var admitted bool
	if m.cfg.TTL > 0 {
		admitted = m.cache.SetWithTTL(key, cfg, cost, m.cfg.TTL)
	} else {
		admitted = m.cache.Set(key, cfg, cost)
	}
	if !admitted {
		return domain.NewValidationError("config rejected by memory cache, raise MaxCost")
	}

	m.cache.Wait()
	m.sets.Add(1)
	return nil
}

// Delete removes the entry
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.cache.Del(key)
	m.deletes.Add(1)
	return nil
}

// Metrics returns the backend counters
func (m *MemoryStorage) Metrics() Metrics {
	return Metrics{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Sets:    m.sets.Load(),
		Deletes: m.deletes.Load(),
	}
}

// Close stops the ristretto goroutines
func (m *MemoryStorage) Close() error {
	m.cache.Close()
	return nil
}
