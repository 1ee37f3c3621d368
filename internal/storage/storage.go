package storage

import (
	"context"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = domain.ErrNotFound

// Storage is the config cache, keyed by credential.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the cached snapshot or ErrNotFound
	Get(ctx context.Context, key string) (*domain.ProjectConfig, error)

	// Set replaces the snapshot stored under key
	Set(ctx context.Context, key string, cfg *domain.ProjectConfig) error

	// Delete removes the entry, missing keys are not an error
	Delete(ctx context.Context, key string) error

	// Close releases the backend
	Close() error
}

// Metrics are the counters every backend keeps
type Metrics struct {
	Hits    uint64
	Misses  uint64
	Sets    uint64
	Deletes uint64
}

// MetricsReporter is implemented by backends exposing Metrics
type MetricsReporter interface {
	Metrics() Metrics
}

// Config holds memory backend settings
type Config struct {
	// MaxCost is the maximum total size of cached documents in bytes
	MaxCost int64

	// NumCounters is the number of admission counters
	NumCounters int64

	// BufferItems is the number of keys per Get buffer
	BufferItems int64

	// TTL expires entries, zero keeps them until replaced
	TTL time.Duration
}

// DefaultConfig returns default memory backend settings.
// One entry per credential means the cache stays small.
func DefaultConfig() Config {
	return Config{
		MaxCost:     64 << 20, // 64MB
		NumCounters: 1e4,
		BufferItems: 64,
	}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
