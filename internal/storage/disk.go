package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// DiskStorage persists one cache entry file per credential so a restarted
// process can serve the last known config before its first fetch.
type DiskStorage struct {
	dir string
	mu  sync.RWMutex

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
}

// NewDiskStorage creates dir if needed
func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &DiskStorage{dir: dir}, nil
}

// filePath hashes the key so credentials never appear in file names
func (d *DiskStorage) filePath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(d.dir, "flagsync-"+hex.EncodeToString(sum[:])+".json")
}

// Get reads the entry for key
func (d *DiskStorage) Get(ctx context.Context, key string) (*domain.ProjectConfig, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	data, err := os.ReadFile(d.filePath(key))
	d.mu.RUnlock()

	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.misses.Add(1)
			return nil, domain.NewNotFoundError("config", key)
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var cfg domain.ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	d.hits.Add(1)
	return &cfg, nil
}

// Set writes the entry through a temp file and rename
func (d *DiskStorage) Set(ctx context.Context, key string, cfg *domain.ProjectConfig) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	file := d.filePath(key)
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	d.sets.Add(1)
	return nil
}

// Delete removes the entry file
func (d *DiskStorage) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err := os.Remove(d.filePath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	d.deletes.Add(1)
	return nil
}

// Metrics returns the backend counters
func (d *DiskStorage) Metrics() Metrics {
	return Metrics{
		Hits:    d.hits.Load(),
		Misses:  d.misses.Load(),
		Sets:    d.sets.Load(),
		Deletes: d.deletes.Load(),
	}
}

func (d *DiskStorage) Close() error { return nil }
