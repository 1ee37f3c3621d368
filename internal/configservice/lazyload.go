package configservice

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// LazyLoader refreshes on read once the cached config is older than the TTL.
//
// A refresh that finds nothing new keeps the old timestamp, so every read
// after expiry fetches again until the origin reports a change.
type LazyLoader struct {
	engine *Engine
	ttl    time.Duration
	cfg    Config
	closed atomic.Bool
}

// NewLazyLoader creates a lazy loader
func NewLazyLoader(engine *Engine, cfg Config) *LazyLoader {
	return &LazyLoader{engine: engine, ttl: cfg.CacheTTL, cfg: cfg}
}

// GetConfig returns the cached config when fresh, otherwise refreshes first
func (l *LazyLoader) GetConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cached := l.engine.Cached(ctx)
	if l.closed.Load() {
		return cached, nil
	}

	if cached != nil && !cached.IsOlderThan(l.cfg.now().Add(-l.ttl)) {
		return cached, nil
	}

	res, err := l.engine.Refresh(ctx, cached)
	return res.Config, err
}

// RefreshConfig refreshes regardless of the TTL
func (l *LazyLoader) RefreshConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cached := l.engine.Cached(ctx)
	if l.closed.Load() {
		return cached, nil
	}

	res, err := l.engine.Refresh(ctx, cached)
	return res.Config, err
}

func (l *LazyLoader) Close() error {
	l.closed.Store(true)
	return l.engine.Close()
}
