package configservice

import (
	"context"
	"sync/atomic"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// ManualPoller never fetches on its own. RefreshConfig is the only trigger.
type ManualPoller struct {
	engine *Engine
	closed atomic.Bool
}

// NewManualPoller creates a manual poller
func NewManualPoller(engine *Engine) *ManualPoller {
	return &ManualPoller{engine: engine}
}

// GetConfig returns the cached config, nil until the first refresh
func (m *ManualPoller) GetConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.engine.Cached(ctx), nil
}

// RefreshConfig fetches and returns the resulting config
func (m *ManualPoller) RefreshConfig(ctx context.Context) (*domain.ProjectConfig, error) {
	if m.closed.Load() {
		return m.GetConfig(ctx)
	}

	res, err := m.engine.Refresh(ctx, m.engine.Cached(ctx))
	return res.Config, err
}

func (m *ManualPoller) Close() error {
	m.closed.Store(true)
	return m.engine.Close()
}
