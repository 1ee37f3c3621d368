package configservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// ErrClosed is returned by Start after Close
var ErrClosed = errors.New("config service is closed")

// Service delivers the current config. Each call completes exactly once;
// a nil config means none has been fetched yet.
type Service interface {
	// GetConfig returns the config the strategy considers current
	GetConfig(ctx context.Context) (*domain.ProjectConfig, error)

	// RefreshConfig forces a refresh and returns the resulting config
	RefreshConfig(ctx context.Context) (*domain.ProjectConfig, error)

	// Close stops background work. No Fetcher call happens afterwards.
	Close() error
}

// Starter is implemented by services with background work
type Starter interface {
	Start(ctx context.Context) error
}

// New creates the service selected by cfg.Mode
func New(engine *Engine, cfg Config) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Mode {
	case ModeAuto:
		return NewAutoPoller(engine, cfg), nil
	case ModeLazy:
		return NewLazyLoader(engine, cfg), nil
	default:
		return NewManualPoller(engine), nil
	}
}
