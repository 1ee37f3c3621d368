package configservice

import (
	"fmt"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// Mode selects the polling strategy
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
	ModeLazy   Mode = "lazy"
)

// Config holds polling configuration
type Config struct {
	Mode Mode

	// Auto polling
	PollInterval time.Duration
	MaxInitWait  time.Duration

	// OnConfigChanged is called by the auto poller after a refresh that
	// produced a new config. It runs on the polling goroutine.
	OnConfigChanged func(cfg *domain.ProjectConfig)

	// Lazy loading
	CacheTTL time.Duration

	// Now overrides the clock, used by tests
	Now func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Mode:         ModeAuto,
		PollInterval: 60 * time.Second,
		MaxInitWait:  5 * time.Second,
		CacheTTL:     60 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAuto:
		if c.PollInterval <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
		if c.MaxInitWait < 0 {
			return fmt.Errorf("max init wait must not be negative")
		}

	case ModeManual:

	case ModeLazy:
		if c.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}

	default:
		return fmt.Errorf("invalid polling mode: %q (must be 'auto', 'manual' or 'lazy')", c.Mode)
	}

	return nil
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
