package flagsync

import (
	"fmt"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Polling modes
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
	ModeLazy   = "lazy"
)

// Config holds all configuration for a flagsync client. It can be built
// in code, starting from DefaultConfig, or loaded from the environment
// with LoadConfig.
type Config struct {
	// APIKey identifies the config to download and keys the cache
	APIKey string `env:"FLAGSYNC_API_KEY"`

	// BaseURL of the config CDN
	BaseURL string `env:"FLAGSYNC_BASE_URL" envDefault:"https://cdn.configcat.com"`

	// Mode is one of "auto", "manual" or "lazy"
	Mode string `env:"FLAGSYNC_MODE" envDefault:"auto"`

	// PollInterval is the auto poll period
	PollInterval time.Duration `env:"FLAGSYNC_POLL_INTERVAL" envDefault:"60s"`

	// MaxInitWait bounds how long the first auto poll GetConfig waits
	MaxInitWait time.Duration `env:"FLAGSYNC_MAX_INIT_WAIT" envDefault:"5s"`

	// CacheTTL is the lazy load freshness window
	CacheTTL time.Duration `env:"FLAGSYNC_CACHE_TTL" envDefault:"60s"`

	// HTTPTimeout for config downloads
	HTTPTimeout time.Duration `env:"FLAGSYNC_HTTP_TIMEOUT" envDefault:"30s"`

	// ConfigFile reads the config from a local JSON or YAML file
	// instead of the CDN. The file is watched for edits.
	ConfigFile string `env:"FLAGSYNC_CONFIG_FILE"`

	// RedisURL selects the redis cache, e.g. redis://localhost:6379/0
	RedisURL string `env:"FLAGSYNC_REDIS_URL"`

	// DiskCacheDir selects the file cache
	DiskCacheDir string `env:"FLAGSYNC_DISK_CACHE_DIR"`

	// AdminAddr enables the admin HTTP server, e.g. ":9090"
	AdminAddr string `env:"FLAGSYNC_ADMIN_ADDR"`

	// WebhookSecret verifies POST /webhook signatures when set
	WebhookSecret string `env:"FLAGSYNC_WEBHOOK_SECRET"`

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig `envPrefix:"FLAGSYNC_CIRCUIT_"`
}

// CircuitBreakerConfig configures the breaker guarding CDN downloads.
type CircuitBreakerConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// MaxFailures is the number of consecutive failures before opening
	MaxFailures int `env:"MAX_FAILURES" envDefault:"3"`

	// CoolDown is how long to wait before probing again
	CoolDown time.Duration `env:"COOL_DOWN" envDefault:"30s"`
}

// DefaultConfig returns recommended default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:      fetcher.DefaultBaseURL,
		Mode:         ModeAuto,
		PollInterval: 60 * time.Second,
		MaxInitWait:  5 * time.Second,
		CacheTTL:     60 * time.Second,
		HTTPTimeout:  30 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			MaxFailures: 3,
			CoolDown:    30 * time.Second,
		},
	}
}

// LoadConfig reads the configuration from FLAGSYNC_* environment
// variables. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func LoadConfig() (Config, error) {
	// the .env file is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and returns a *ConfigError for the
// first invalid field.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return newConfigError("api_key", "api key is required")
	}

	switch c.Mode {
	case ModeAuto:
		if c.PollInterval <= 0 {
			return newConfigError("poll_interval", "must be positive, got %s", c.PollInterval)
		}
		if c.MaxInitWait < 0 {
			return newConfigError("max_init_wait", "must not be negative, got %s", c.MaxInitWait)
		}
	case ModeLazy:
		if c.CacheTTL <= 0 {
			return newConfigError("cache_ttl", "must be positive, got %s", c.CacheTTL)
		}
	case ModeManual:
	default:
		return newConfigError("mode", "unknown mode %q, want auto, manual or lazy", c.Mode)
	}

	if c.HTTPTimeout < 0 {
		return newConfigError("http_timeout", "must not be negative, got %s", c.HTTPTimeout)
	}

	if c.RedisURL != "" && c.DiskCacheDir != "" {
		return newConfigError("cache", "redis and disk cache are mutually exclusive")
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxFailures <= 0 {
			return newConfigError("circuit_breaker.max_failures", "must be positive, got %d", c.CircuitBreaker.MaxFailures)
		}
		if c.CircuitBreaker.CoolDown <= 0 {
			return newConfigError("circuit_breaker.cool_down", "must be positive, got %s", c.CircuitBreaker.CoolDown)
		}
	}

	return nil
}
