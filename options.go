package flagsync

import (
	"fmt"
	"net/http"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/OrlandoBitencourt/flagsync/internal/storage"
	"github.com/OrlandoBitencourt/flagsync/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Option configures a Client.
type Option func(*clientConfig) error

// Cache stores the latest config under the API key. Any implementation
// shared between processes lets them reuse each other's downloads.
type Cache = storage.Storage

// Fetcher downloads the config. Fetch returns (nil, nil) when the origin
// has nothing newer than last.
type Fetcher = fetcher.Fetcher

// TelemetryProvider records traces and metrics
type TelemetryProvider = telemetry.Provider

// clientConfig holds the internal configuration
type clientConfig struct {
	Config

	onConfigChanged func(*ProjectConfig)
	cache           Cache
	fetcher         Fetcher
	httpClient      *http.Client
	logger          logrus.FieldLogger
	telemetry       TelemetryProvider
	now             func() time.Time
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{Config: DefaultConfig()}
}

// WithConfig applies a full Config struct.
// This is an alternative to using individual options.
func WithConfig(cfg Config) Option {
	return func(c *clientConfig) error {
		c.Config = cfg
		return nil
	}
}

// WithAPIKey sets the key identifying the config document.
//
// Example: flagsync.WithAPIKey("PKDVCLf-Hq-h-kCzMp-L7Q/psuH7BGHoUmdONrzzUOY7A")
func WithAPIKey(apiKey string) Option {
	return func(c *clientConfig) error {
		if apiKey == "" {
			return newConfigError("api_key", "api key cannot be empty")
		}
		c.APIKey = apiKey
		return nil
	}
}

// WithBaseURL overrides the CDN base URL, e.g. for a proxy.
func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) error {
		if baseURL == "" {
			return newConfigError("base_url", "base url cannot be empty")
		}
		c.BaseURL = baseURL
		return nil
	}
}

// WithAutoPoll refreshes in the background every interval.
// Evaluations never wait on the network once the first config arrived.
//
// Example: flagsync.WithAutoPoll(30 * time.Second)
func WithAutoPoll(interval time.Duration) Option {
	return func(c *clientConfig) error {
		if interval <= 0 {
			return newConfigError("poll_interval", "must be positive, got %s", interval)
		}
		c.Mode = ModeAuto
		c.PollInterval = interval
		return nil
	}
}

// WithManualPoll disables automatic downloads. Call Client.Refresh to
// download a new config.
func WithManualPoll() Option {
	return func(c *clientConfig) error {
		c.Mode = ModeManual
		return nil
	}
}

// WithLazyLoad downloads on demand when the cached config is older than ttl.
//
// Example: flagsync.WithLazyLoad(5 * time.Minute)
func WithLazyLoad(ttl time.Duration) Option {
	return func(c *clientConfig) error {
		if ttl <= 0 {
			return newConfigError("cache_ttl", "must be positive, got %s", ttl)
		}
		c.Mode = ModeLazy
		c.CacheTTL = ttl
		return nil
	}
}

// WithMaxInitWait bounds how long evaluations wait for the first auto poll.
func WithMaxInitWait(wait time.Duration) Option {
	return func(c *clientConfig) error {
		if wait < 0 {
			return newConfigError("max_init_wait", "must not be negative, got %s", wait)
		}
		c.MaxInitWait = wait
		return nil
	}
}

// WithOnConfigChanged registers a callback invoked once per new config
// in auto poll mode. It runs on the polling goroutine.
func WithOnConfigChanged(fn func(cfg *ProjectConfig)) Option {
	return func(c *clientConfig) error {
		c.onConfigChanged = fn
		return nil
	}
}

// WithHTTPTimeout sets the timeout for config downloads.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		if timeout <= 0 {
			return newConfigError("http_timeout", "must be positive, got %s", timeout)
		}
		c.HTTPTimeout = timeout
		return nil
	}
}

// WithHTTPClient replaces the http.Client used for downloads.
// WithHTTPTimeout is ignored when set.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) error {
		c.httpClient = client
		return nil
	}
}

// WithCircuitBreaker configures the breaker guarding downloads.
// After maxFailures consecutive failures, downloads are skipped for coolDown.
// A non-positive maxFailures disables the breaker.
//
// Example: flagsync.WithCircuitBreaker(3, 30*time.Second)
func WithCircuitBreaker(maxFailures int, coolDown time.Duration) Option {
	return func(c *clientConfig) error {
		if maxFailures <= 0 {
			c.CircuitBreaker.Enabled = false
			return nil
		}
		if coolDown <= 0 {
			return newConfigError("circuit_breaker.cool_down", "must be positive, got %s", coolDown)
		}
		c.CircuitBreaker = CircuitBreakerConfig{
			Enabled:     true,
			MaxFailures: maxFailures,
			CoolDown:    coolDown,
		}
		return nil
	}
}

// WithCache uses a caller owned cache. The client does not close it.
func WithCache(cache Cache) Option {
	return func(c *clientConfig) error {
		if cache == nil {
			return newConfigError("cache", "cache cannot be nil")
		}
		c.cache = cache
		return nil
	}
}

// WithRedisCache shares the config between processes through redis.
//
// Example: flagsync.WithRedisCache("redis://localhost:6379/0")
func WithRedisCache(url string) Option {
	return func(c *clientConfig) error {
		if url == "" {
			return newConfigError("redis_url", "redis url cannot be empty")
		}
		c.RedisURL = url
		c.DiskCacheDir = ""
		return nil
	}
}

// WithDiskCache keeps the config in dir so restarts begin with the last
// downloaded config.
func WithDiskCache(dir string) Option {
	return func(c *clientConfig) error {
		if dir == "" {
			return newConfigError("disk_cache_dir", "directory cannot be empty")
		}
		c.DiskCacheDir = dir
		c.RedisURL = ""
		return nil
	}
}

// WithConfigFile reads the config from a local JSON or YAML file instead
// of the CDN. Edits to the file trigger a refresh while the client runs.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) error {
		if path == "" {
			return newConfigError("config_file", "path cannot be empty")
		}
		c.ConfigFile = path
		return nil
	}
}

// WithFetcher replaces the config source entirely.
func WithFetcher(f Fetcher) Option {
	return func(c *clientConfig) error {
		if f == nil {
			return newConfigError("fetcher", "fetcher cannot be nil")
		}
		c.fetcher = f
		return nil
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *clientConfig) error {
		if logger == nil {
			return newConfigError("logger", "logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTelemetry records traces and metrics through provider.
//
// Example:
//
//	provider, _ := flagsync.NewOTelTelemetry()
//	client, _ := flagsync.New(flagsync.WithAPIKey(key), flagsync.WithTelemetry(provider))
func WithTelemetry(provider TelemetryProvider) Option {
	return func(c *clientConfig) error {
		c.telemetry = provider
		return nil
	}
}

// WithAdminServer enables the admin HTTP server on addr.
//
// Endpoints:
//   - GET /health
//   - GET /admin/config - loaded config summary
//   - POST /admin/refresh - force a download
//   - GET /admin/evaluate/{key} - evaluate a flag for a query user
//   - POST /webhook - refresh on notification
//
// Example: flagsync.WithAdminServer(":9090")
func WithAdminServer(addr string) Option {
	return func(c *clientConfig) error {
		if addr == "" {
			return newConfigError("admin_addr", "address cannot be empty")
		}
		c.AdminAddr = addr
		return nil
	}
}

// WithWebhookSecret requires POST /webhook requests to carry an
// X-Webhook-Signature HMAC-SHA256 of the body keyed with secret.
func WithWebhookSecret(secret string) Option {
	return func(c *clientConfig) error {
		c.WebhookSecret = secret
		return nil
	}
}

// withClock injects the time source, used by tests
func withClock(now func() time.Time) Option {
	return func(c *clientConfig) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// NewOTelTelemetry returns a provider recording through the global
// OpenTelemetry tracer and meter providers.
func NewOTelTelemetry() (TelemetryProvider, error) {
	provider, err := telemetry.NewOTel()
	if err != nil {
		return nil, err
	}
	return provider, nil
}
