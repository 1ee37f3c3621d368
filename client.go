// Package flagsync downloads a feature flag config, keeps it fresh with
// auto, manual or lazy polling, and evaluates flags for users through
// targeting rules and percentage rollouts.
package flagsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/circuit"
	"github.com/OrlandoBitencourt/flagsync/internal/configservice"
	"github.com/OrlandoBitencourt/flagsync/internal/evaluator"
	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/OrlandoBitencourt/flagsync/internal/server"
	"github.com/OrlandoBitencourt/flagsync/internal/storage"
	"github.com/OrlandoBitencourt/flagsync/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	redisConnectTimeout = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

var _ server.Backend = (*Client)(nil)

// Client is the main entry point for flagsync.
// It is safe for concurrent use.
type Client struct {
	engine    *configservice.Engine
	service   configservice.Service
	evaluator *evaluator.RolloutEvaluator
	cache     Cache
	ownsCache bool
	breaker   *circuit.Breaker
	file      *fetcher.FileFetcher
	admin     *server.AdminServer
	logger    logrus.FieldLogger
	telemetry TelemetryProvider

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Metrics is a point in time view of the client internals.
type Metrics struct {
	Cache           storage.Metrics
	CircuitState    string
	CircuitFailures int

	// LastRefreshError is the failure of the latest refresh, nil after a success
	LastRefreshError error
}

// New creates a new client with the given options.
//
// Example:
//
//	client, err := flagsync.New(
//	    flagsync.WithAPIKey("PKDVCLf-Hq-h-kCzMp-L7Q/psuH7BGHoUmdONrzzUOY7A"),
//	    flagsync.WithAutoPoll(30 * time.Second),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}
	if cfg.telemetry == nil {
		cfg.telemetry = telemetry.NewNoOp()
	}

	c := &Client{
		logger:    cfg.logger.WithField("component", "flagsync"),
		telemetry: cfg.telemetry,
	}

	if err := c.initCache(cfg); err != nil {
		return nil, err
	}

	if err := c.initService(cfg); err != nil {
		c.closeCache()
		return nil, err
	}

	c.evaluator = evaluator.New(
		evaluator.WithLogger(c.logger),
		evaluator.WithTelemetry(c.telemetry),
	)

	if cfg.AdminAddr != "" {
		c.admin = server.NewAdminServer(c, cfg.AdminAddr,
			server.WithWebhookSecret(cfg.WebhookSecret),
			server.WithLogger(c.logger),
		)
	}

	return c, nil
}

// NewFromConfig creates a client from a Config, typically one returned by
// LoadConfig. Options are applied on top of cfg.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	return New(append([]Option{WithConfig(cfg)}, opts...)...)
}

func (c *Client) initCache(cfg *clientConfig) error {
	switch {
	case cfg.cache != nil:
		c.cache = cfg.cache

	case cfg.RedisURL != "":
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		defer cancel()

		redisCache, err := storage.NewRedisStorage(ctx, cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("failed to create redis cache: %w", err)
		}
		c.cache, c.ownsCache = redisCache, true

	case cfg.DiskCacheDir != "":
		diskCache, err := storage.NewDiskStorage(cfg.DiskCacheDir)
		if err != nil {
			return fmt.Errorf("failed to create disk cache: %w", err)
		}
		c.cache, c.ownsCache = diskCache, true

	default:
		memCache, err := storage.NewMemoryStorage(storage.DefaultConfig())
		if err != nil {
			return fmt.Errorf("failed to create memory cache: %w", err)
		}
		c.cache, c.ownsCache = memCache, true
	}

	return nil
}

func (c *Client) initService(cfg *clientConfig) error {
	mode := configservice.Mode(cfg.Mode)

	f, err := c.newFetcher(cfg)
	if err != nil {
		return err
	}

	engine, err := configservice.NewEngine(cfg.APIKey, f, c.cache,
		configservice.WithLogger(c.logger),
		configservice.WithTelemetry(c.telemetry),
		configservice.WithMode(mode),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}
	c.engine = engine

	c.service, err = configservice.New(engine, configservice.Config{
		Mode:            mode,
		PollInterval:    cfg.PollInterval,
		MaxInitWait:     cfg.MaxInitWait,
		OnConfigChanged: cfg.onConfigChanged,
		CacheTTL:        cfg.CacheTTL,
		Now:             cfg.now,
	})
	if err != nil {
		return newConfigError("mode", "%v", err)
	}

	return nil
}

func (c *Client) newFetcher(cfg *clientConfig) (Fetcher, error) {
	if cfg.fetcher != nil {
		return cfg.fetcher, nil
	}

	if cfg.ConfigFile != "" {
		c.file = fetcher.NewFileFetcher(cfg.ConfigFile, c.logger)
		return c.file, nil
	}

	opts := []fetcher.HTTPOption{fetcher.WithLogger(c.logger)}
	if cfg.httpClient != nil {
		opts = append(opts, fetcher.WithHTTPClient(cfg.httpClient))
	}

	if cfg.CircuitBreaker.Enabled {
		c.breaker = fetcher.NewBreaker(circuit.Config{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			CoolDown:    cfg.CircuitBreaker.CoolDown,
			OnStateChange: func(from, to circuit.State) {
				c.logger.WithFields(logrus.Fields{
					"from": from.String(),
					"to":   to.String(),
				}).Warn("circuit breaker state changed")
				c.telemetry.RecordCircuitState(context.Background(), to.String())
			},
		})
		opts = append(opts, fetcher.WithBreaker(c.breaker))
	}

	f, err := fetcher.NewHTTPFetcher(fetcher.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Mode:    fetcherMode(cfg.Mode),
		Timeout: cfg.HTTPTimeout,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	return f, nil
}

func fetcherMode(mode string) string {
	switch mode {
	case ModeManual:
		return fetcher.ModeManualPoll
	case ModeLazy:
		return fetcher.ModeLazyLoad
	default:
		return fetcher.ModeAutoPoll
	}
}

// Start begins background processes: auto polling, the config file
// watcher and the admin server, depending on the options. It does not
// wait for the first download; evaluations in auto poll mode wait up to
// the max init wait instead.
//
// Background work stops when ctx is done or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrClosed
	}
	if c.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	if starter, ok := c.service.(configservice.Starter); ok {
		if err := starter.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start polling: %w", err)
		}
	}

	if c.file != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.watchFile(runCtx)
		}()
	}

	if c.admin != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.admin.Start(); err != nil {
				c.logger.WithError(err).Error("admin server error")
			}
		}()
	}

	c.cancel = cancel
	c.started = true
	return nil
}

func (c *Client) watchFile(ctx context.Context) {
	err := c.file.Watch(ctx, func() {
		if _, err := c.service.RefreshConfig(ctx); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Warn("refresh after config file change failed")
		}
	})
	if err != nil {
		c.logger.WithError(err).Error("config file watcher stopped")
	}
}

// Stop gracefully shuts down the client and its background processes.
// No download happens after Stop returns. Caches created by the client
// are closed; caches passed with WithCache are left open.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	var errs []error

	if c.admin != nil {
		ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
		done()
	}

	if cancel != nil {
		cancel()
	}

	if err := c.service.Close(); err != nil {
		errs = append(errs, fmt.Errorf("config service close: %w", err))
	}

	c.wg.Wait()

	if err := c.telemetry.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	if c.ownsCache {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c *Client) closeCache() {
	if c.ownsCache {
		_ = c.cache.Close()
	}
}

// Snapshot returns the config evaluations currently use, following the
// polling mode: lazy load may download, auto and manual poll do not.
// A nil config means none has been fetched yet.
func (c *Client) Snapshot(ctx context.Context) (*ProjectConfig, error) {
	return c.service.GetConfig(ctx)
}

// Refresh forces a download and returns the resulting config. A failed
// download is logged and the previous config returned.
func (c *Client) Refresh(ctx context.Context) (*ProjectConfig, error) {
	return c.service.RefreshConfig(ctx)
}

// Keys returns the sorted keys of the current config.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	cfg, err := c.service.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Keys(), nil
}

// GetValue evaluates key for user and returns defaultValue when the
// flag cannot be evaluated. user may be nil.
//
// Example:
//
//	value := client.GetValue(ctx, "theme", "light", flagsync.NewUser("user-123"))
func (c *Client) GetValue(ctx context.Context, key string, defaultValue any, user *User) any {
	return c.EvaluateDetail(ctx, key, defaultValue, user).Value
}

// EvaluateDetail evaluates key and reports how the value was chosen.
func (c *Client) EvaluateDetail(ctx context.Context, key string, defaultValue any, user *User) EvaluationDetail {
	cfg, err := c.service.GetConfig(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("config unavailable, evaluating without it")
	}
	return c.evaluator.EvaluateDetail(ctx, cfg, key, defaultValue, user)
}

// Bool evaluates a flag and returns a boolean result.
// Returns defaultValue if the flag is not found or is not a boolean.
func (c *Client) Bool(ctx context.Context, key string, defaultValue bool, user *User) bool {
	v, ok := c.GetValue(ctx, key, defaultValue, user).(bool)
	if !ok {
		c.typeMismatch(key, "bool")
		return defaultValue
	}
	return v
}

// String evaluates a flag and returns a string result.
// Returns defaultValue if the flag is not found or is not a string.
func (c *Client) String(ctx context.Context, key string, defaultValue string, user *User) string {
	v, ok := c.GetValue(ctx, key, defaultValue, user).(string)
	if !ok {
		c.typeMismatch(key, "string")
		return defaultValue
	}
	return v
}

// Int evaluates a flag and returns an integer result.
// Returns defaultValue if the flag is not found or is not a whole number.
func (c *Client) Int(ctx context.Context, key string, defaultValue int, user *User) int {
	switch v := c.GetValue(ctx, key, defaultValue, user).(type) {
	case int:
		return v
	case float64:
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive
		if v == math.Trunc(v) && v >= float64(math.MinInt) && v < -float64(math.MinInt) {
			return int(v)
		}
	}
	c.typeMismatch(key, "int")
	return defaultValue
}

// Float evaluates a flag and returns a float result.
// Returns defaultValue if the flag is not found or is not a number.
func (c *Client) Float(ctx context.Context, key string, defaultValue float64, user *User) float64 {
	switch v := c.GetValue(ctx, key, defaultValue, user).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	c.typeMismatch(key, "float")
	return defaultValue
}

func (c *Client) typeMismatch(key, want string) {
	c.logger.WithFields(logrus.Fields{
		"key":  key,
		"want": want,
	}).Warn("flag value has an unexpected type, returning default")
}

// AdminHandler returns the admin API router for mounting in an existing
// server. It works whether or not WithAdminServer is set.
func (c *Client) AdminHandler(secret string) http.Handler {
	return server.NewAdminServer(c, "",
		server.WithWebhookSecret(secret),
		server.WithLogger(c.logger),
	).Handler()
}

// Metrics returns current cache and circuit breaker metrics.
func (c *Client) Metrics() Metrics {
	var m Metrics
	if reporter, ok := c.cache.(storage.MetricsReporter); ok {
		m.Cache = reporter.Metrics()
	}
	if c.breaker != nil {
		stats := c.breaker.Stats()
		m.CircuitState = stats.State.String()
		m.CircuitFailures = stats.Failures
	}
	m.LastRefreshError = c.LastRefreshError()
	return m
}

// LastRefreshError returns why the latest refresh failed, or nil when it
// succeeded or none ran yet. Refresh itself never reports fetch failures;
// use IsFetchError and errors.Is(err, ErrCircuitOpen) on this value.
func (c *Client) LastRefreshError() error {
	return c.engine.LastError()
}
