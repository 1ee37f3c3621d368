package configservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/circuit"
	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/OrlandoBitencourt/flagsync/internal/storage"
	"github.com/OrlandoBitencourt/flagsync/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Result is the outcome of one refresh
type Result struct {
	// Config is the new config when Changed, otherwise the last one
	Config *domain.ProjectConfig

	// Changed reports a genuine change written to the cache
	Changed bool
}

// Engine fetches the config document and writes genuine changes to the
// cache under the credential key. Concurrent refreshes share one fetch.
//
// The shared fetch outlives the caller that started it: it is cancelled
// only by Close, so one caller giving up never aborts the others.
type Engine struct {
	key       string
	fetcher   fetcher.Fetcher
	cache     storage.Storage
	mode      Mode
	logger    logrus.FieldLogger
	telemetry telemetry.Provider

	group singleflight.Group

	life     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	lastErr  error
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(provider telemetry.Provider) EngineOption {
	return func(e *Engine) {
		if provider != nil {
			e.telemetry = provider
		}
	}
}

// WithMode labels refresh metrics with the polling mode
func WithMode(mode Mode) EngineOption {
	return func(e *Engine) {
		e.mode = mode
	}
}

// NewEngine creates an engine for the credential key
func NewEngine(key string, f fetcher.Fetcher, cache storage.Storage, opts ...EngineOption) (*Engine, error) {
	if key == "" {
		return nil, domain.NewValidationError("credential key is required")
	}
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}

	e := &Engine{
		key:       key,
		fetcher:   f,
		cache:     cache,
		mode:      ModeManual,
		logger:    logrus.StandardLogger(),
		telemetry: telemetry.NewNoOp(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.life, e.stop = context.WithCancel(context.Background())

	return e, nil
}

// Refresh asks the fetcher for anything newer than last. A fetch failure
// is logged and reported as no change; only ctx errors are returned.
// After Close no fetch is started and last is returned.
func (e *Engine) Refresh(ctx context.Context, last *domain.ProjectConfig) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Config: last}, err
	}

	ch := e.group.DoChan(e.key, func() (interface{}, error) {
		if !e.begin() {
			return nil, nil
		}
		defer e.inflight.Done()

		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		unbind := context.AfterFunc(e.life, cancel)
		defer unbind()

		return e.fetch(fctx, last), nil
	})

	select {
	case <-ctx.Done():
		return Result{Config: last}, ctx.Err()
	case res := <-ch:
		fresh, _ := res.Val.(*domain.ProjectConfig)
		if fresh == nil {
			return Result{Config: last}, nil
		}
		return Result{Config: fresh, Changed: true}, nil
	}
}

// begin registers a fetch unless the engine is closed
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Close cancels a fetch in flight and waits for it. Later refreshes
// return their last config without fetching.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.inflight.Wait()
	return nil
}

// fetch runs once per flight and returns the new config or nil
func (e *Engine) fetch(ctx context.Context, last *domain.ProjectConfig) *domain.ProjectConfig {
	ctx, span := e.telemetry.StartSpan(ctx, "configservice.refresh",
		telemetry.WithAttributes(telemetry.String("mode", string(e.mode))))
	defer span.End()

	start := time.Now()
	outcome := telemetry.OutcomeUnchanged
	defer func() {
		elapsed := time.Since(start)
		span.SetAttributes(telemetry.String("outcome", outcome), telemetry.Duration("duration_ms", elapsed))
		e.telemetry.RecordRefresh(ctx, string(e.mode), outcome, elapsed)
	}()

	fresh, err := e.fetcher.Fetch(ctx, last)
	if err != nil {
		outcome = telemetry.OutcomeFailed
		span.RecordError(err)

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.logger.WithError(err).Debug("config refresh cancelled")
			return nil
		case circuit.IsOpen(err):
			e.logger.WithError(err).Warn("origin circuit is open, keeping last config")
		default:
			e.logger.WithError(err).Error("config refresh failed, keeping last config")
		}
		e.setLastError(err)
		return nil
	}
	e.setLastError(nil)

	if fresh == nil {
		e.logger.Debug("config not modified")
		return nil
	}

	if err := e.cache.Set(ctx, e.key, fresh); err != nil {
		// the fresh config is still delivered to callers
		e.logger.WithError(err).Error("failed to write config to cache")
	}

	outcome = telemetry.OutcomeChanged
	span.SetAttributes(
		telemetry.Bool("changed", true),
		telemetry.String("etag", fresh.ETag),
		telemetry.Int("flags", len(fresh.Document)),
	)
	e.logger.WithField("etag", fresh.ETag).Info("config updated")
	return fresh
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// LastError returns the error of the latest completed fetch, or nil when
// it succeeded. Cancelled fetches leave it unchanged.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Cached returns the cached config, or nil when there is none
func (e *Engine) Cached(ctx context.Context) *domain.ProjectConfig {
	cfg, err := e.cache.Get(ctx, e.key)
	if err != nil {
		e.telemetry.RecordCacheMiss(ctx)
		if !domain.IsNotFound(err) && ctx.Err() == nil {
			e.logger.WithError(err).Error("failed to read config from cache")
		}
		return nil
	}

	e.telemetry.RecordCacheHit(ctx)
	return cfg
}

// Key returns the credential key
func (e *Engine) Key() string {
	return e.key
}
