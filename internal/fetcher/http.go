package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/circuit"
	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxMessageLen = 256

// HTTPFetcher downloads the config document with conditional GETs.
type HTTPFetcher struct {
	url        string
	source     string
	userAgent  string
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     logrus.FieldLogger
	now        func() time.Time
}

// HTTPOption configures an HTTPFetcher
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.httpClient = client
	}
}

// WithBreaker guards requests with a circuit breaker
func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(f *HTTPFetcher) {
		f.breaker = b
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates a fetcher for config.APIKey
func NewHTTPFetcher(config Config, opts ...HTTPOption) (*HTTPFetcher, error) {
	if config.APIKey == "" {
		return nil, domain.NewValidationError("api key is required")
	}

	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	f := &HTTPFetcher{
		url: fmt.Sprintf("%s/configuration-files/%s/config_v2.json",
			strings.TrimRight(config.BaseURL, "/"), config.APIKey),
		source:     config.BaseURL,
		userAgent:  fmt.Sprintf("flagsync-go/%s-%s", config.Mode, Version),
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// NewBreaker returns a breaker that ignores client errors such as a bad key
func NewBreaker(cfg circuit.Config) *circuit.Breaker {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return !isClientError(err)
		}
	}
	return circuit.New(cfg)
}

// Fetch performs one conditional GET. No retries are made.
func (f *HTTPFetcher) Fetch(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error) {
	if f.breaker == nil {
		return f.fetch(ctx, last)
	}

	var cfg *domain.ProjectConfig
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		cfg, err = f.fetch(ctx, last)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if last != nil && last.ETag != "" {
		req.Header.Set("If-None-Match", last.ETag)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// url.Error carries the full URL, which embeds the API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, domain.NewFetchError(f.source, "request failed", err)
	}
	defer resp.Body.Close()

	log := f.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"status":     resp.StatusCode,
	})

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewFetchError(f.source, "failed to read response body", err)
		}

		cfg, err := domain.NewProjectConfig(f.now(), body, resp.Header.Get("ETag"))
		if err != nil {
			return nil, domain.NewFetchError(f.source, "invalid config document", err)
		}

		log.WithField("etag", cfg.ETag).Debug("config downloaded")
		return cfg, nil

	case http.StatusNotModified:
		log.Debug("config not modified")
		return nil, nil

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageLen))
		return nil, domain.NewFetchError(f.source, "unexpected status", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		})
	}
}
