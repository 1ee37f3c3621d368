package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// Fetcher retrieves the remote config document.
//
// Fetch returns (nil, nil) when the origin has nothing newer than last.
// last may be nil or the empty sentinel.
type Fetcher interface {
	Fetch(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error)
}

// Polling modes reported in the User-Agent
const (
	ModeAutoPoll   = "a"
	ModeManualPoll = "m"
	ModeLazyLoad   = "l"
)

// Version is the client version reported in the User-Agent
const Version = "1.0.0"

// DefaultBaseURL is the public CDN serving config documents
const DefaultBaseURL = "https://cdn.configcat.com"

// Config holds HTTP fetcher configuration
type Config struct {
	// BaseURL of the config origin, without trailing slash
	BaseURL string

	// APIKey identifies the config document
	APIKey string

	// Mode is one of ModeAutoPoll, ModeManualPoll, ModeLazyLoad
	Mode string

	// Timeout for a single request
	Timeout time.Duration
}

// DefaultConfig returns default fetcher configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Mode:    ModeAutoPoll,
		Timeout: 30 * time.Second,
	}
}

// HTTPError is wrapped in a FetchError for responses other than 200 and 304
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// isClientError reports whether the origin rejected the request itself.
// A wrong API key should not trip the breaker the way an outage does.
func isClientError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
}
