package flagsync

import (
	"errors"
	"fmt"

	"github.com/OrlandoBitencourt/flagsync/internal/circuit"
	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// Error types that may be returned by flagsync operations. Fetch failures
// never fail an operation; they are reported by Client.LastRefreshError.

var (
	// ErrClosed is returned by Start after Stop
	ErrClosed = errors.New("flagsync: client is stopped")

	// ErrCircuitOpen matches a LastRefreshError skipped by the open circuit breaker
	ErrCircuitOpen = circuit.ErrOpen
)

// ConfigError indicates invalid configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
}

func newConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a *ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsFetchError reports whether err came from fetching the config, such as
// an origin error or an invalid document reported by LastRefreshError
func IsFetchError(err error) bool {
	return domain.IsFetchError(err)
}
