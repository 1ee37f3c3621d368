package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	// StateClosed lets every fetch through
	StateClosed State = iota
	// StateOpen rejects fetches until the cool-down elapses
	StateOpen
	// StateHalfOpen lets trial fetches through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is matched by errors.Is for every rejection.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute while the breaker rejects calls.
type OpenError struct {
	Failures    int
	LastFailure time.Time
	RetryAt     time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open (failures: %d, retry at %s)",
		e.Failures, e.RetryAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrOpen) succeed.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Config holds the breaker settings.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing
	CoolDown time.Duration

	// SuccessThreshold is the number of trial successes that closes it again
	SuccessThreshold int

	// IsFailure decides whether an error counts against the origin.
	// Defaults to every error except context cancellation.
	IsFailure func(err error) bool

	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(from, to State)
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      3,
		CoolDown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Stats is a point in time view of the breaker.
type Stats struct {
	State           State
	Failures        int
	TotalCalls      int64
	TotalFailures   int64
	TotalRejections int64
	LastFailure     time.Time
	LastStateChange time.Time
}

// Breaker stops calling a failing origin for a while.
type Breaker struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	state           State
	failures        int
	successes       int
	lastFailure     time.Time
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	defaults := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaults.CoolDown
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}

	b := &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
	b.lastStateChange = b.now()
	return b
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	b.totalCalls++

	if b.state == StateOpen {
		retryAt := b.lastStateChange.Add(b.cfg.CoolDown)
		if b.now().Before(retryAt) {
			b.totalRejections++
			err := &OpenError{Failures: b.failures, LastFailure: b.lastFailure, RetryAt: retryAt}
			b.mu.Unlock()
			return err
		}
		from := b.transition(StateHalfOpen)
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return nil
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()

	from := b.state
	var to State

	switch {
	case err == nil:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}

	case b.cfg.IsFailure(err):
		b.totalFailures++
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}
	}

	to = b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// transition must be called with mu held; it returns the previous state.
func (b *Breaker) transition(to State) State {
	from := b.state
	b.state = to
	b.successes = 0
	b.lastStateChange = b.now()
	return from
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.transition(StateClosed)
	b.failures = 0
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// Stats returns the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:           b.state,
		Failures:        b.failures,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}
