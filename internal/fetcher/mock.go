package fetcher

import (
	"context"
	"sync"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// MockFetcher is a mock implementation of Fetcher for testing
type MockFetcher struct {
	mu sync.Mutex

	// Scripted results, consumed in order. The last one repeats.
	results []MockResult

	// FetchFunc overrides the script when set
	FetchFunc func(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error)

	calls int
	lasts []*domain.ProjectConfig
}

// MockResult is one scripted Fetch outcome
type MockResult struct {
	Config *domain.ProjectConfig
	Err    error
}

// NewMockFetcher creates a mock that returns results in order
func NewMockFetcher(results ...MockResult) *MockFetcher {
	return &MockFetcher{results: results}
}

// Push appends scripted results
func (m *MockFetcher) Push(results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
}

func (m *MockFetcher) Fetch(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error) {
	m.mu.Lock()
	m.calls++
	m.lasts = append(m.lasts, last)
	fn := m.FetchFunc

	var result MockResult
	switch len(m.results) {
	case 0:
	case 1:
		result = m.results[0]
	default:
		result = m.results[0]
		m.results = m.results[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, last)
	}
	return result.Config, result.Err
}

// Calls returns the number of Fetch calls
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastSeen returns the last argument of the i-th call
func (m *MockFetcher) LastSeen(i int) *domain.ProjectConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lasts[i]
}
