package storage

import (
	"context"
	"sync"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// MockStorage is an in-process Storage for tests that need to count or
// fail cache calls.
type MockStorage struct {
	mu      sync.Mutex
	entries map[string]*domain.ProjectConfig

	// Mock behaviors
	GetFunc func(ctx context.Context, key string) (*domain.ProjectConfig, error)
	SetFunc func(ctx context.Context, key string, cfg *domain.ProjectConfig) error

	// Call tracking
	getCalls    int
	setCalls    int
	deleteCalls int
}

// NewMockStorage creates an empty mock
func NewMockStorage() *MockStorage {
	return &MockStorage{entries: make(map[string]*domain.ProjectConfig)}
}

func (m *MockStorage) Get(ctx context.Context, key string) (*domain.ProjectConfig, error) {
	m.mu.Lock()
	m.getCalls++
	fn := m.GetFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.entries[key]
	if !ok {
		return nil, domain.NewNotFoundError("config", key)
	}
	return cfg, nil
}

func (m *MockStorage) Set(ctx context.Context, key string, cfg *domain.ProjectConfig) error {
	m.mu.Lock()
	m.setCalls++
	fn := m.SetFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, key, cfg)
	}

	m.mu.Lock()
	m.entries[key] = cfg
	m.mu.Unlock()
	return nil
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls++
	delete(m.entries, key)
	return nil
}

func (m *MockStorage) Close() error { return nil }

// GetCalls returns the number of Get calls
func (m *MockStorage) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// SetCalls returns the number of Set calls
func (m *MockStorage) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// DeleteCalls returns the number of Delete calls
func (m *MockStorage) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}
