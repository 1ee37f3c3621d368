package configservice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/OrlandoBitencourt/flagsync/internal/storage"
	"github.com/OrlandoBitencourt/flagsync/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testKey = "test-api-key"

func newTestConfig(t *testing.T, ts time.Time, etag string) *domain.ProjectConfig {
	t.Helper()
	raw := fmt.Sprintf(`{"flag": {"Value": %q}}`, etag)
	cfg, err := domain.NewProjectConfig(ts, []byte(raw), etag)
	require.NoError(t, err)
	return cfg
}

func newTestEngine(t *testing.T, f fetcher.Fetcher, opts ...EngineOption) (*Engine, *storage.MockStorage, *test.Hook) {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cache := storage.NewMockStorage()

	opts = append([]EngineOption{WithLogger(logger)}, opts...)
	engine, err := NewEngine(testKey, f, cache, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine, cache, hook
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// refreshRecorder counts refresh outcomes
type refreshRecorder struct {
	*telemetry.NoOpProvider

	mu       sync.Mutex
	outcomes []string
	hits     int
	misses   int
}

func newRefreshRecorder() *refreshRecorder {
	return &refreshRecorder{NoOpProvider: telemetry.NewNoOp()}
}

func (r *refreshRecorder) RecordRefresh(ctx context.Context, mode string, outcome string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, mode+":"+outcome)
}

func (r *refreshRecorder) RecordCacheHit(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

func (r *refreshRecorder) RecordCacheMiss(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func (r *refreshRecorder) Outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

func hasLevel(hook *test.Hook, level logrus.Level) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == level {
			return true
		}
	}
	return false
}
