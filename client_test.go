package flagsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/fetcher"
	"github.com/OrlandoBitencourt/flagsync/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	client, err := New()

	require.Error(t, err)
	assert.Nil(t, client)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "api_key", cfgErr.Field)
}

func TestNew_OptionErrorsStopConstruction(t *testing.T) {
	_, err := New(WithAPIKey("key"), WithAutoPoll(0))
	assert.True(t, IsConfigError(err))

	_, err = New(WithAPIKey("key"), WithLazyLoad(-time.Second))
	assert.True(t, IsConfigError(err))
}

func TestClient_ManualPoll(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	client := newTestClient(t, cdn, WithManualPoll())
	ctx := context.Background()

	// nothing is downloaded until Refresh
	detail := client.EvaluateDetail(ctx, "flag", false, NewUser("u-1", WithEmail("a@example.com")))
	assert.Equal(t, false, detail.Value)
	assert.Equal(t, ReasonMissingConfig, detail.Reason)
	assert.Equal(t, 0, cdn.Requests())

	cfg, err := client.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, `"v1"`, cfg.ETag)
	assert.Equal(t, "/configuration-files/"+testAPIKey+"/config_v2.json", cdn.Path(0))

	assert.True(t, client.Bool(ctx, "flag", false, NewUser("u-1", WithEmail("a@example.com"))))
	assert.False(t, client.Bool(ctx, "flag", true, NewUser("u-1", WithEmail("a@other.com"))))

	// second refresh is conditional and keeps the same snapshot
	again, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, cfg, again)
	assert.Equal(t, 2, cdn.Requests())
	assert.Equal(t, "", cdn.IfNoneMatch(0))
	assert.Equal(t, `"v1"`, cdn.IfNoneMatch(1))
}

func TestClient_AutoPoll(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)

	var changes atomic.Int32
	client := newTestClient(t, cdn,
		WithAutoPoll(time.Hour),
		WithMaxInitWait(5*time.Second),
		WithOnConfigChanged(func(*ProjectConfig) { changes.Add(1) }),
	)

	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Start(ctx), "second Start is a no-op")

	// the first evaluation waits for the initial poll
	assert.Equal(t, "hello", client.String(ctx, "greeting", "", nil))
	assert.Eventually(t, func() bool { return changes.Load() == 1 }, time.Second, 10*time.Millisecond)

	keys, err := client.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "enabled", "flag", "greeting", "limit", "ratio"}, keys)

	require.NoError(t, client.Stop())
	assert.ErrorIs(t, client.Start(ctx), ErrClosed)

	// stopped clients never download again
	requests := cdn.Requests()
	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback", client.String(ctx, "missing", "fallback", nil))
	assert.Equal(t, requests, cdn.Requests())
}

func TestClient_AutoPollPicksUpChanges(t *testing.T) {
	cdn := NewMockCDN(t, `{"greeting": {"Value": "hello"}}`, `"v1"`)
	client := newTestClient(t, cdn, WithAutoPoll(20*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, client.Start(ctx))
	assert.Equal(t, "hello", client.String(ctx, "greeting", "", nil))

	cdn.SetDocument(`{"greeting": {"Value": "bye"}}`, `"v2"`)
	assert.Eventually(t, func() bool {
		return client.String(ctx, "greeting", "", nil) == "bye"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_LazyLoad(t *testing.T) {
	clock := newFakeClock()
	mock := fetcher.NewMockFetcher(
		fetcher.MockResult{Config: mustConfig(t, clock.Now(), testDocument, `"v1"`)},
		fetcher.MockResult{},
	)
	logger, _ := test.NewNullLogger()

	client, err := New(
		WithAPIKey(testAPIKey),
		WithFetcher(mock),
		WithLazyLoad(time.Minute),
		WithLogger(logger),
		withClock(clock.Now),
	)
	require.NoError(t, err)
	defer client.Stop()
	ctx := context.Background()

	assert.Equal(t, 42, client.Int(ctx, "limit", 0, nil))
	assert.Equal(t, 1, mock.Calls())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 42, client.Int(ctx, "limit", 0, nil))
	assert.Equal(t, 1, mock.Calls(), "fresh config is served from cache")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 42, client.Int(ctx, "limit", 0, nil))
	assert.Equal(t, 2, mock.Calls())
	assert.NotNil(t, mock.LastSeen(1))
}

func TestClient_TypedAccessors(t *testing.T) {
	mock := fetcher.NewMockFetcher(fetcher.MockResult{Config: mustConfig(t, time.Now(), testDocument, "")})
	logger, hook := test.NewNullLogger()

	client, err := New(WithAPIKey(testAPIKey), WithFetcher(mock), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()
	ctx := context.Background()

	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	hook.Reset()

	assert.True(t, client.Bool(ctx, "enabled", false, nil))
	assert.Equal(t, "hello", client.String(ctx, "greeting", "", nil))
	assert.Equal(t, 42, client.Int(ctx, "limit", 0, nil))
	assert.Equal(t, 42.0, client.Float(ctx, "limit", 0, nil))
	assert.Equal(t, 0.25, client.Float(ctx, "ratio", 0, nil))
	assert.Empty(t, hook.Entries)

	// mismatched types fall back to the default
	assert.Equal(t, 7, client.Int(ctx, "ratio", 7, nil))
	assert.Equal(t, "x", client.String(ctx, "enabled", "x", nil))
	assert.False(t, client.Bool(ctx, "greeting", false, nil))
	assert.Len(t, hook.Entries, 3)

	// unknown keys fall back too
	assert.Equal(t, "dflt", client.GetValue(ctx, "missing", "dflt", nil))
}

func TestClient_IntOutOfRange(t *testing.T) {
	const document = `{
	  "two_pow_63": {"Value": 9223372036854775808},
	  "huge": {"Value": 1e300},
	  "negative": {"Value": -2147483648}
	}`
	mock := fetcher.NewMockFetcher(fetcher.MockResult{Config: mustConfig(t, time.Now(), document, "")})
	logger, hook := test.NewNullLogger()

	client, err := New(WithAPIKey(testAPIKey), WithFetcher(mock), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()
	ctx := context.Background()

	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	hook.Reset()

	assert.Equal(t, -2147483648, client.Int(ctx, "negative", 0, nil))
	assert.Empty(t, hook.Entries)

	assert.Equal(t, 7, client.Int(ctx, "two_pow_63", 7, nil))
	assert.Equal(t, 7, client.Int(ctx, "huge", 7, nil))
	assert.Len(t, hook.Entries, 2)
}

func TestClient_PercentageRollout(t *testing.T) {
	mock := fetcher.NewMockFetcher(fetcher.MockResult{Config: mustConfig(t, time.Now(), testDocument, "")})
	logger, _ := test.NewNullLogger()

	client, err := New(WithAPIKey(testAPIKey), WithFetcher(mock), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()
	ctx := context.Background()

	_, err = client.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, "A", client.GetValue(ctx, "color", nil, NewUser("u-1")))
	assert.Equal(t, "A", client.GetValue(ctx, "color", nil, NewUser("u-2")))
	assert.Equal(t, "B", client.GetValue(ctx, "color", nil, NewUser("u-3")))
	assert.Equal(t, "red", client.GetValue(ctx, "color", nil, nil))

	detail := client.EvaluateDetail(ctx, "color", nil, NewUser("u-1"))
	assert.Equal(t, ReasonPercentage, detail.Reason)
	assert.Equal(t, 41, detail.Bucket)
}

func TestClient_FetchFailureKeepsPreviousConfig(t *testing.T) {
	first := mustConfig(t, time.Now(), testDocument, `"v1"`)
	mock := fetcher.NewMockFetcher(
		fetcher.MockResult{Config: first},
		fetcher.MockResult{Err: errors.New("connection refused")},
	)
	logger, _ := test.NewNullLogger()

	client, err := New(WithAPIKey(testAPIKey), WithFetcher(mock), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()
	ctx := context.Background()

	cfg, err := client.Refresh(ctx)
	require.NoError(t, err)
	require.Same(t, first, cfg)

	cfg, err = client.Refresh(ctx)
	require.NoError(t, err, "fetch failures are not surfaced")
	assert.Same(t, first, cfg)
	assert.Equal(t, 2, mock.Calls())
}

func TestClient_EmptyDocumentKeepsPreviousConfig(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	client := newTestClient(t, cdn, WithManualPoll())
	ctx := context.Background()

	first, err := client.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	cdn.SetDocument("", `"v2"`)
	cfg, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, first, cfg)

	assert.Equal(t, "hello", client.String(ctx, "greeting", "default", nil))
	assert.Equal(t, 2, cdn.Requests())

	err = client.LastRefreshError()
	assert.True(t, IsFetchError(err))
	assert.False(t, errors.Is(err, ErrCircuitOpen))

	// a good document clears the error
	cdn.SetDocument(testDocument, `"v3"`)
	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	assert.NoError(t, client.LastRefreshError())
}

func TestClient_CircuitBreaker(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	cdn.FailWith(http.StatusServiceUnavailable)

	client := newTestClient(t, cdn, WithManualPoll(), WithCircuitBreaker(2, time.Hour))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cfg, err := client.Refresh(ctx)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	}

	assert.Equal(t, 2, cdn.Requests(), "open breaker skips downloads")
	metrics := client.Metrics()
	assert.Equal(t, "open", metrics.CircuitState)
	assert.Equal(t, 2, metrics.CircuitFailures)
	assert.ErrorIs(t, metrics.LastRefreshError, ErrCircuitOpen)
	assert.ErrorIs(t, client.LastRefreshError(), ErrCircuitOpen)
}

func TestClient_CircuitBreakerIgnoresClientErrors(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	cdn.FailWith(http.StatusForbidden)

	client := newTestClient(t, cdn, WithManualPoll(), WithCircuitBreaker(1, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Refresh(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, cdn.Requests())
	assert.Equal(t, "closed", client.Metrics().CircuitState)
}

func TestClient_SharedCache(t *testing.T) {
	cache := storage.NewMockStorage()
	cdn := NewMockCDN(t, testDocument, `"v1"`)

	writer := newTestClient(t, cdn, WithManualPoll(), WithCache(cache))
	_, err := writer.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.SetCalls())

	// a second client reads what the first one downloaded
	reader := newTestClient(t, cdn, WithManualPoll(), WithCache(cache))
	assert.Equal(t, "hello", reader.String(context.Background(), "greeting", "", nil))
	assert.Equal(t, 1, cdn.Requests())

	// caller owned caches are not closed
	require.NoError(t, reader.Stop())
	cfg, err := cache.Get(context.Background(), testAPIKey)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestClient_DiskCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cdn := NewMockCDN(t, testDocument, `"v1"`)

	first := newTestClient(t, cdn, WithManualPoll(), WithDiskCache(dir))
	_, err := first.Refresh(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	cdn.FailWith(http.StatusInternalServerError)
	second := newTestClient(t, cdn, WithManualPoll(), WithDiskCache(dir))

	assert.Equal(t, "hello", second.String(context.Background(), "greeting", "", nil))
	assert.Equal(t, 1, cdn.Requests())
}

func TestClient_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("greeting:\n  Value: hi\n"), 0o644))

	logger, _ := test.NewNullLogger()
	client, err := New(WithAPIKey(testAPIKey), WithConfigFile(path), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()

	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	_, err = client.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", client.String(ctx, "greeting", "", nil))

	// edits are picked up by the watcher
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("greeting:\n  Value: hey\n"), 0o644)
		return client.String(ctx, "greeting", "", nil) == "hey"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestClient_AdminHandler(t *testing.T) {
	mock := fetcher.NewMockFetcher(fetcher.MockResult{Config: mustConfig(t, time.Now(), testDocument, `"v1"`)})
	logger, _ := test.NewNullLogger()

	client, err := New(WithAPIKey(testAPIKey), WithFetcher(mock), WithManualPoll(), WithLogger(logger))
	require.NoError(t, err)
	defer client.Stop()

	srv := httptest.NewServer(client.AdminHandler(""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, mock.Calls())

	resp, err = http.Get(srv.URL + "/admin/evaluate/flag?identifier=u-1&email=a@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Value  any    `json:"value"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body.Value)
	assert.Equal(t, "targeting_rule", body.Reason)
}

func TestClient_StopIsIdempotent(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	client := newTestClient(t, cdn, WithManualPoll())

	assert.NoError(t, client.Stop())
	assert.NoError(t, client.Stop())
}

func TestClient_CancelledContext(t *testing.T) {
	cdn := NewMockCDN(t, testDocument, `"v1"`)
	client := newTestClient(t, cdn, WithManualPoll())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "d", client.String(ctx, "greeting", "d", nil))
	assert.Equal(t, 0, cdn.Requests())
}
