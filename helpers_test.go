package flagsync

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key/abc"

const testDocument = `{
  "flag": {
    "Value": false,
    "RolloutRules": [
      {"ComparisonAttribute": "Email", "Comparator": 2, "ComparisonValue": "@example.com", "Value": true}
    ],
    "RolloutPercentageItems": []
  },
  "color": {
    "Value": "red",
    "RolloutRules": [],
    "RolloutPercentageItems": [
      {"Percentage": 50, "Value": "A"},
      {"Percentage": 50, "Value": "B"}
    ]
  },
  "enabled": {"Value": true},
  "greeting": {"Value": "hello"},
  "limit": {"Value": 42},
  "ratio": {"Value": 0.25}
}`

// MockCDN serves a single config document and honors If-None-Match
type MockCDN struct {
	*httptest.Server

	mu          sync.Mutex
	document    string
	etag        string
	status      int
	requests    int
	ifNoneMatch []string
	paths       []string
}

// NewMockCDN creates a CDN serving document under etag
func NewMockCDN(t *testing.T, document, etag string) *MockCDN {
	t.Helper()

	cdn := &MockCDN{document: document, etag: etag}
	cdn.Server = httptest.NewServer(http.HandlerFunc(cdn.handle))
	t.Cleanup(cdn.Close)
	return cdn
}

func (m *MockCDN) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.paths = append(m.paths, r.URL.Path)
	m.ifNoneMatch = append(m.ifNoneMatch, r.Header.Get("If-None-Match"))

	if m.status != 0 {
		w.WriteHeader(m.status)
		_, _ = w.Write([]byte("unavailable"))
		return
	}

	if m.etag != "" && r.Header.Get("If-None-Match") == m.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", m.etag)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(m.document))
}

// SetDocument replaces the served document
func (m *MockCDN) SetDocument(document, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.document, m.etag = document, etag
}

// FailWith makes every request answer status
func (m *MockCDN) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Requests returns the number of requests received
func (m *MockCDN) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// IfNoneMatch returns the If-None-Match header of request i
func (m *MockCDN) IfNoneMatch(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ifNoneMatch[i]
}

// Path returns the URL path of request i
func (m *MockCDN) Path(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths[i]
}

// newTestClient creates a client against cdn with a silent logger
func newTestClient(t *testing.T, cdn *MockCDN, opts ...Option) *Client {
	t.Helper()

	logger, _ := test.NewNullLogger()
	base := []Option{
		WithAPIKey(testAPIKey),
		WithBaseURL(cdn.URL),
		WithLogger(logger),
	}

	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Stop() })
	return client
}

// mustConfig builds a config from a raw document
func mustConfig(t *testing.T, ts time.Time, raw, etag string) *domain.ProjectConfig {
	t.Helper()
	cfg, err := domain.NewProjectConfig(ts, []byte(raw), etag)
	require.NoError(t, err)
	return cfg
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
