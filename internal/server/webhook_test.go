package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhook_TriggersRefresh(t *testing.T) {
	backend := newMockBackend(t)
	h := newTestServer(t, backend)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"event":"config.updated"}`))
	w, body := do(t, h, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"v1"`, body["etag"])
	assert.Equal(t, 1, backend.refreshCalls)
}

func TestWebhook_Signature(t *testing.T) {
	const secret = "s3cret"
	payload := []byte(`{"event":"config.updated"}`)

	tests := []struct {
		name      string
		signature string
		wantCode  int
	}{
		{"valid", Sign(secret, payload), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", Sign("other", payload), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend(t)
			h := newTestServer(t, backend, WithWebhookSecret(secret))

			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set(HeaderWebhookSignature, tt.signature)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)

			wantCalls := 0
			if tt.wantCode == http.StatusOK {
				wantCalls = 1
			}
			assert.Equal(t, wantCalls, backend.refreshCalls)
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	const secret = "s3cret"
	payload := bytes.Repeat([]byte("x"), maxWebhookBody+1)

	backend := newMockBackend(t)
	h := newTestServer(t, backend, WithWebhookSecret(secret))

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(HeaderWebhookSignature, Sign(secret, payload))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, backend.refreshCalls)
}

func TestWebhook_BodyAtLimit(t *testing.T) {
	const secret = "s3cret"
	payload := bytes.Repeat([]byte("x"), maxWebhookBody)

	backend := newMockBackend(t)
	h := newTestServer(t, backend, WithWebhookSecret(secret))

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(HeaderWebhookSignature, Sign(secret, payload))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, backend.refreshCalls)
}
