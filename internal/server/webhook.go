package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// HeaderWebhookSignature carries the hex HMAC-SHA256 of the request body
const HeaderWebhookSignature = "X-Webhook-Signature"

const maxWebhookBody = 64 << 10

// handleWebhook lets the config origin announce a change. Any accepted
// call triggers a refresh, the body is only used for the signature.
func (a *AdminServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if a.secret != "" && !verifySignature(a.secret, r.Header.Get(HeaderWebhookSignature), body) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	cfg, err := a.backend.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	a.logger.WithField("etag", etagOf(cfg)).Info("config refreshed by webhook")
	respondJSON(w, http.StatusOK, newConfigResponse(cfg, a.backend.LastRefreshError()))
}

func verifySignature(secret, signature string, body []byte) bool {
	if signature == "" {
		return false
	}

	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Sign returns the signature expected in HeaderWebhookSignature
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func etagOf(cfg *domain.ProjectConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.ETag
}
