package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/OrlandoBitencourt/flagsync/internal/evaluator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Backend defines what the admin server needs from the client
type Backend interface {
	Snapshot(ctx context.Context) (*domain.ProjectConfig, error)
	Refresh(ctx context.Context) (*domain.ProjectConfig, error)
	EvaluateDetail(ctx context.Context, key string, defaultValue any, user *domain.User) evaluator.Detail
	LastRefreshError() error
}

// AdminServer exposes health, config inspection, forced refresh and
// evaluation over HTTP
type AdminServer struct {
	backend Backend
	addr    string
	secret  string
	logger  logrus.FieldLogger

	router *chi.Mux
	server *http.Server
}

// Option configures an AdminServer
type Option func(*AdminServer)

// WithWebhookSecret requires webhook calls to carry an HMAC-SHA256 signature
func WithWebhookSecret(secret string) Option {
	return func(a *AdminServer) {
		a.secret = secret
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *AdminServer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdminServer creates a new admin server listening on addr
func NewAdminServer(backend Backend, addr string, opts ...Option) *AdminServer {
	a := &AdminServer{
		backend: backend,
		addr:    addr,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.setupRoutes()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

func (a *AdminServer) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)

	r.Get("/health", a.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/config", a.handleConfig)
		r.Post("/refresh", a.handleRefresh)

		r.With(UserMiddleware).Get("/evaluate/{key}", a.handleEvaluate)
	})

	r.Post("/webhook", a.handleWebhook)

	a.router = r
}

// Handler returns the router, used by tests and embedding applications
func (a *AdminServer) Handler() http.Handler {
	return a.router
}

// Start starts the admin HTTP server. It blocks until Shutdown.
func (a *AdminServer) Start() error {
	a.logger.WithField("addr", a.addr).Info("admin server listening")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *AdminServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("admin request")
	})
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// configResponse describes the current snapshot without its raw document
type configResponse struct {
	Loaded    bool     `json:"loaded"`
	Timestamp string   `json:"timestamp,omitempty"`
	ETag      string   `json:"etag,omitempty"`
	Keys      []string `json:"keys"`
	LastError string   `json:"last_error,omitempty"`
}

func newConfigResponse(cfg *domain.ProjectConfig, lastErr error) configResponse {
	resp := configResponse{Keys: []string{}}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	if cfg.IsEmpty() {
		return resp
	}

	resp.Loaded = true
	resp.Timestamp = cfg.Timestamp.UTC().Format(time.RFC3339Nano)
	resp.ETag = cfg.ETag
	resp.Keys = cfg.Keys()
	return resp
}

func (a *AdminServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.backend.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	respondJSON(w, http.StatusOK, newConfigResponse(cfg, a.backend.LastRefreshError()))
}

func (a *AdminServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.backend.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	respondJSON(w, http.StatusOK, newConfigResponse(cfg, a.backend.LastRefreshError()))
}

type evaluateResponse struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Reason      string `json:"reason"`
	MatchedRule int    `json:"matched_rule"`
	Bucket      int    `json:"bucket"`
}

func (a *AdminServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	query := r.URL.Query()

	user := userFromQuery(query)
	if user == nil {
		user, _ = UserFromContext(r.Context())
	}

	var def any
	if query.Has("default") {
		def = query.Get("default")
	}

	detail := a.backend.EvaluateDetail(r.Context(), key, def, user)
	respondJSON(w, http.StatusOK, evaluateResponse{
		Key:         detail.Key,
		Value:       detail.Value,
		Reason:      string(detail.Reason),
		MatchedRule: detail.MatchedRule,
		Bucket:      detail.Bucket,
	})
}

// userFromQuery builds a user from identifier, email, country and
// custom.<name> parameters. It returns nil without an identifier.
func userFromQuery(query map[string][]string) *domain.User {
	get := func(name string) string {
		if v := query[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	identifier := get("identifier")
	if identifier == "" {
		return nil
	}

	user := domain.NewUser(identifier,
		domain.WithEmail(get("email")),
		domain.WithCountry(get("country")))

	for name, values := range query {
		if attr, ok := strings.CutPrefix(name, "custom."); ok && attr != "" && len(values) > 0 {
			domain.WithCustom(attr, values[0])(user)
		}
	}
	return user
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
