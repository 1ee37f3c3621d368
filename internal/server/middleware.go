package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

type contextKey string

const contextKeyUser contextKey = "flagsync_user"

// Request headers read by UserMiddleware
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserEmail   = "X-User-Email"
	HeaderUserCountry = "X-User-Country"

	// HeaderUserAttrPrefix prefixes custom attributes, e.g. X-User-Attr-Plan
	HeaderUserAttrPrefix = "X-User-Attr-"
)

// UserMiddleware puts the evaluation user described by the request headers
// into the request context. Requests without a user ID carry no user.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := userFromRequest(r); user != nil {
			r = r.WithContext(context.WithValue(r.Context(), contextKeyUser, user))
		}
		next.ServeHTTP(w, r)
	})
}

func userFromRequest(r *http.Request) *domain.User {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		if cookie, err := r.Cookie("user_id"); err == nil {
			id = cookie.Value
		}
	}
	if id == "" {
		return nil
	}

	user := domain.NewUser(id,
		domain.WithEmail(r.Header.Get(HeaderUserEmail)),
		domain.WithCountry(r.Header.Get(HeaderUserCountry)))

	for name, values := range r.Header {
		// header names are canonicalised, X-User-Attr-Plan stays as is
		if attr, ok := strings.CutPrefix(name, HeaderUserAttrPrefix); ok && attr != "" && len(values) > 0 {
			domain.WithCustom(strings.ToLower(attr), values[0])(user)
		}
	}
	return user
}

// UserFromContext returns the user stored by UserMiddleware
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(contextKeyUser).(*domain.User)
	return user, ok
}
