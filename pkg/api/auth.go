package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// AuthConfig lists the credentials the API accepts. Keys are presented as
// "Authorization: Bearer <key>" or "X-API-Key: <key>", users with HTTP
// basic auth. /health and /metrics never require credentials.
type AuthConfig struct {
	Users map[string]string // username -> password
	Keys  []string

	// OpenReads leaves GET endpoints open; reload still needs credentials.
	OpenReads bool
}

type principalKey struct{}

// principal returns the authenticated caller of r, or "" if the route is
// unauthenticated.
func principal(r *http.Request) string {
	p, _ := r.Context().Value(principalKey{}).(string)
	return p
}

// guard wraps an /api/v1 handler with the credential check. Handlers that
// change daemon state pass mutating so OpenReads does not cover them.
func (s *Server) guard(h http.HandlerFunc, mutating bool) http.HandlerFunc {
	if s.auth == nil || (s.auth.OpenReads && !mutating) {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := s.auth.authenticate(r)
		if !ok {
			slog.Debug("api: rejected unauthenticated request",
				"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="ipfwd"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, who)))
	}
}

// authenticate returns the caller's name: the basic-auth user, or
// "key#N" for the N-th configured key.
func (a *AuthConfig) authenticate(r *http.Request) (string, bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		want, exists := a.Users[user]
		if exists && secretEqual(pass, want) {
			return user, true
		}
		return "", false
	}

	key := r.Header.Get("X-API-Key")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		key = bearer
	}
	if key == "" {
		return "", false
	}
	for i, k := range a.Keys {
		if secretEqual(key, k) {
			return fmt.Sprintf("key#%d", i), true
		}
	}
	return "", false
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
