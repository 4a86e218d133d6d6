package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/tidings/internal/auth"
)

// SecurityHeaders sets conservative response headers on every request.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// BearerAuth returns middleware that accepts only requests carrying a token
// from tokens in the Authorization header.
func BearerAuth(tokens *auth.TokenSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challengeAuth(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				challengeAuth(w, "invalid Authorization header format")
				return
			}

			name, ok := tokens.Verify(strings.TrimSpace(parts[1]))
			if !ok {
				slog.Debug("token validation failed", "remote_addr", r.RemoteAddr)
				invalidToken(w, "invalid token")
				return
			}

			slog.Debug("request authenticated", "token", name, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tidings"`)
	writeError(w, http.StatusUnauthorized, msg)
}

// invalidToken sends a 401 for requests with an unknown Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeError(w, http.StatusUnauthorized, msg)
}
