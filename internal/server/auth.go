package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/primaria-go/internal/logging"
)

// authMiddleware guards the admin routes (cache statistics, cache clearing,
// document change notifications) with a Bearer token. The chat and
// municipality routes stay public because the municipality widgets call them
// from residents' browsers.
//
// If apiKey is empty the middleware is a no-op; the server logs a single
// warning at startup. Rejected requests get 401 with a WWW-Authenticate
// challenge and a JSON error body. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token, ok := bearerToken(r)
		switch {
		case !ok:
			log.Warn("auth: missing Authorization header", slog.String("path", r.URL.Path))
			unauthorized(w, `Bearer realm="primaria"`, "authorization required")
			return
		case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path), slog.Bool("token_present", true))
			unauthorized(w, `Bearer realm="primaria", error="invalid_token"`, "invalid token")
			return
		}

		log.Debug("auth: admin request authorized", slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// unauthorized writes a 401 with the given challenge.
func unauthorized(w http.ResponseWriter, challenge, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeError(w, http.StatusUnauthorized, msg)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. ok is false if the header is absent, malformed or the token empty.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
