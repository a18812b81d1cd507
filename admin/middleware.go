package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires the admin token as a bearer token or in the
// X-Cqnwatch-Token header. An empty token disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Cqnwatch-Token")
			if provided == "" {
				auth := r.Header.Get("Authorization")
				if auth == "" {
					writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
					return
				}
				scheme, value, ok := strings.Cut(auth, " ")
				if !ok || scheme != "Bearer" {
					writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				provided = value
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
