package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperrors "github.com/uvaco/cardauth/internal/http/errors"
)

// WithAPIKey requires the deployment's public key on each request, via the
// apikey header or an Authorization bearer. This authorizes "a legitimate
// client of this deployment", not a user; end-user identity never reaches
// these endpoints. An empty configured key disables the check (dev).
func WithAPIKey(key string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimSpace(r.Header.Get("apikey"))
			if got == "" {
				got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httperrors.Write(w, httperrors.ErrMissingAPIKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
