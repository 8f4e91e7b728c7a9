package middlewares

import (
	"net/http"

	httperrors "github.com/uvaco/cardauth/internal/http/errors"
	"github.com/uvaco/cardauth/internal/observability/logger"
)

// WithRecover converts panics into a structured 500 instead of killing the
// connection. Handlers are not supposed to panic; this is the backstop.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered",
						logger.Any("panic", rec),
						logger.Path(r.URL.Path),
					)
					httperrors.Write(w, httperrors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
