// Package router assembles the HTTP surface of the exchange service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uvaco/cardauth/internal/http/controllers/exchange"
	"github.com/uvaco/cardauth/internal/http/helpers"
	"github.com/uvaco/cardauth/internal/http/middlewares"
	"github.com/uvaco/cardauth/internal/rate"
)

// Options carries everything the router needs besides the controller.
type Options struct {
	Build       string
	APIKey      string
	CORSOrigins []string
	Limiter     rate.Limiter // nil disables rate limiting
}

// New builds the service router. The exchange endpoints sit behind the
// full middleware stack; health and metrics stay open.
func New(ctrl *exchange.Controller, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	guarded := middlewares.Chain(
		http.HandlerFunc(ctrl.Handle),
		middlewares.WithRecover(),
		middlewares.WithRequestID(),
		middlewares.WithLogging(),
		withBuildHeader(opts.Build),
		middlewares.WithCORS(opts.CORSOrigins),
		middlewares.WithAPIKey(opts.APIKey),
		middlewares.WithRateLimit(opts.Limiter),
	)
	r.Handle("/v1/auth/{provider}/exchange", guarded)

	return r
}

// withBuildHeader stamps the deployment build id on every response so a
// client-side diagnostic can tell which build answered.
func withBuildHeader(build string) middlewares.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if build != "" {
				w.Header().Set("X-Cardauth-Build", build)
			}
			next.ServeHTTP(w, r)
		})
	}
}
