package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exchange-flow Prometheus metrics. Standalone package to avoid import
// cycles between the HTTP layer and the provider adapters.

var (
	ExchangeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardauth_exchange_total",
		Help: "Code exchange attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	ExchangeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardauth_exchange_duration_seconds",
		Help:    "End-to-end exchange handler latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardauth_upstream_duration_seconds",
		Help:    "Provider token/profile call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})

	IdentityLinksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardauth_identity_links_created_total",
		Help: "First-login identity links created, by provider",
	}, []string{"provider"})
)

// Outcome label values for ExchangeTotal.
const (
	OutcomeOK         = "ok"
	OutcomeBadRequest = "bad_request"
	OutcomeUpstream   = "upstream_error"
	OutcomeStore      = "store_error"
	OutcomeConfig     = "config_error"
)

// Register registers the exchange metrics on reg (or the default registry
// when nil). Safe to call more than once.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ExchangeTotal,
		ExchangeDuration,
		UpstreamDuration,
		IdentityLinksCreated,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
