package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported at /metrics: rate
// limit rejections, access control denials, token cache hit/miss, bytes
// streamed per proxy kind, and redirect hop counts.
type Metrics struct {
	RateLimitRejections *prometheus.CounterVec
	AccessDenials       *prometheus.CounterVec
	TokenCacheResults   *prometheus.CounterVec
	BytesStreamed       *prometheus.CounterVec
	RedirectHops        *prometheus.HistogramVec
}

// NewMetrics builds and registers the metric collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelproxy_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter, labeled by reason (denied_ip, rate_limited).",
		}, []string{"reason"}),
		AccessDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelproxy_access_denials_total",
			Help: "Requests rejected by the access control policy, labeled by surface (docker, github).",
		}, []string{"surface"}),
		TokenCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelproxy_token_cache_results_total",
			Help: "Registry bearer token cache lookups, labeled by result (hit, miss).",
		}, []string{"result"}),
		BytesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accelproxy_bytes_streamed_total",
			Help: "Bytes streamed to clients, labeled by proxy surface (registry, github).",
		}, []string{"surface"}),
		RedirectHops: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accelproxy_redirect_hops",
			Help:    "Number of upstream redirect hops followed per request, labeled by proxy surface.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}, []string{"surface"}),
	}
	reg.MustRegister(m.RateLimitRejections, m.AccessDenials, m.TokenCacheResults, m.BytesStreamed, m.RedirectHops)
	return m
}

// Handler returns the /metrics scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
