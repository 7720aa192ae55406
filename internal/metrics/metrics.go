// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RelayRequests counts relay signing requests by type and outcome
	// (pending, auto_approved, rejected).
	RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Relay signing requests by request type and initial outcome",
	}, []string{"request_type", "outcome"})

	// Signings counts completed signing operations by request type.
	Signings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_signings_total",
		Help: "Completed signing operations by request type",
	}, []string{"request_type"})

	// ExpiredSwept counts transactions expired by the background sweep.
	ExpiredSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_expired_swept_total",
		Help: "Pending relay transactions expired by the background sweep",
	})

	// HTTPDuration observes request latency per method and route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
