// Package metrics registers the Prometheus metrics exported by the client.
// The edge server mounts promhttp on /metrics to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for UpstreamRequests.
const (
	OutcomeSuccess     = "success"
	OutcomeRemoteError = "remote_error"
	OutcomeTransport   = "transport_error"
	OutcomeRejected    = "rejected"
)

// Upstream request metrics.
var (
	// UpstreamRequests counts network fetches against the API by outcome.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holocron_upstream_requests_total",
			Help: "Total number of upstream API requests by outcome.",
		},
		[]string{"outcome"},
	)

	// UpstreamDuration observes upstream latency in seconds, admission wait excluded.
	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "holocron_upstream_request_duration_seconds",
			Help:    "Upstream API request duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// ActiveRequests is the number of upstream requests currently admitted.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "holocron_upstream_active_requests",
			Help: "Upstream API requests currently in flight.",
		},
	)

	// BreakerState mirrors the upstream circuit breaker: 0 closed, 1 open, 2 half-open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "holocron_upstream_circuit_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half_open).",
		},
	)
)

// Cache and dedup metrics.
var (
	// CacheLookups counts cache reads labelled result="hit" or "miss".
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holocron_cache_lookups_total",
			Help: "Total cache lookups by result.",
		},
		[]string{"result"},
	)

	// CacheWriteFailures counts snapshot writes rejected by the storage medium.
	CacheWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holocron_cache_write_failures_total",
			Help: "Total cache writes that could not be persisted.",
		},
	)

	// DedupShared counts callers that joined an already in-flight fetch.
	DedupShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holocron_dedup_shared_total",
			Help: "Total fetches served by joining an in-flight request.",
		},
	)
)
