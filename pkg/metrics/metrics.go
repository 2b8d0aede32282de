package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Build pipeline metrics
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphmill_builds_total",
			Help: "Total number of build tasks by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphmill_build_duration_seconds",
			Help:    "Build pipeline duration in seconds by task type",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"type"},
	)

	GraphEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphmill_graph_entities",
			Help: "Entity count of the most recently built graph version",
		},
	)

	GraphRelationships = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphmill_graph_relationships",
			Help: "Relationship count of the most recently built graph version",
		},
	)

	VersionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphmill_versions_pruned_total",
			Help: "Total number of old graph versions deleted by retention",
		},
	)

	// Provider metrics
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphmill_llm_requests_total",
			Help: "Total number of LLM provider calls by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphmill_rate_limit_wait_seconds",
			Help:    "Time spent waiting on provider rate limits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bucket"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphmill_api_requests_total",
			Help: "Total number of API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphmill_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(GraphEntities)
	prometheus.MustRegister(GraphRelationships)
	prometheus.MustRegister(VersionsPruned)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(RateLimitWaitSeconds)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
