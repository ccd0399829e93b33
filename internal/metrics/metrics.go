// Package metrics provides Prometheus instrumentation for the mule
// detection service.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muledetection",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muledetection",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BatchRunsTotal counts feature batch runs by outcome.
	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muledetection",
			Name:      "batch_runs_total",
			Help:      "Total feature computation batch runs by outcome.",
		},
		[]string{"status"},
	)

	// BatchDuration observes end-to-end batch run duration.
	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "muledetection",
		Name:      "batch_duration_seconds",
		Help:      "Feature computation batch duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800, 3600},
	})

	// ConvergenceMissesTotal counts batch runs whose community detection
	// exhausted its pass or level budget before converging.
	ConvergenceMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "muledetection",
		Name:      "convergence_misses_total",
		Help:      "Total batch runs where community detection did not converge.",
	})

	// SnapshotAccounts tracks the account count of the live feature snapshot.
	SnapshotAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "muledetection",
		Name:      "snapshot_accounts",
		Help:      "Number of accounts covered by the live feature snapshot.",
	})

	// SnapshotCommunities tracks the community count of the live snapshot.
	SnapshotCommunities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "muledetection",
		Name:      "snapshot_communities",
		Help:      "Number of communities in the live feature snapshot.",
	})

	// SnapshotGeneration tracks the generation of the live snapshot.
	SnapshotGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "muledetection",
		Name:      "snapshot_generation",
		Help:      "Generation number of the live feature snapshot.",
	})

	// EvaluationsTotal counts transaction evaluations by resulting risk level.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muledetection",
			Name:      "evaluations_total",
			Help:      "Total transaction evaluations by risk level.",
		},
		[]string{"risk"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BatchRunsTotal,
		BatchDuration,
		ConvergenceMissesTotal,
		SnapshotAccounts,
		SnapshotCommunities,
		SnapshotGeneration,
		EvaluationsTotal,
	)
}

// Middleware records request count and latency for every request. The path
// label uses route patterns, not raw paths, to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		label := pathLabel(r.URL.Path)
		HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, label, statusBucket(rec.status)).Inc()
	})
}

// Handler returns the Prometheus scrape handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// pathLabel collapses parameterised routes to their pattern.
func pathLabel(path string) string {
	if strings.HasPrefix(path, "/api/v1/accounts/") {
		return "/api/v1/accounts/{accountNumber}/features"
	}
	return path
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
