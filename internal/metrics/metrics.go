// Package metrics holds the Prometheus instruments of the service. All
// names carry the orderrec_ prefix so the /metrics handler can scope its
// output.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "orderrec"

var (
	// Request layer
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Ingestion
	OrdersIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orders_ingested_total",
			Help:      "Order lines submitted for ingestion by outcome (accepted, duplicate, invalid)",
		},
		[]string{"outcome"},
	)

	// Recommendations
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recommendations_total",
			Help:      "Recommendation requests by result status",
		},
		[]string{"status"},
	)

	// Batch jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_runs_total",
			Help:      "Batch job runs by job and result (ok, error)",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Batch job duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 7200},
		},
		[]string{"job"},
	)

	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rows_dropped_total",
			Help:      "Malformed ledger or batch rows dropped during derivation, by reason",
		},
		[]string{"reason"},
	)

	LedgerRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "ledger_rows",
		Help:      "Ledger rows after the latest derivation run",
	})

	Customers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "customers",
		Help:      "Customers in the feature table after the latest derivation run",
	})

	ClusterSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cluster_customers",
			Help:      "Customers assigned to each cluster by the active generation",
		},
		[]string{"cluster"},
	)

	GenerationActivated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "generation_activated_timestamp_seconds",
		Help:      "Creation time of the active model generation",
	})
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method, status string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordJob records one batch job run.
func RecordJob(job string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
