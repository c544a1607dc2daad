// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Discovery metrics
	IndexPagesFetched    prometheus.Counter
	IndexPageErrors      *prometheus.CounterVec
	WindowsScanned       prometheus.Counter
	WindowScanErrors     prometheus.Counter
	CandidatesDiscovered *prometheus.CounterVec

	// Resolution metrics
	DeltasResolved    *prometheus.CounterVec
	CandidatesDropped prometheus.Counter

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
	ScanAPILatency prometheus.Histogram

	// Engine metrics
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	LiquiditySource *prometheus.CounterVec
	LendersReported prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lenderscan"
	}

	return &Metrics{
		// Discovery metrics
		IndexPagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "index_pages_fetched_total",
			Help:      "Total number of index API pages fetched",
		}),
		IndexPageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "index_page_errors_total",
			Help:      "Total number of index API page errors by type",
		}, []string{"error_type"}),
		WindowsScanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "windows_scanned_total",
			Help:      "Total number of log-scan fallback windows completed",
		}),
		WindowScanErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "window_scan_errors_total",
			Help:      "Total number of log-scan windows skipped due to errors",
		}),
		CandidatesDiscovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates_discovered_total",
			Help:      "Total number of candidate transactions discovered by path",
		}, []string{"path"}),

		// Resolution metrics
		DeltasResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "deltas_resolved_total",
			Help:      "Total number of deltas resolved by source",
		}, []string{"source"}),
		CandidatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "candidates_dropped_total",
			Help:      "Total number of candidates dropped as unresolvable",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM node RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ScanAPILatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanapi",
			Name:      "request_latency_seconds",
			Help:      "Index API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Engine metrics
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of reconstruction runs by status",
		}, []string{"status"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Reconstruction run duration in seconds by phase",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		LiquiditySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "liquidity_source_total",
			Help:      "Total number of runs by liquidity source used",
		}, []string{"source"}),
		LendersReported: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lenders_reported",
			Help:      "Number of lenders in the most recent report",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"operation"}),

		// Health metrics
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful reconstruction run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordIndexPage increments the fetched page counter.
func RecordIndexPage() {
	DefaultMetrics.IndexPagesFetched.Inc()
}

// RecordIndexPageError records an index API page error.
func RecordIndexPageError(errorType string) {
	DefaultMetrics.IndexPageErrors.WithLabelValues(errorType).Inc()
}

// RecordWindowScanned increments the completed window counter.
func RecordWindowScanned() {
	DefaultMetrics.WindowsScanned.Inc()
}

// RecordWindowError increments the skipped window counter.
func RecordWindowError() {
	DefaultMetrics.WindowScanErrors.Inc()
}

// RecordCandidates adds discovered candidates for a discovery path.
func RecordCandidates(path string, n int) {
	DefaultMetrics.CandidatesDiscovered.WithLabelValues(path).Add(float64(n))
}

// RecordDeltaResolved increments the resolved delta counter for a source.
func RecordDeltaResolved(source string) {
	DefaultMetrics.DeltasResolved.WithLabelValues(source).Inc()
}

// RecordCandidateDropped increments the unresolvable candidate counter.
func RecordCandidateDropped() {
	DefaultMetrics.CandidatesDropped.Inc()
}

// RecordRPCLatency records EVM node RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordScanAPILatency records one index API request.
func RecordScanAPILatency(seconds float64) {
	DefaultMetrics.ScanAPILatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordRun records a completed reconstruction run.
func RecordRun(status string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.RunDuration.WithLabelValues("total").Observe(durationSeconds)
}

// RecordPhase records the duration of one engine phase.
func RecordPhase(phase string, durationSeconds float64) {
	DefaultMetrics.RunDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordLiquiditySource increments the counter for the liquidity source used.
func RecordLiquiditySource(source string) {
	DefaultMetrics.LiquiditySource.WithLabelValues(source).Inc()
}
