// Package metrics exposes Prometheus collectors for the supervisor and
// its per-project indexers, and the shared Timer helper used to record
// them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Supervisor metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devsupervisor_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_worker_restarts_total",
			Help: "Total number of worker restarts by project",
		},
		[]string{"project"},
	)

	WorkerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_worker_start_duration_seconds",
			Help:    "Time taken to spawn and register a worker process",
			Buckets: prometheus.DefBuckets,
		},
	)

	FreePortScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_free_port_scan_duration_seconds",
			Help:    "Time taken to find a free port for a new worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Admin API metrics
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_admin_requests_total",
			Help: "Total number of admin API requests by route and status",
		},
		[]string{"route", "status"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_admin_request_duration_seconds",
			Help:    "Admin API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Indexer metrics
	IndexedFilesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devsupervisor_indexed_files_total",
			Help: "Number of files currently represented in a project's symbol cache",
		},
		[]string{"project"},
	)

	IndexRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_index_run_duration_seconds",
			Help:    "Time taken for one full project indexing pass",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"project"},
	)

	FilesParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_files_parsed_total",
			Help: "Total number of files parsed by a project indexer",
		},
		[]string{"project"},
	)

	FilesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_files_skipped_total",
			Help: "Total number of files skipped on hash match by a project indexer",
		},
		[]string{"project"},
	)

	FilesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_files_failed_total",
			Help: "Total number of files that failed to parse (timeout or error)",
		},
		[]string{"project"},
	)

	ParseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_parse_duration_seconds",
			Help:    "Time taken to parse a single source file",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devsupervisor_cache_save_duration_seconds",
			Help:    "Time taken to flush the fingerprint store to disk",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Query service metrics
	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsupervisor_query_requests_total",
			Help: "Total number of query service requests by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WorkerStartDuration)
	prometheus.MustRegister(FreePortScanDuration)

	prometheus.MustRegister(AdminRequestsTotal)
	prometheus.MustRegister(AdminRequestDuration)

	prometheus.MustRegister(IndexedFilesTotal)
	prometheus.MustRegister(IndexRunDuration)
	prometheus.MustRegister(FilesParsedTotal)
	prometheus.MustRegister(FilesSkippedTotal)
	prometheus.MustRegister(FilesFailedTotal)
	prometheus.MustRegister(ParseDuration)
	prometheus.MustRegister(CacheSaveDuration)

	prometheus.MustRegister(QueryRequestsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
