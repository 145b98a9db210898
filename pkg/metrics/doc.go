/*
Package metrics provides Prometheus metrics collection and exposition for
devsupervisor.

The metrics package defines and registers all devsupervisor metrics using the
Prometheus client library, providing observability into worker lifecycle,
admin API traffic, and per-project indexing activity. Metrics are exposed via
an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Collectors                      │          │
	│  │  - Supervisor: workers, restarts, start time │          │
	│  │  - Admin API: requests, latency by route    │          │
	│  │  - Indexer: files indexed/parsed/skipped    │          │
	│  │  - Query: requests by kind                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        GET /admin/metrics (text exposition) │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metric Reference

devsupervisor_workers_total{status}:
  - Type: Gauge
  - Labels: status (created, running, stopped, crashed)
  - Description: number of registered workers by status
  - Example: devsupervisor_workers_total{status="running"} 5

devsupervisor_worker_restarts_total{project}:
  - Type: Counter
  - Labels: project
  - Description: cumulative restarts per project
  - Example: devsupervisor_worker_restarts_total{project="widget"} 2

devsupervisor_worker_start_duration_seconds:
  - Type: Histogram
  - Description: time to spawn and register a worker process

devsupervisor_free_port_scan_duration_seconds:
  - Type: Histogram
  - Description: time spent scanning for a free port for a new worker

devsupervisor_admin_requests_total{route, status}:
  - Type: Counter
  - Labels: route, status (HTTP status code)
  - Description: admin API requests served
  - Example: devsupervisor_admin_requests_total{route="/admin/servers",status="200"} 100

devsupervisor_admin_request_duration_seconds{route}:
  - Type: Histogram
  - Labels: route
  - Description: admin API request latency

devsupervisor_indexed_files_total{project}:
  - Type: Gauge
  - Labels: project
  - Description: files currently represented in a project's symbol cache

devsupervisor_index_run_duration_seconds{project}:
  - Type: Histogram
  - Labels: project
  - Description: time for one full project indexing pass

devsupervisor_files_parsed_total{project}, devsupervisor_files_skipped_total{project},
devsupervisor_files_failed_total{project}:
  - Type: Counter
  - Labels: project
  - Description: per-project parse outcomes during an indexing pass

devsupervisor_parse_duration_seconds:
  - Type: Histogram
  - Description: time to parse a single source file

devsupervisor_cache_save_duration_seconds:
  - Type: Histogram
  - Description: time to flush the fingerprint store to disk

devsupervisor_query_requests_total{kind}:
  - Type: Counter
  - Labels: kind (symbol, outline, refs, ...)
  - Description: query service requests by kind
  - Registered and exposed, but no package in this repository increments it

# Usage

Registering and observing:

	import "github.com/projectforge/devsupervisor/pkg/metrics"

	metrics.WorkersTotal.WithLabelValues("running").Set(5)
	metrics.WorkerRestartsTotal.WithLabelValues("widget").Inc()

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.WorkerStartDuration)

Exposing the registry:

	import (
		"net/http"
		"github.com/projectforge/devsupervisor/pkg/metrics"
	)

	mux := http.NewServeMux()
	mux.Handle("/admin/metrics", metrics.Handler())

pkg/adminapi mounts this at GET /admin/metrics directly on its chi router
rather than a separate mux.

# Design Patterns

Global Registry Pattern:
  - Collectors are package-level vars registered in init()
  - Any package imports pkg/metrics and calls .Inc()/.Set()/.Observe()
    without wiring a registry through constructors

Timer Helper Pattern:
  - metrics.NewTimer() captures a start time
  - ObserveDuration/ObserveDurationVec record elapsed time against a
    histogram at the end of an operation, avoiding repeated
    time.Since() bookkeeping at every call site

# Integration Points

This package integrates with:

  - pkg/supervisor: worker counts, restarts, start/port-scan duration
  - pkg/adminapi: per-route request counts and latency via chi middleware
  - pkg/indexer: per-project file/parse counters and indexing duration

pkg/query does not import this package; devsupervisor_query_requests_total
stays at zero.

# See Also

  - Prometheus client_golang: https://github.com/prometheus/client_golang
  - Prometheus naming conventions: https://prometheus.io/docs/practices/naming/
*/
package metrics
