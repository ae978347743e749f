// Package metrics holds the Prometheus collectors shared by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts served requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhir_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhir_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// TableOpensTotal counts physical table opens by outcome.
	TableOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhir_table_opens_total",
			Help: "Total number of table handle opens",
		},
		[]string{"result"},
	)

	// TableCacheHitsTotal counts handle lookups served from the cache.
	TableCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fhir_table_cache_hits_total",
			Help: "Total number of table handle cache hits",
		},
	)

	// TableFilesTotal counts data files considered by reads, split by
	// whether they were read or pruned.
	TableFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhir_table_files_total",
			Help: "Total number of data files read or pruned",
		},
		[]string{"action"},
	)

	// QueryDuration observes query engine executions by status.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhir_query_duration_seconds",
			Help:    "Duration of query engine executions in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	// BundleEntriesTotal counts replayed bundle entries by status class.
	BundleEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhir_bundle_entries_total",
			Help: "Total number of bundle entries replayed",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusLabel reduces err to a "ok"/"error" label value.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
