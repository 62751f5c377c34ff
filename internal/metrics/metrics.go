// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesFetched tracks successful page fetches, labeled by page kind.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "The total number of pages fetched successfully.",
	}, []string{"kind"})
	// FetchRetries tracks retry attempts after transient fetch failures.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_retries_total",
		Help: "The total number of fetch retry attempts.",
	})
	// FetchFailures tracks fetches that exhausted their retry budget.
	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_failures_total",
		Help: "The total number of fetches that failed after retry exhaustion.",
	})
	// RecordsUpserted tracks change-detection outcomes per upsert.
	RecordsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_records_upserted_total",
		Help: "The total number of upserted records, labeled by outcome.",
	}, []string{"outcome"})
	// RecordsSkipped tracks detail URLs skipped during a run, by reason.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_records_skipped_total",
		Help: "The total number of detail URLs skipped, labeled by reason.",
	}, []string{"reason"})
	// RunsCompleted tracks finished crawl runs, labeled by result.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_runs_total",
		Help: "The total number of completed crawl runs, labeled by result.",
	}, []string{"result"})
)

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
