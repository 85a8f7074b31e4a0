package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookmarker_ingest_batches_total",
		Help: "Total number of ingest batches started.",
	})
	IngestResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookmarker_ingest_results_total",
		Help: "Total number of per-URL ingest results.",
	}, []string{"status"}) // status: success, failed, duplicate, invalid

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookmarker_fetch_duration_seconds",
		Help:    "Time spent fetching a page, including failures.",
		Buckets: prometheus.DefBuckets,
	})
	FetchedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookmarker_fetched_bytes_total",
		Help: "Total bytes of page content fetched.",
	})

	BookmarksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookmarker_bookmarks",
		Help: "Number of stored bookmarks at the last index rebuild.",
	})
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
