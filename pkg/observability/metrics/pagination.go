package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pageFetchDuration tracks store round trips made to serve one page.
	// Labels: collection, mode (keyset, prefetch, offset), outcome
	pageFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagination_fetch_duration_seconds",
			Help:    "Time spent fetching one page from the backing store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "mode", "outcome"},
	)

	// pageItems tracks how many records each fetch returned.
	pageItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagination_page_items",
			Help:    "Records returned by the store per page fetch",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 250},
		},
		[]string{"collection", "mode"},
	)

	// cursorsRejected counts malformed cursors that fell back to the first page.
	cursorsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagination_cursor_rejected_total",
			Help: "Cursors that could not be decoded and were treated as absent",
		},
		[]string{"collection"},
	)

	// streamedRecords counts records delivered by batch streams.
	streamedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagination_streamed_records_total",
			Help: "Records delivered through batch stream cursors",
		},
		[]string{"collection"},
	)

	// countCacheLookups counts offset total lookups by result (hit, miss, error).
	countCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagination_count_cache_lookups_total",
			Help: "Offset pagination total-count cache lookups",
		},
		[]string{"result"},
	)
)

// RecordPageFetch records one page fetch.
func RecordPageFetch(collection, mode string, items int, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	pageFetchDuration.WithLabelValues(collection, mode, outcome).Observe(duration.Seconds())
	if err == nil {
		pageItems.WithLabelValues(collection, mode).Observe(float64(items))
	}
}

// RecordCursorRejected counts a cursor that failed to decode.
func RecordCursorRejected(collection string) {
	cursorsRejected.WithLabelValues(collection).Inc()
}

// RecordStreamedRecord counts one record delivered by a batch stream.
func RecordStreamedRecord(collection string) {
	streamedRecords.WithLabelValues(collection).Inc()
}

// RecordCountCacheLookup counts a total-count cache lookup.
func RecordCountCacheLookup(result string) {
	countCacheLookups.WithLabelValues(result).Inc()
}
