package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_records_total",
			Help: "Records written by export runs",
		},
		[]string{"collection", "sink"},
	)

	exportChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_chunks_total",
			Help: "Chunks committed by export runs, by outcome",
		},
		[]string{"collection", "sink", "outcome"},
	)
)

// RecordExportChunk records a committed or failed chunk of n records.
func RecordExportChunk(collection, sink string, n int, err error) {
	if err != nil {
		exportChunks.WithLabelValues(collection, sink, "error").Inc()
		return
	}
	exportChunks.WithLabelValues(collection, sink, "ok").Inc()
	exportRecords.WithLabelValues(collection, sink).Add(float64(n))
}
