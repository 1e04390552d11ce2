package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page requests are dominated by one store round trip, so the buckets are
// finer below 100ms than the client defaults.
var httpDurationBuckets = []float64{.001, .0025, .005, .01, .025, .05, .075, .1, .25, .5, 1, 2.5, 5}

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by method, route template and status",
			Buckets: httpDurationBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method, route template and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served, by method",
		},
		[]string{"method"},
	)
)

// TrackHTTPRequest marks a request as in flight and returns the function
// that finishes it. route must be the matched template, never the raw path,
// so label cardinality stays bounded.
func TrackHTTPRequest(method string) (done func(route string, status int)) {
	inFlight := httpRequestsInFlight.WithLabelValues(method)
	inFlight.Inc()
	start := time.Now()

	return func(route string, status int) {
		inFlight.Dec()
		code := strconv.Itoa(status)
		httpRequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	}
}
