package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState is 0 closed, 1 open, 2 half-open.
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Backend circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"backend"},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Store calls rejected while the backend circuit was open",
		},
		[]string{"backend"},
	)
)

// SetBreakerState records the current state of a backend breaker.
func SetBreakerState(backend string, state int) {
	breakerState.WithLabelValues(backend).Set(float64(state))
}

// RecordBreakerRejection counts a call refused by an open breaker.
func RecordBreakerRejection(backend string) {
	breakerRejections.WithLabelValues(backend).Inc()
}
