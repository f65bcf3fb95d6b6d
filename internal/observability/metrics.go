// Package observability exposes Prometheus instrumentation for the arbitration engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "arbitration",
		Name:      "operations_total",
		Help:      "Number of claim, release and activity requests by outcome.",
	}, []string{"operation", "outcome"})

	transitionHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "territory",
		Subsystem: "store",
		Name:      "transition_seconds",
		Help:      "Latency of ownership store transitions.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	realtimeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "territory",
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Number of connected territory stream subscribers.",
	})
)

func init() {
	prometheus.MustRegister(operationCounter, transitionHistogram, realtimeSubscribers)
}

// ArbitrationMetrics records arbitration outcomes in the default registry.
type ArbitrationMetrics struct{}

// NewArbitrationMetrics returns the Prometheus-backed recorder.
func NewArbitrationMetrics() ArbitrationMetrics {
	return ArbitrationMetrics{}
}

// ObserveOperation counts one finished request.
func (ArbitrationMetrics) ObserveOperation(operation, outcome string) {
	operationCounter.WithLabelValues(operation, outcome).Inc()
}

// ObserveTransition records the latency of a store transition.
func (ArbitrationMetrics) ObserveTransition(operation string, elapsed time.Duration) {
	transitionHistogram.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SubscriberConnected increments the realtime subscriber gauge.
func SubscriberConnected() {
	realtimeSubscribers.Inc()
}

// SubscriberDisconnected decrements the realtime subscriber gauge.
func SubscriberDisconnected() {
	realtimeSubscribers.Dec()
}
