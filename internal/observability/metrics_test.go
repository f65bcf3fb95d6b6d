package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func readValue(testContext *testing.T, metric prometheus.Metric) *dto.Metric {
	testContext.Helper()
	var sample dto.Metric
	if err := metric.Write(&sample); err != nil {
		testContext.Fatalf("write metric: %v", err)
	}
	return &sample
}

func TestArbitrationMetricsCountOutcomes(testContext *testing.T) {
	metrics := NewArbitrationMetrics()
	counter := operationCounter.WithLabelValues("territory.claim", "already_claimed")
	before := readValue(testContext, counter).GetCounter().GetValue()
	metrics.ObserveOperation("territory.claim", "already_claimed")
	metrics.ObserveOperation("territory.claim", "already_claimed")
	after := readValue(testContext, counter).GetCounter().GetValue()
	if after-before != 2 {
		testContext.Fatalf("expected counter to increase by 2, got %v", after-before)
	}

	metrics.ObserveTransition("territory.release", 3*time.Millisecond)
	histogram := transitionHistogram.WithLabelValues("territory.release").(prometheus.Metric)
	if readValue(testContext, histogram).GetHistogram().GetSampleCount() == 0 {
		testContext.Fatalf("expected histogram samples")
	}
}

func TestSubscriberGauge(testContext *testing.T) {
	start := readValue(testContext, realtimeSubscribers).GetGauge().GetValue()
	SubscriberConnected()
	SubscriberConnected()
	SubscriberDisconnected()
	if got := readValue(testContext, realtimeSubscribers).GetGauge().GetValue() - start; got != 1 {
		testContext.Fatalf("expected gauge delta 1, got %v", got)
	}
}
