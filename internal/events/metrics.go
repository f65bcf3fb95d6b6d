package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "changefeed",
		Name:      "published_total",
		Help:      "Number of territory changes written to Kafka.",
	})

	publishFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "changefeed",
		Name:      "publish_failures_total",
		Help:      "Number of territory changes that could not be written to Kafka.",
	})

	appliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "territory",
		Subsystem: "changefeed",
		Name:      "follower_messages_total",
		Help:      "Number of change-feed messages consumed by the follower, by result.",
	}, []string{"result"})

	lastAppliedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "territory",
		Subsystem: "changefeed",
		Name:      "follower_last_record_timestamp_seconds",
		Help:      "updatedAt of the most recent record applied by the follower.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishFailureCounter, appliedCounter, lastAppliedGauge)
}

func recordPublished() {
	publishedCounter.Inc()
}

func recordPublishFailure() {
	publishFailureCounter.Inc()
}

func recordFollowed(result string, updatedAt time.Time) {
	appliedCounter.WithLabelValues(result).Inc()
	if result == resultApplied && !updatedAt.IsZero() {
		lastAppliedGauge.Set(float64(updatedAt.Unix()))
	}
}
