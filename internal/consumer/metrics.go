package consumer

import "github.com/prometheus/client_golang/prometheus"

// Outcomes of a committed message.
const (
	outcomeStored  = "stored"
	outcomeSkipped = "skipped"
	outcomePoison  = "poison"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "consumer",
		Name:      "events_total",
		Help:      "Committed ingestion events, labeled by outcome.",
	}, []string{"outcome"})

	handlerRetriesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "consumer",
		Name:      "handler_retries_total",
		Help:      "Handler failures that caused an event to be retried.",
	})

	recordsSeenCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "consumer",
		Name:      "records_seen_total",
		Help:      "Readings reported by stored ingestion events.",
	})

	deliveryLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "health_metrics",
		Subsystem: "consumer",
		Name:      "delivery_lag_seconds",
		Help:      "Time from batch commit to the event being stored by the consumer.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

func init() {
	prometheus.MustRegister(eventsCounter, handlerRetriesCounter, recordsSeenCounter, deliveryLag)
}
