// Package observability owns the Prometheus collectors shared by the request path.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Aggregation outcomes used as label values.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	recordsIngestedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Number of readings committed to storage.",
	})
	batchesIngestedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "ingest",
		Name:      "batches_total",
		Help:      "Number of ingestion batches committed to storage.",
	})
	lastPersistedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "health_metrics",
		Subsystem: "ingest",
		Name:      "last_batch_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent ingestion batch committed to storage.",
	})
	aggregationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "query",
		Name:      "aggregations_total",
		Help:      "Number of aggregate queries served, labeled by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(recordsIngestedCounter, batchesIngestedCounter, lastPersistedGauge, aggregationCounter)
}

// RecordBatchPersisted counts a committed batch and moves the persistence watermark.
func RecordBatchPersisted(records int, ts time.Time) {
	batchesIngestedCounter.Inc()
	recordsIngestedCounter.Add(float64(records))
	if ts.IsZero() {
		return
	}
	lastPersistedGauge.Set(float64(ts.Unix()))
}

// RecordAggregation counts an aggregate query by outcome.
func RecordAggregation(outcome string) {
	aggregationCounter.WithLabelValues(outcome).Inc()
}
