package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results and DLQ actions used as label values.
const (
	resultDelivered    = "delivered"
	resultDeadLettered = "dead_lettered"

	actionRequeued    = "requeued"
	actionRescheduled = "rescheduled"
	actionQuarantined = "quarantined"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by the dispatcher, labeled by delivery result.",
	}, []string{"result"})

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "health_metrics",
		Subsystem: "outbox",
		Name:      "dispatch_duration_seconds",
		Help:      "Wall time of one dispatcher pass that found pending events.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqActionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_metrics",
		Subsystem: "dlq",
		Name:      "actions_total",
		Help:      "DLQ manager decisions, labeled by action.",
	}, []string{"action"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "health_metrics",
		Subsystem: "dlq",
		Name:      "pending_entries",
		Help:      "DLQ entries that are neither requeued nor quarantined.",
	})
)

func init() {
	prometheus.MustRegister(eventsCounter, dispatchDuration, dlqActionsCounter, dlqBacklogGauge)
}

func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) {
	var pending int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&pending); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(pending))
}
