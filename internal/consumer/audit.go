package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthmetrics/internal/events"
)

// AuditLog stores one row per ingestion batch in ingestion_event_log.
// Redelivered events for a batch that is already logged are ignored.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog constructs an AuditLog backed by pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// HandleBatchIngested implements Handler.
func (a *AuditLog) HandleBatchIngested(ctx context.Context, rec Record, evt events.BatchIngested) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO ingestion_event_log (batch_id, record_count, user_ids, first_timestamp, last_timestamp, ingested_at, schema_id, topic, partition, record_offset)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (batch_id) DO NOTHING`,
		evt.BatchID, evt.RecordCount, evt.UserIDs, evt.FirstTimestamp, evt.LastTimestamp, evt.IngestedAt,
		rec.SchemaID, rec.Topic, rec.Partition, rec.Offset,
	)
	return err
}
