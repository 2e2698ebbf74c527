package postgres

import (
	"context"
	"fmt"
)

// schema is applied at process start. Every statement must be idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS health_metrics (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL,
    "timestamp" TIMESTAMPTZ NOT NULL,
    heart_rate  INTEGER NOT NULL,
    steps       INTEGER NOT NULL,
    calories    DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_health_metrics_user_id ON health_metrics (user_id);
CREATE INDEX IF NOT EXISTS ix_health_metrics_timestamp ON health_metrics ("timestamp");

CREATE TABLE IF NOT EXISTS outbox (
    event_id       BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    topic          TEXT NOT NULL,
    schema_subject TEXT NOT NULL,
    partition_key  TEXT NOT NULL,
    payload        JSONB NOT NULL,
    dedupe_key     TEXT UNIQUE,
    attempts       INTEGER NOT NULL DEFAULT 0,
    available_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    claimed_at     TIMESTAMPTZ,
    published_at   TIMESTAMPTZ
);
ALTER TABLE outbox ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE outbox ADD COLUMN IF NOT EXISTS available_at TIMESTAMPTZ NOT NULL DEFAULT NOW();
CREATE INDEX IF NOT EXISTS ix_outbox_unpublished ON outbox (available_at) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS outbox_dlq (
    dlq_id            BIGSERIAL PRIMARY KEY,
    event_id          BIGINT NOT NULL,
    event_type        TEXT NOT NULL,
    topic             TEXT NOT NULL,
    payload           JSONB NOT NULL,
    reason            TEXT NOT NULL,
    aggregate_type    TEXT NOT NULL,
    aggregate_id      TEXT NOT NULL,
    schema_subject    TEXT NOT NULL,
    partition_key     TEXT NOT NULL,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    last_attempt_at   TIMESTAMPTZ,
    next_retry_at     TIMESTAMPTZ,
    quarantined_at    TIMESTAMPTZ,
    quarantine_reason TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ingestion_event_log (
    batch_id        TEXT PRIMARY KEY,
    record_count    INTEGER NOT NULL,
    user_ids        BIGINT[] NOT NULL,
    first_timestamp TIMESTAMPTZ NOT NULL,
    last_timestamp  TIMESTAMPTZ NOT NULL,
    ingested_at     TIMESTAMPTZ NOT NULL,
    schema_id       INTEGER NOT NULL,
    topic           TEXT NOT NULL,
    partition       INTEGER NOT NULL,
    record_offset   BIGINT NOT NULL,
    received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ix_ingestion_event_log_user_ids ON ingestion_event_log USING GIN (user_ids);
`

// EnsureSchema creates the service tables and indexes when they are absent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
