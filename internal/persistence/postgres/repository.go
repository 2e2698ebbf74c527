// Package postgres stores health metrics and their outbox events in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"example.com/healthmetrics/internal/domain"
	"example.com/healthmetrics/internal/events"
)

var metricColumns = []string{"user_id", "timestamp", "heart_rate", "steps", "calories"}

// Repository provides Postgres-backed persistence for readings and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertBatch copies every reading and records the ingestion event inside a single transaction.
func (r *Repository) InsertBatch(ctx context.Context, batch domain.Batch) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows := make([][]any, 0, len(batch.Readings))
	for _, reading := range batch.Readings {
		rows = append(rows, []any{reading.UserID, reading.Timestamp, reading.HeartRate, reading.Steps, reading.Calories})
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"health_metrics"}, metricColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy health_metrics: %w", err)
	}
	if copied != int64(len(rows)) {
		err = fmt.Errorf("copy health_metrics: wrote %d of %d rows", copied, len(rows))
		return err
	}

	if err = insertOutbox(ctx, tx, batch); err != nil {
		return fmt.Errorf("record ingestion event: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, batch domain.Batch) error {
	body, err := json.Marshal(batchIngestedEvent(batch))
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"ingest_batch",
		batch.ID,
		events.TypeBatchIngested,
		events.TopicBatchIngested,
		events.SubjectBatchIngested,
		batch.ID,
		body,
		fmt.Sprintf("%s:%s", batch.ID, events.TypeBatchIngested),
	)
	return err
}

func batchIngestedEvent(batch domain.Batch) events.BatchIngested {
	evt := events.BatchIngested{
		BatchID:     batch.ID,
		RecordCount: len(batch.Readings),
		UserIDs:     make([]int64, 0),
		IngestedAt:  batch.IngestedAt,
	}

	seen := make(map[int64]struct{})
	for i, reading := range batch.Readings {
		if i == 0 || reading.Timestamp.Before(evt.FirstTimestamp) {
			evt.FirstTimestamp = reading.Timestamp
		}
		if i == 0 || reading.Timestamp.After(evt.LastTimestamp) {
			evt.LastTimestamp = reading.Timestamp
		}
		if _, ok := seen[reading.UserID]; !ok {
			seen[reading.UserID] = struct{}{}
			evt.UserIDs = append(evt.UserIDs, reading.UserID)
		}
	}
	sort.Slice(evt.UserIDs, func(i, j int) bool { return evt.UserIDs[i] < evt.UserIDs[j] })
	return evt
}

// Aggregate computes the window statistics in one statement. It returns nil when nothing matched.
// The average is read as text so the numeric value reaches the caller without float conversion.
func (r *Repository) Aggregate(ctx context.Context, window domain.Window) (*domain.Totals, error) {
	const query = `SELECT AVG(heart_rate)::text, SUM(steps), SUM(calories)
        FROM health_metrics
        WHERE user_id = $1 AND "timestamp" >= $2 AND "timestamp" <= $3`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var (
		avgHeartRate  *string
		totalSteps    *int64
		totalCalories *float64
	)
	if err := conn.QueryRow(ctx, query, window.UserID, window.Start, window.End).Scan(&avgHeartRate, &totalSteps, &totalCalories); err != nil {
		return nil, fmt.Errorf("aggregate health_metrics: %w", err)
	}
	if avgHeartRate == nil {
		return nil, nil
	}

	avg, err := decimal.NewFromString(*avgHeartRate)
	if err != nil {
		return nil, fmt.Errorf("parse average heart rate %q: %w", *avgHeartRate, err)
	}

	totals := &domain.Totals{AvgHeartRate: avg}
	if totalSteps != nil {
		totals.TotalSteps = *totalSteps
	}
	if totalCalories != nil {
		totals.TotalCalories = *totalCalories
	}
	return totals, nil
}
