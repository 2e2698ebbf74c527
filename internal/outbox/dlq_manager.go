package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxBackoff = time.Hour

// DLQManager returns dead-lettered events to the outbox and quarantines events that keep failing.
//
// An entry's retry_count is the number of failed deliveries before the one that produced it.
// Requeued events carry retry_count+1 as their outbox attempts, and the dispatcher copies attempts
// back into the next DLQ entry. The count therefore grows across the whole cycle until it reaches
// maxRetries and the entry is quarantined.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, now: time.Now}
}

// RunOnce handles up to batchSize due entries and returns how many were requeued.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := m.dueEntries(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, entry := range entries {
		action, handleErr := m.handleEntry(ctx, entry)
		if handleErr != nil {
			err = errors.Join(err, fmt.Errorf("dlq entry %d: %w", entry.ID, handleErr))
			continue
		}
		dlqActionsCounter.WithLabelValues(action).Inc()
		if action == actionRequeued {
			requeued++
		}
	}
	refreshBacklog(ctx, m.pool)
	return requeued, err
}

func (m *DLQManager) dueEntries(ctx context.Context, batchSize int) ([]dlqEntry, error) {
	const query = `SELECT dlq_id, event_type, topic, payload, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dlqEntry, error) {
		var e dlqEntry
		err := row.Scan(&e.ID, &e.EventType, &e.Topic, &e.Payload, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount)
		return e, err
	})
}

// handleEntry quarantines, requeues or reschedules one entry and reports which it did.
func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) (string, error) {
	if entry.RetryCount >= m.maxRetries {
		_, err := m.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
			fmt.Sprintf("gave up after %d failed deliveries", entry.RetryCount+1), entry.ID)
		return actionQuarantined, err
	}

	attempt := entry.RetryCount + 1
	availableAt := m.now().Add(m.backoffDelay(attempt))

	requeueErr := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if err := requeue(ctx, tx, entry, attempt, availableAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	if requeueErr == nil {
		return actionRequeued, nil
	}

	_, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = $1,
                reason = $2
          WHERE dlq_id = $3`,
		availableAt, requeueErr.Error(), entry.ID)
	return actionRescheduled, err
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// requeue inserts the event back into the outbox, held until availableAt.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry, attempts int, availableAt time.Time) error {
	if entry.SchemaSubject == "" {
		return errors.New("missing schema_subject")
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempts, available_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload,
		attempts, availableAt,
	)
	return err
}

type dlqEntry struct {
	ID            int64
	EventType     string
	Topic         string
	Payload       []byte
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
