// Package outbox delivers ingestion events recorded alongside readings to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/healthmetrics/internal/events"
)

type publisher interface {
	Publish(context.Context, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is a claimed outbox row.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	// Attempts counts earlier failed deliveries of this event.
	Attempts int
}

// Dispatcher polls the outbox table and publishes due events with Schema Registry framing.
type Dispatcher struct {
	pool         *pgxpool.Pool
	publisher    publisher
	registry     schemaRegistrar
	dlq          *DLQWriter
	pollInterval time.Duration
	batchSize    int

	mu        sync.Mutex
	schemaIDs map[string]int

	done chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, pub publisher, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Dispatcher{
		pool:         pool,
		publisher:    pub,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		schemaIDs:    make(map[string]int),
		done:         make(chan struct{}),
	}
}

// Start runs dispatch passes until ctx is cancelled. Call it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.dispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// dispatchOnce claims due events, publishes them and marks them published. Events that fail are
// copied to the DLQ first. It returns how many events it claimed.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	started := time.Now()

	claimed, err := d.claim(ctx)
	if err != nil || len(claimed) == 0 {
		return 0, err
	}
	defer func() { dispatchDuration.Observe(time.Since(started).Seconds()) }()

	result := resultDelivered
	if pubErr := d.publish(ctx, claimed); pubErr != nil {
		log.Printf("outbox: publishing %d events failed: %v", len(claimed), pubErr)
		for _, msg := range claimed {
			if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%v (topic=%s, attempt=%d)", pubErr, msg.Topic, msg.Attempts+1)); err != nil {
				return len(claimed), fmt.Errorf("dead-letter event %d: %w", msg.EventID, err)
			}
		}
		result = resultDeadLettered
	}
	eventsCounter.WithLabelValues(result).Add(float64(len(claimed)))

	return len(claimed), d.markPublished(ctx, claimed)
}

func (d *Dispatcher) claim(ctx context.Context) (claimed []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempts
        FROM outbox
        WHERE published_at IS NULL AND available_at <= NOW()
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	claimed, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload, &msg.Attempts)
		return msg, err
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(claimed)); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// publish frames every event and hands the whole set to the publisher in one call.
func (d *Dispatcher) publish(ctx context.Context, claimed []Message) error {
	records := make([]kafka.Message, 0, len(claimed))
	for _, msg := range claimed {
		schema, ok := schemaCatalog[msg.EventType]
		if !ok {
			return fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
		}
		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, schema)
		if err != nil {
			return err
		}
		records = append(records, kafkaRecord(msg, schemaID))
	}
	return d.publisher.Publish(ctx, records...)
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	d.mu.Lock()
	id, ok := d.schemaIDs[subject]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("register schema %s: %w", subject, err)
	}

	d.mu.Lock()
	d.schemaIDs[subject] = id
	d.mu.Unlock()
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, claimed []Message) error {
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(claimed))
	return err
}

func kafkaRecord(msg Message, schemaID int) kafka.Message {
	return kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(msg.EventType)},
			{Key: events.HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
			{Key: events.HeaderBatchID, Value: []byte(msg.AggregateID)},
			{Key: events.HeaderAttempt, Value: []byte(strconv.Itoa(msg.Attempts + 1))},
		},
	}
}

func eventIDs(msgs []Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat prefixes payload with the Schema Registry magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
