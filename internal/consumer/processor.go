// Package consumer reads ingestion events from Kafka and records them in an audit log.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/healthmetrics/internal/events"
)

// Reader is the subset of *kafka.Reader the processor needs.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
}

// Handler reacts to decoded ingestion events.
type Handler interface {
	HandleBatchIngested(ctx context.Context, rec Record, evt events.BatchIngested) error
}

// Record locates a consumed event in Kafka.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	SchemaID  int
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetryDelay sets the pause between handler retries.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// Processor fetches ingestion events, hands them to a Handler and commits them once handled.
// A message is retried until its handler succeeds, so offsets are only committed in order.
// Malformed messages are committed without reaching the handler.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *log.Logger
	retryDelay time.Duration
	now        func() time.Time
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		logger:     log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		retryDelay: time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled or the reader fails permanently.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("fetch: %w", err)
		}

		outcome, err := p.process(ctx, msg)
		if err != nil {
			return err
		}
		if err := p.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d on %s/%d: %w", msg.Offset, msg.Topic, msg.Partition, err)
		}
		eventsCounter.WithLabelValues(outcome).Inc()
	}
}

// process returns the outcome label for msg. It only returns an error when ctx ends during retries.
func (p *Processor) process(ctx context.Context, msg kafka.Message) (string, error) {
	eventType := header(msg, events.HeaderEventType)
	if eventType != events.TypeBatchIngested {
		p.logger.Printf("skipping event_type %q at %s/%d@%d", eventType, msg.Topic, msg.Partition, msg.Offset)
		return outcomeSkipped, nil
	}

	rec, evt, err := decodeBatchIngested(msg)
	if err != nil {
		p.logger.Printf("poison message at %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		return outcomePoison, nil
	}

	for {
		err := p.handler.HandleBatchIngested(ctx, rec, evt)
		if err == nil {
			break
		}
		handlerRetriesCounter.Inc()
		p.logger.Printf("handling batch %s failed, retrying in %s: %v", evt.BatchID, p.retryDelay, err)

		select {
		case <-ctx.Done():
			return "", context.Canceled
		case <-time.After(p.retryDelay):
		}
	}

	recordsSeenCounter.Add(float64(evt.RecordCount))
	deliveryLag.Observe(p.now().Sub(evt.IngestedAt).Seconds())
	return outcomeStored, nil
}

func decodeBatchIngested(msg kafka.Message) (Record, events.BatchIngested, error) {
	if len(msg.Value) < 5 {
		return Record{}, events.BatchIngested{}, fmt.Errorf("frame too short: %d bytes", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Record{}, events.BatchIngested{}, fmt.Errorf("unknown magic byte %d", msg.Value[0])
	}

	var evt events.BatchIngested
	if err := json.Unmarshal(msg.Value[5:], &evt); err != nil {
		return Record{}, events.BatchIngested{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Record{}, events.BatchIngested{}, err
	}
	if batchID := header(msg, events.HeaderBatchID); batchID != evt.BatchID {
		return Record{}, events.BatchIngested{}, fmt.Errorf("batch_id header %q does not match payload %q", batchID, evt.BatchID)
	}

	return Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		SchemaID:  int(binary.BigEndian.Uint32(msg.Value[1:5])),
	}, evt, nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
