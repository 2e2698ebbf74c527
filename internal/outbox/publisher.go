package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes framed events through a single writer. Every message carries its own topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers. Messages are partitioned by key,
// so all events of one batch land on the same partition.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Publish writes msgs and reports how many of them the brokers rejected.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	err := p.writer.WriteMessages(ctx, msgs...)
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		return fmt.Errorf("publish: %d of %d messages rejected: %w", writeErrs.Count(), len(msgs), err)
	}
	return err
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
