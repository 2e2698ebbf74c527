// Package events defines the payloads emitted when readings are ingested.
package events

import (
	"errors"
	"time"
)

// Event types and routing for ingestion events.
const (
	TypeBatchIngested    = "health_metrics.ingested"
	TopicBatchIngested   = "health_metrics_ingested"
	SubjectBatchIngested = "health_metrics_ingested-value"
)

// Kafka header keys attached to every published event.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
	HeaderBatchID       = "batch_id"
	HeaderAttempt       = "attempt"
)

// BatchIngested is recorded once per committed ingestion batch.
type BatchIngested struct {
	BatchID        string    `json:"batch_id"`
	RecordCount    int       `json:"record_count"`
	UserIDs        []int64   `json:"user_ids"`
	FirstTimestamp time.Time `json:"first_timestamp"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// Validate checks the fields a consumer relies on.
func (e BatchIngested) Validate() error {
	var errs []error
	if e.BatchID == "" {
		errs = append(errs, errors.New("batch_id is required"))
	}
	if e.RecordCount <= 0 {
		errs = append(errs, errors.New("record_count must be positive"))
	}
	if len(e.UserIDs) == 0 {
		errs = append(errs, errors.New("user_ids must not be empty"))
	}
	if e.LastTimestamp.Before(e.FirstTimestamp) {
		errs = append(errs, errors.New("last_timestamp precedes first_timestamp"))
	}
	return errors.Join(errs...)
}
