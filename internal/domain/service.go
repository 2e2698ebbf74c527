// Package domain defines the business logic for the health metrics service.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/healthmetrics/internal/observability"
)

const averagePlaces = 2

// ErrNoData is returned when an aggregation window matches no readings.
var ErrNoData = errors.New("no data found for given parameters")

// MetricRepository captures persistence operations.
type MetricRepository interface {
	InsertBatch(ctx context.Context, batch Batch) error
	// Aggregate returns nil totals when no readings match the window.
	Aggregate(ctx context.Context, window Window) (*Totals, error)
}

// Service orchestrates ingestion and aggregation.
type Service struct {
	repo MetricRepository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo MetricRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// IngestResult reports the outcome of a batch ingestion.
type IngestResult struct {
	BatchID string
	Count   int
}

// Ingest persists all readings atomically. Identical readings are stored again on every call.
func (s *Service) Ingest(ctx context.Context, readings []Reading) (IngestResult, error) {
	if len(readings) == 0 {
		return IngestResult{}, nil
	}

	batch := Batch{
		ID:         uuid.NewString(),
		Readings:   make([]Reading, len(readings)),
		IngestedAt: s.now().UTC(),
	}
	for i, r := range readings {
		r.Timestamp = r.Timestamp.UTC()
		batch.Readings[i] = r
	}

	if err := s.repo.InsertBatch(ctx, batch); err != nil {
		return IngestResult{}, err
	}
	observability.RecordBatchPersisted(len(batch.Readings), batch.IngestedAt)
	return IngestResult{BatchID: batch.ID, Count: len(batch.Readings)}, nil
}

// Aggregate computes the mean heart rate and the step and calorie totals inside the window.
// The mean is rounded half to even on its exact decimal value, so 70.125 becomes 70.12.
func (s *Service) Aggregate(ctx context.Context, window Window) (*Aggregate, error) {
	totals, err := s.repo.Aggregate(ctx, window)
	if err != nil {
		return nil, err
	}
	if totals == nil {
		return nil, ErrNoData
	}
	return &Aggregate{
		AverageHeartRate: totals.AvgHeartRate.RoundBank(averagePlaces).InexactFloat64(),
		TotalSteps:       totals.TotalSteps,
		TotalCalories:    totals.TotalCalories,
	}, nil
}
