// Package memory provides an in-process MetricRepository for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"example.com/healthmetrics/internal/domain"
)

// Repository keeps readings in a slice guarded by a RWMutex.
type Repository struct {
	mu      sync.RWMutex
	nextID  int64
	metrics []domain.HealthMetric
	batches []domain.Batch
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{nextID: 1}
}

// InsertBatch implements domain.MetricRepository.
func (r *Repository) InsertBatch(ctx context.Context, batch domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reading := range batch.Readings {
		r.metrics = append(r.metrics, domain.HealthMetric{
			ID:        r.nextID,
			UserID:    reading.UserID,
			Timestamp: reading.Timestamp,
			HeartRate: reading.HeartRate,
			Steps:     reading.Steps,
			Calories:  reading.Calories,
		})
		r.nextID++
	}
	r.batches = append(r.batches, batch)
	return nil
}

// Aggregate implements domain.MetricRepository.
func (r *Repository) Aggregate(ctx context.Context, window domain.Window) (*domain.Totals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		count        int64
		sumHeartRate int64
		totals       domain.Totals
	)
	for _, m := range r.metrics {
		if m.UserID != window.UserID || !window.Contains(m.Timestamp) {
			continue
		}
		count++
		sumHeartRate += int64(m.HeartRate)
		totals.TotalSteps += int64(m.Steps)
		totals.TotalCalories += m.Calories
	}
	if count == 0 {
		return nil, nil
	}
	totals.AvgHeartRate = decimal.NewFromInt(sumHeartRate).Div(decimal.NewFromInt(count))
	return &totals, nil
}

// Metrics returns a copy of every stored reading in insertion order.
func (r *Repository) Metrics() []domain.HealthMetric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.HealthMetric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Batches returns a copy of every committed batch.
func (r *Repository) Batches() []domain.Batch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Batch, len(r.batches))
	copy(out, r.batches)
	return out
}
