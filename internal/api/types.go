package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/relvacode/iso8601"

	"example.com/healthmetrics/internal/domain"
)

// DateTime is an ISO 8601 instant. Values without a zone offset are read as UTC.
type DateTime time.Time

// UnmarshalText parses an ISO 8601 date-time.
func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*dt = DateTime(parsed)
	return nil
}

// MarshalText formats the instant as RFC 3339.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(time.Time(dt).Format(time.RFC3339Nano)), nil
}

// ReadingRequest is one element of the POST /ingest body. Pointers distinguish absent fields from zero values.
type ReadingRequest struct {
	UserID    *int64    `json:"user_id"`
	Timestamp *DateTime `json:"timestamp"`
	HeartRate *int32    `json:"heart_rate"`
	Steps     *int32    `json:"steps"`
	Calories  *float64  `json:"calories"`
}

// Validate ensures every field is present. Values are not range checked.
func (r ReadingRequest) Validate() error {
	var errs []error
	if r.UserID == nil {
		errs = append(errs, errors.New("user_id is required"))
	}
	if r.Timestamp == nil {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if r.HeartRate == nil {
		errs = append(errs, errors.New("heart_rate is required"))
	}
	if r.Steps == nil {
		errs = append(errs, errors.New("steps is required"))
	}
	if r.Calories == nil {
		errs = append(errs, errors.New("calories is required"))
	}
	return errors.Join(errs...)
}

func (r ReadingRequest) toReading() domain.Reading {
	return domain.Reading{
		UserID:    *r.UserID,
		Timestamp: time.Time(*r.Timestamp),
		HeartRate: *r.HeartRate,
		Steps:     *r.Steps,
		Calories:  *r.Calories,
	}
}

func validateReadings(reqs []ReadingRequest) ([]domain.Reading, error) {
	readings := make([]domain.Reading, 0, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		readings = append(readings, req.toReading())
	}
	return readings, nil
}

// IngestResponse is the body returned by POST /ingest.
type IngestResponse struct {
	Message string `json:"message"`
}

// AggregatedMetricsResponse is the body returned by GET /metrics.
type AggregatedMetricsResponse struct {
	AverageHeartRate float64 `json:"average_heart_rate"`
	TotalSteps       int64   `json:"total_steps"`
	TotalCalories    float64 `json:"total_calories"`
}
