package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthMetric is a single persisted wearable reading.
type HealthMetric struct {
	ID        int64
	UserID    int64
	Timestamp time.Time
	HeartRate int32
	Steps     int32
	Calories  float64
}

// Reading is an incoming sample before persistence assigns it an ID.
type Reading struct {
	UserID    int64
	Timestamp time.Time
	HeartRate int32
	Steps     int32
	Calories  float64
}

// Window selects one user's readings between Start and End, both inclusive.
type Window struct {
	UserID int64
	Start  time.Time
	End    time.Time
}

// Contains reports whether ts falls inside the window bounds.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// Totals is the unrounded aggregate computed by the store. AvgHeartRate is the exact mean.
type Totals struct {
	AvgHeartRate  decimal.Decimal
	TotalSteps    int64
	TotalCalories float64
}

// Aggregate is the rounded summary served to clients.
type Aggregate struct {
	AverageHeartRate float64
	TotalSteps       int64
	TotalCalories    float64
}

// Batch groups readings written in one transaction.
type Batch struct {
	ID         string
	Readings   []Reading
	IngestedAt time.Time
}
