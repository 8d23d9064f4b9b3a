package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status classifies the current rate against the trailing average.
type Status string

const (
	StatusLow     Status = "LOW"
	StatusHigh    Status = "HIGH"
	StatusNeutral Status = "NEUTRAL"
)

// Evaluation is the persisted outcome of one scheduled pipeline run.
// Read-only after creation; RunTS is the natural dedup key.
type Evaluation struct {
	ID          int64
	RunTS       time.Time
	ObsDate     time.Time
	CurrentRate decimal.Decimal
	AverageRate decimal.Decimal
	WindowStart time.Time
	WindowEnd   time.Time
	Status      Status
	CreatedAt   time.Time
}

// Subscriber is owned by the external registry; the core only reads it.
type Subscriber struct {
	ID         int64
	Email      string
	Subscribed bool
	CreatedAt  time.Time
}

// DispatchRecord marks a delivered notification. Its presence for a
// (subscriber, evaluation) pair is the sole deduplication invariant.
type DispatchRecord struct {
	SubscriberID int64
	EvaluationID int64
	SentAt       time.Time
}
