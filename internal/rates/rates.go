package rates

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSourceUnavailable indicates the upstream rate API could not be reached
	// or returned an unusable response. A run hitting this aborts and retries
	// at the next scheduled trigger.
	ErrSourceUnavailable = errors.New("rates: source unavailable")

	// ErrInsufficientHistory indicates the stored observations do not cover
	// the requested trailing window.
	ErrInsufficientHistory = errors.New("rates: insufficient history")
)

// Observation is a single daily rate reading. Immutable once recorded.
type Observation struct {
	Date time.Time
	Rate decimal.Decimal
}

// Day normalises a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Provider retrieves rates from the upstream FX API.
type Provider interface {
	FetchLatest(ctx context.Context) (Observation, error)
	FetchTimeseries(ctx context.Context, from, to time.Time) ([]Observation, error)
}

// Source is what the evaluation pipeline consumes: the latest observation and
// the stored history backing the trailing average.
type Source interface {
	Latest(ctx context.Context) (Observation, error)
	History(ctx context.Context, years int) ([]Observation, error)
}
