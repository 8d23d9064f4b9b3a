package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrDuplicateObservation signals an insert for a date that is already
// recorded. Observations are append-only; a conflicting write is rejected
// rather than overwritten.
var ErrDuplicateObservation = errors.New("rates: observation already recorded for date")

// ObservationStore persists daily observations.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs Observation) error
	ListObservationsBetween(ctx context.Context, from, to time.Time) ([]Observation, error)
	ObservationRange(ctx context.Context) (first, last time.Time, err error)
}

// Adapter combines the upstream provider with the observation store: every
// fetched rate is recorded before use, and history is served from storage.
type Adapter struct {
	provider Provider
	store    ObservationStore
	logger   zerolog.Logger
}

// NewAdapter wires a provider and store into a rate source.
func NewAdapter(provider Provider, store ObservationStore, logger zerolog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		store:    store,
		logger:   logger.With().Str("component", "rate_source").Logger(),
	}
}

// Latest fetches the current observation from upstream and records it.
// A second fetch on the same date is tolerated: the store keeps the first
// recorded value and the fetched one is returned unchanged.
func (a *Adapter) Latest(ctx context.Context) (Observation, error) {
	obs, err := a.provider.FetchLatest(ctx)
	if err != nil {
		return Observation{}, err
	}
	obs.Date = Day(obs.Date)

	if err := a.store.InsertObservation(ctx, obs); err != nil {
		if errors.Is(err, ErrDuplicateObservation) {
			a.logger.Debug().Time("date", obs.Date).Msg("observation already recorded for date")
		} else {
			return Observation{}, fmt.Errorf("record observation: %w", err)
		}
	}

	return obs, nil
}

// History returns stored observations covering the trailing window of the
// given number of years, ordered by date ascending. It fails with
// ErrInsufficientHistory when the stored data does not span the window.
func (a *Adapter) History(ctx context.Context, years int) ([]Observation, error) {
	first, last, err := a.store.ObservationRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("observation range: %w", err)
	}
	if last.IsZero() {
		return nil, fmt.Errorf("%w: no observations recorded", ErrInsufficientHistory)
	}

	windowStart := last.AddDate(-years, 0, 0)
	if first.After(windowStart) {
		return nil, fmt.Errorf("%w: stored data starts %s, need %s", ErrInsufficientHistory,
			first.Format(dateLayout), windowStart.Format(dateLayout))
	}

	return a.store.ListObservationsBetween(ctx, windowStart, last)
}

var _ Source = (*Adapter)(nil)
