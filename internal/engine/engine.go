package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/average"
	"fx-rate-alerts/internal/rates"
	"fx-rate-alerts/internal/storage"
)

// Engine derives an evaluation from the current rate and trailing average
// and persists it before handing it downstream.
type Engine struct {
	evaluations storage.EvaluationStore
	logger      zerolog.Logger
}

// New constructs the evaluation engine.
func New(evaluations storage.EvaluationStore, logger zerolog.Logger) *Engine {
	return &Engine{
		evaluations: evaluations,
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// Compare classifies the current rate against the average. Strict comparison,
// no tolerance: LOW below, HIGH above, NEUTRAL on exact equality.
func Compare(current, avg decimal.Decimal) storage.Status {
	switch current.Cmp(avg) {
	case -1:
		return storage.StatusLow
	case 1:
		return storage.StatusHigh
	default:
		return storage.StatusNeutral
	}
}

// Evaluate persists and returns the evaluation for one trigger instant.
// Replaying an instant that was already evaluated returns the stored row;
// no second evaluation is ever created for the same runTS.
func (e *Engine) Evaluate(ctx context.Context, current rates.Observation, window average.Window, runTS time.Time) (storage.Evaluation, error) {
	status := Compare(current.Rate, window.Mean)

	eval := storage.Evaluation{
		RunTS:       runTS.UTC().Truncate(time.Minute),
		ObsDate:     current.Date,
		CurrentRate: current.Rate,
		AverageRate: window.Mean,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Status:      status,
	}

	stored, err := e.evaluations.InsertEvaluation(ctx, eval)
	if err != nil {
		return storage.Evaluation{}, fmt.Errorf("persist evaluation: %w", err)
	}

	if stored.Status != status {
		// Replay with drifted inputs keeps the committed result authoritative.
		e.logger.Warn().Time("run_ts", stored.RunTS).
			Str("stored", string(stored.Status)).
			Str("computed", string(status)).
			Msg("replayed evaluation differs from stored result")
	}

	e.logger.Info().Time("run_ts", stored.RunTS).
		Str("status", string(stored.Status)).
		Str("current", stored.CurrentRate.String()).
		Str("average", stored.AverageRate.String()).
		Msg("evaluation recorded")

	return stored, nil
}
