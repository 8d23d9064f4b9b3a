package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fx-rate-alerts/internal/average"
	"fx-rate-alerts/internal/config"
	"fx-rate-alerts/internal/dispatch"
	"fx-rate-alerts/internal/metrics"
	"fx-rate-alerts/internal/rates"
	"fx-rate-alerts/internal/scheduler"
	"fx-rate-alerts/internal/storage"
)

// Evaluator derives and persists the evaluation for one trigger instant.
type Evaluator interface {
	Evaluate(ctx context.Context, current rates.Observation, window average.Window, runTS time.Time) (storage.Evaluation, error)
}

// Dispatcher fans a LOW evaluation out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, eval storage.Evaluation) (dispatch.Result, error)
}

// Pipeline orchestrates one full run: fetch, average, evaluate, dispatch.
type Pipeline struct {
	scheduler  *scheduler.Scheduler
	source     rates.Source
	evaluator  Evaluator
	dispatcher Dispatcher
	locker     storage.AdvisoryLocker
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	windowYears int
	lockKey     int64
	notifyOn    bool
}

// New constructs the evaluation pipeline.
func New(cfg *config.Config, sched *scheduler.Scheduler, source rates.Source, evaluator Evaluator, dispatcher Dispatcher, locker storage.AdvisoryLocker, mets *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		scheduler:   sched,
		source:      source,
		evaluator:   evaluator,
		dispatcher:  dispatcher,
		locker:      locker,
		metrics:     mets,
		logger:      logger.With().Str("component", "pipeline").Logger(),
		windowYears: cfg.Average.WindowYears,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		notifyOn:    cfg.Notify.Enabled,
	}
}

// Run begins the scheduled loop.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return p.scheduler.Run(ctx, p.RunTrigger)
}

// RunTrigger executes the full pipeline for one trigger instant. Fetch and
// average failures abort the run with no evaluation written; dispatch
// failures are partial and never abort it.
func (p *Pipeline) RunTrigger(ctx context.Context, runTS time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Debug().Time("run_ts", runTS).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := p.executeRun(ctx, runTS); err != nil {
		p.countRun("failed")
		return err
	}
	p.countRun("ok")
	return nil
}

func (p *Pipeline) executeRun(ctx context.Context, runTS time.Time) error {
	current, err := p.source.Latest(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest rate: %w", err)
	}

	history, err := p.source.History(ctx, p.windowYears)
	if err != nil {
		return fmt.Errorf("load rate history: %w", err)
	}

	window, err := average.Compute(history, p.windowYears)
	if err != nil {
		return fmt.Errorf("compute trailing average: %w", err)
	}

	eval, err := p.evaluator.Evaluate(ctx, current, window, runTS)
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.EvaluationsTotal.WithLabelValues(string(eval.Status)).Inc()
		p.metrics.LastRunTimestamp.SetToCurrentTime()
	}

	if eval.Status != storage.StatusLow {
		p.logger.Info().Time("run_ts", eval.RunTS).Str("status", string(eval.Status)).
			Msg("rate not below average, no notifications")
		return nil
	}

	if !p.notifyOn || p.dispatcher == nil {
		p.logger.Warn().Time("run_ts", eval.RunTS).Msg("rate below average but notifications disabled")
		return nil
	}

	result, err := p.dispatcher.Dispatch(ctx, eval)
	if err != nil {
		// Dispatch could not even start (registry unavailable). The
		// evaluation is committed, so the next run replays delivery.
		p.logger.Error().Err(err).Time("run_ts", eval.RunTS).Msg("dispatch aborted")
		return nil
	}

	if p.metrics != nil {
		p.metrics.NotificationsSentTotal.Add(float64(result.Sent))
		p.metrics.NotificationsFailedTotal.Add(float64(len(result.Failed)))
	}

	for _, failure := range result.Failed {
		p.logger.Error().Err(failure.Err).
			Int64("subscriber_id", failure.SubscriberID).
			Str("email", failure.Email).
			Msg("subscriber notification failed, will retry next run")
	}

	p.logger.Info().Time("run_ts", eval.RunTS).
		Int("attempted", result.Attempted).
		Int("sent", result.Sent).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failed)).
		Msg("notification dispatch complete")

	return nil
}

func (p *Pipeline) countRun(outcome string) {
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
