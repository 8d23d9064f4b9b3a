package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-rate-alerts/internal/mailer"
	"fx-rate-alerts/internal/storage"
)

// Failure carries one subscriber's delivery error.
type Failure struct {
	SubscriberID int64
	Email        string
	Err          error
}

// Result summarises one dispatch pass. Attempted counts subscribers for whom
// a send was actually tried; pairs already covered by a dispatch record are
// counted as Skipped.
type Result struct {
	Attempted int
	Sent      int
	Skipped   int
	Failed    []Failure
}

// Options tune dispatch behaviour.
type Options struct {
	MaxConcurrent  int
	SendTimeout    time.Duration
	SubjectPrefix  string
	BaseCurrency   string
	TargetCurrency string
}

// Dispatcher fans a LOW evaluation out to subscribed users, delivering at
// most one notification per subscriber per evaluation.
type Dispatcher struct {
	registry storage.SubscriberRegistry
	records  storage.DispatchStore
	mailer   mailer.Mailer
	opts     Options
	logger   zerolog.Logger
}

// New constructs a dispatcher.
func New(registry storage.SubscriberRegistry, records storage.DispatchStore, m mailer.Mailer, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		records:  records,
		mailer:   m,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch notifies every currently-subscribed user about a LOW evaluation.
// Non-LOW evaluations are a no-op. One subscriber's failure never blocks the
// others; failures are collected into the result, and no dispatch record is
// written for a failed send so the next run can retry it.
func (d *Dispatcher) Dispatch(ctx context.Context, eval storage.Evaluation) (Result, error) {
	if eval.Status != storage.StatusLow {
		return Result{}, nil
	}

	subscribers, err := d.registry.ListSubscribed(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		d.logger.Info().Int64("evaluation_id", eval.ID).Msg("no subscribed users, nothing to dispatch")
		return Result{}, nil
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result Result
		sem    = make(chan struct{}, d.opts.MaxConcurrent)
	)

	for _, sub := range subscribers {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub storage.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, sendErr := d.sendOne(ctx, eval, sub)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSkipped:
				result.Skipped++
			case outcomeSent:
				result.Attempted++
				result.Sent++
			case outcomeFailed:
				result.Attempted++
				result.Failed = append(result.Failed, Failure{
					SubscriberID: sub.ID,
					Email:        sub.Email,
					Err:          sendErr,
				})
			}
		}(sub)
	}
	wg.Wait()

	d.logger.Info().Int64("evaluation_id", eval.ID).
		Int("attempted", result.Attempted).
		Int("sent", result.Sent).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failed)).
		Msg("dispatch pass complete")

	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (d *Dispatcher) sendOne(ctx context.Context, eval storage.Evaluation, sub storage.Subscriber) (outcome, error) {
	exists, err := d.records.HasDispatchRecord(ctx, sub.ID, eval.ID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("check dispatch record: %w", err)
	}
	if exists {
		d.logger.Debug().Int64("subscriber_id", sub.ID).Int64("evaluation_id", eval.ID).
			Msg("already notified, skipping")
		return outcomeSkipped, nil
	}

	msg := mailer.Message{
		To:      sub.Email,
		Subject: Subject(d.opts.SubjectPrefix, d.opts.BaseCurrency, d.opts.TargetCurrency),
		Body:    RenderBody(eval, d.opts.BaseCurrency, d.opts.TargetCurrency),
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	if err := d.mailer.Send(sendCtx, msg); err != nil {
		d.logger.Error().Err(err).Int64("subscriber_id", sub.ID).Str("email", sub.Email).
			Msg("notification send failed")
		return outcomeFailed, err
	}

	inserted, err := d.records.InsertDispatchRecord(ctx, storage.DispatchRecord{
		SubscriberID: sub.ID,
		EvaluationID: eval.ID,
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		// The mail went out but the record did not stick; the next run will
		// resend. Surface it so the operator sees why a duplicate may arrive.
		return outcomeFailed, fmt.Errorf("record dispatch: %w", err)
	}
	if !inserted {
		d.logger.Warn().Int64("subscriber_id", sub.ID).Int64("evaluation_id", eval.ID).
			Msg("dispatch record already claimed by a concurrent run")
	}

	return outcomeSent, nil
}
