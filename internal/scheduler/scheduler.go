package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the scheduler lifecycle state. Transitions are IDLE -> RUNNING at
// each trigger and RUNNING -> IDLE when the pipeline completes; runs execute
// inline in the loop goroutine, so they are serialized by construction.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "IDLE"
}

// TimeOfDay is a wall-clock trigger point.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimes parses "HH:MM" trigger times.
func ParseTimes(values []string) ([]TimeOfDay, error) {
	times := make([]TimeOfDay, 0, len(values))
	for _, value := range values {
		parts := strings.Split(strings.TrimSpace(value), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid trigger time %q, want HH:MM", value)
		}
		hour, err := strconv.Atoi(parts[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid hour in trigger time %q", value)
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid minute in trigger time %q", value)
		}
		times = append(times, TimeOfDay{Hour: hour, Minute: minute})
	}
	return times, nil
}

// TriggerFunc is invoked at every trigger instant.
type TriggerFunc func(ctx context.Context, runTS time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	TriggerTimes     []TimeOfDay
	Location         *time.Location
	BusinessDaysOnly bool
	StartupDelay     time.Duration
}

// Scheduler fires the pipeline at fixed wall-clock times on business days.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	state  atomic.Int32
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if len(opts.TriggerTimes) == 0 {
		return nil, errors.New("scheduler requires at least one trigger time")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	times := make([]TimeOfDay, len(opts.TriggerTimes))
	copy(times, opts.TriggerTimes)
	sort.Slice(times, func(i, j int) bool {
		if times[i].Hour != times[j].Hour {
			return times[i].Hour < times[j].Hour
		}
		return times[i].Minute < times[j].Minute
	})
	opts.TriggerTimes = times

	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run blocks, invoking the trigger function at each trigger instant until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, trigger TriggerFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.NextTrigger(time.Now().In(s.opts.Location))
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_trigger", next).Msg("waiting for next trigger")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
			s.logger.Warn().Time("trigger", next).Msg("previous run still in progress, skipping trigger")
			continue
		}

		s.logger.Info().Time("trigger", next).Msg("executing scheduled run")
		if err := trigger(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("trigger", next).Msg("scheduled run failed")
		}
		s.state.Store(int32(StateIdle))
	}
}

// NextTrigger returns the first trigger instant strictly after now.
func (s *Scheduler) NextTrigger(now time.Time) time.Time {
	now = now.In(s.opts.Location)
	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		if s.opts.BusinessDaysOnly && isWeekend(day) {
			continue
		}
		for _, tod := range s.opts.TriggerTimes {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, 0, 0, s.opts.Location)
			if candidate.After(now) {
				return candidate
			}
		}
	}
	// Unreachable: any non-empty trigger set fires within a week.
	return now.AddDate(0, 0, 8)
}

func isWeekend(t time.Time) bool {
	weekday := t.Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}
