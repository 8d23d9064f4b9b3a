package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var seoul = mustLoad("Asia/Seoul")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestScheduler(t *testing.T, businessDaysOnly bool) *Scheduler {
	t.Helper()
	times, err := ParseTimes([]string{"09:00", "12:00"})
	if err != nil {
		t.Fatalf("ParseTimes failed: %v", err)
	}
	s, err := New(Options{
		TriggerTimes:     times,
		Location:         seoul,
		BusinessDaysOnly: businessDaysOnly,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestParseTimes(t *testing.T) {
	times, err := ParseTimes([]string{"09:00", "23:59"})
	if err != nil {
		t.Fatalf("ParseTimes failed: %v", err)
	}
	if times[0] != (TimeOfDay{Hour: 9, Minute: 0}) || times[1] != (TimeOfDay{Hour: 23, Minute: 59}) {
		t.Fatalf("unexpected parse result: %+v", times)
	}

	for _, invalid := range []string{"9am", "24:00", "09:60", "090:0", ""} {
		if _, err := ParseTimes([]string{invalid}); err == nil {
			t.Fatalf("ParseTimes(%q) should fail", invalid)
		}
	}
}

func TestNewRequiresTriggerTimes(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("New without trigger times should fail")
	}
}

func TestNextTriggerSameDay(t *testing.T) {
	s := newTestScheduler(t, true)

	// Wednesday 2026-08-26, 08:30 KST -> 09:00 same day.
	now := time.Date(2026, 8, 26, 8, 30, 0, 0, seoul)
	next := s.NextTrigger(now)
	want := time.Date(2026, 8, 26, 9, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	// 10:00 -> 12:00 same day.
	now = time.Date(2026, 8, 26, 10, 0, 0, 0, seoul)
	next = s.NextTrigger(now)
	want = time.Date(2026, 8, 26, 12, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextTriggerRollsToNextDay(t *testing.T) {
	s := newTestScheduler(t, true)

	// Wednesday 13:00 -> Thursday 09:00.
	now := time.Date(2026, 8, 26, 13, 0, 0, 0, seoul)
	next := s.NextTrigger(now)
	want := time.Date(2026, 8, 27, 9, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextTriggerSkipsWeekend(t *testing.T) {
	s := newTestScheduler(t, true)

	// Friday 2026-08-28, 12:01 -> Monday 09:00.
	now := time.Date(2026, 8, 28, 12, 1, 0, 0, seoul)
	next := s.NextTrigger(now)
	want := time.Date(2026, 8, 31, 9, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected Monday 09:00, got %s", next)
	}

	// Saturday morning also lands on Monday.
	now = time.Date(2026, 8, 29, 6, 0, 0, 0, seoul)
	next = s.NextTrigger(now)
	if !next.Equal(want) {
		t.Fatalf("expected Monday 09:00, got %s", next)
	}
}

func TestNextTriggerWeekendAllowed(t *testing.T) {
	s := newTestScheduler(t, false)

	// Saturday fires normally when business-days-only is off.
	now := time.Date(2026, 8, 29, 6, 0, 0, 0, seoul)
	next := s.NextTrigger(now)
	want := time.Date(2026, 8, 29, 9, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected Saturday 09:00, got %s", next)
	}
}

func TestNextTriggerExcludesExactNow(t *testing.T) {
	s := newTestScheduler(t, true)

	// Exactly at a trigger instant the next one is strictly later.
	now := time.Date(2026, 8, 26, 9, 0, 0, 0, seoul)
	next := s.NextTrigger(now)
	want := time.Date(2026, 8, 26, 12, 0, 0, 0, seoul)
	if !next.Equal(want) {
		t.Fatalf("expected 12:00, got %s", next)
	}
}

func TestStateStartsIdle(t *testing.T) {
	s := newTestScheduler(t, true)
	if s.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", s.State())
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	s := newTestScheduler(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, runTS time.Time) error { return nil })
	if err == nil {
		t.Fatal("Run with a cancelled context should return its error")
	}
}
