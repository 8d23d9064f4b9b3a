package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type staticProvider struct {
	latest Observation
	err    error
}

func (s *staticProvider) FetchLatest(ctx context.Context) (Observation, error) {
	return s.latest, s.err
}

func (s *staticProvider) FetchTimeseries(ctx context.Context, from, to time.Time) ([]Observation, error) {
	return nil, s.err
}

type memObservationStore struct {
	byDate map[time.Time]Observation
}

func newMemObservationStore() *memObservationStore {
	return &memObservationStore{byDate: make(map[time.Time]Observation)}
}

func (m *memObservationStore) InsertObservation(ctx context.Context, obs Observation) error {
	if _, ok := m.byDate[obs.Date]; ok {
		return ErrDuplicateObservation
	}
	m.byDate[obs.Date] = obs
	return nil
}

func (m *memObservationStore) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]Observation, error) {
	observations := make([]Observation, 0)
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		if obs, ok := m.byDate[date]; ok {
			observations = append(observations, obs)
		}
	}
	return observations, nil
}

func (m *memObservationStore) ObservationRange(ctx context.Context) (time.Time, time.Time, error) {
	var first, last time.Time
	for date := range m.byDate {
		if first.IsZero() || date.Before(first) {
			first = date
		}
		if last.IsZero() || date.After(last) {
			last = date
		}
	}
	return first, last, nil
}

func dayOf(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLatestRecordsObservation(t *testing.T) {
	store := newMemObservationStore()
	provider := &staticProvider{latest: Observation{Date: dayOf("2026-08-28"), Rate: decimal.NewFromInt(1315)}}
	adapter := NewAdapter(provider, store, noopLogger())

	obs, err := adapter.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !obs.Rate.Equal(decimal.NewFromInt(1315)) {
		t.Fatalf("unexpected rate %s", obs.Rate)
	}
	if _, ok := store.byDate[dayOf("2026-08-28")]; !ok {
		t.Fatal("fetched observation should be recorded")
	}
}

func TestLatestToleratesSameDayRefetch(t *testing.T) {
	store := newMemObservationStore()
	provider := &staticProvider{latest: Observation{Date: dayOf("2026-08-28"), Rate: decimal.NewFromInt(1315)}}
	adapter := NewAdapter(provider, store, noopLogger())

	if _, err := adapter.Latest(context.Background()); err != nil {
		t.Fatalf("first Latest failed: %v", err)
	}
	// Second scheduled run on the same date hits the append-only constraint.
	if _, err := adapter.Latest(context.Background()); err != nil {
		t.Fatalf("same-day refetch should not fail: %v", err)
	}
	if len(store.byDate) != 1 {
		t.Fatalf("expected a single stored observation, got %d", len(store.byDate))
	}
}

func TestLatestSourceUnavailable(t *testing.T) {
	provider := &staticProvider{err: ErrSourceUnavailable}
	adapter := NewAdapter(provider, newMemObservationStore(), noopLogger())

	if _, err := adapter.Latest(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestHistoryInsufficientWhenEmpty(t *testing.T) {
	adapter := NewAdapter(&staticProvider{}, newMemObservationStore(), noopLogger())

	if _, err := adapter.History(context.Background(), 3); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestHistoryInsufficientWhenTooShort(t *testing.T) {
	store := newMemObservationStore()
	// Only two years of data.
	_ = store.InsertObservation(context.Background(), Observation{Date: dayOf("2024-08-28"), Rate: decimal.NewFromInt(1200)})
	_ = store.InsertObservation(context.Background(), Observation{Date: dayOf("2026-08-28"), Rate: decimal.NewFromInt(1300)})
	adapter := NewAdapter(&staticProvider{}, store, noopLogger())

	if _, err := adapter.History(context.Background(), 3); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestHistoryReturnsWindow(t *testing.T) {
	store := newMemObservationStore()
	_ = store.InsertObservation(context.Background(), Observation{Date: dayOf("2022-08-28"), Rate: decimal.NewFromInt(1100)})
	_ = store.InsertObservation(context.Background(), Observation{Date: dayOf("2024-01-15"), Rate: decimal.NewFromInt(1250)})
	_ = store.InsertObservation(context.Background(), Observation{Date: dayOf("2026-08-28"), Rate: decimal.NewFromInt(1300)})
	adapter := NewAdapter(&staticProvider{}, store, noopLogger())

	history, err := adapter.History(context.Background(), 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	// The 2022 observation anchors coverage but falls outside the window.
	if len(history) != 2 {
		t.Fatalf("expected 2 observations in window, got %d", len(history))
	}
	if !history[0].Date.Before(history[1].Date) {
		t.Fatal("history must be ascending by date")
	}
}
