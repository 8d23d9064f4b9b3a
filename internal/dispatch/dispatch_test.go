package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/mailer"
	"fx-rate-alerts/internal/storage"
)

type fakeRegistry struct {
	subs []storage.Subscriber
	err  error
}

func (f *fakeRegistry) ListSubscribed(ctx context.Context) ([]storage.Subscriber, error) {
	return f.subs, f.err
}

type pair struct {
	subscriberID int64
	evaluationID int64
}

type fakeRecords struct {
	mu      sync.Mutex
	records map[pair]time.Time
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[pair]time.Time)}
}

func (f *fakeRecords) InsertDispatchRecord(ctx context.Context, rec storage.DispatchRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair{rec.SubscriberID, rec.EvaluationID}
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	f.records[key] = rec.SentAt
	return true, nil
}

func (f *fakeRecords) HasDispatchRecord(ctx context.Context, subscriberID, evaluationID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[pair{subscriberID, evaluationID}]
	return ok, nil
}

func (f *fakeRecords) CountDispatchRecords(ctx context.Context, evaluationID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for key := range f.records {
		if key.evaluationID == evaluationID {
			count++
		}
	}
	return count, nil
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: make(map[string]error)}
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func lowEvaluation(id int64) storage.Evaluation {
	return storage.Evaluation{
		ID:          id,
		RunTS:       time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		CurrentRate: decimal.NewFromInt(950),
		AverageRate: decimal.NewFromInt(1000),
		Status:      storage.StatusLow,
	}
}

func subscribers(n int) []storage.Subscriber {
	subs := make([]storage.Subscriber, 0, n)
	for i := 1; i <= n; i++ {
		subs = append(subs, storage.Subscriber{
			ID:         int64(i),
			Email:      fmt.Sprintf("user%d@example.com", i),
			Subscribed: true,
		})
	}
	return subs
}

func newDispatcher(registry storage.SubscriberRegistry, records storage.DispatchStore, m mailer.Mailer, workers int) *Dispatcher {
	return New(registry, records, m, Options{
		MaxConcurrent:  workers,
		SendTimeout:    time.Second,
		SubjectPrefix:  "[FX Alert]",
		BaseCurrency:   "USD",
		TargetCurrency: "KRW",
	}, zerolog.Nop())
}

func TestDispatchNonLowIsNoop(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers(3)}
	records := newFakeRecords()
	m := newFakeMailer()
	d := newDispatcher(registry, records, m, 1)

	eval := lowEvaluation(1)
	eval.Status = storage.StatusNeutral

	result, err := d.Dispatch(context.Background(), eval)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Attempted != 0 || result.Sent != 0 || len(result.Failed) != 0 {
		t.Fatalf("NEUTRAL evaluation should dispatch nothing, got %+v", result)
	}
	if m.sentCount() != 0 {
		t.Fatalf("no mail should be sent, got %d", m.sentCount())
	}
	if count, _ := records.CountDispatchRecords(context.Background(), eval.ID); count != 0 {
		t.Fatalf("no dispatch records should exist, got %d", count)
	}
}

func TestDispatchFansOutToAllSubscribed(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers(3)}
	records := newFakeRecords()
	m := newFakeMailer()
	d := newDispatcher(registry, records, m, 1)

	result, err := d.Dispatch(context.Background(), lowEvaluation(1))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Attempted != 3 || result.Sent != 3 || len(result.Failed) != 0 {
		t.Fatalf("expected 3 attempted / 3 sent, got %+v", result)
	}
	if count, _ := records.CountDispatchRecords(context.Background(), 1); count != 3 {
		t.Fatalf("expected 3 dispatch records, got %d", count)
	}
	if has, _ := records.HasDispatchRecord(context.Background(), 4, 1); has {
		t.Fatal("unsubscribed user must never be recorded")
	}
}

func TestDispatchSkipsExistingRecords(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers(3)}
	records := newFakeRecords()
	if _, err := records.InsertDispatchRecord(context.Background(), storage.DispatchRecord{SubscriberID: 1, EvaluationID: 1, SentAt: time.Now()}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	m := newFakeMailer()
	d := newDispatcher(registry, records, m, 1)

	result, err := d.Dispatch(context.Background(), lowEvaluation(1))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %+v", result)
	}
	if result.Attempted != 2 || result.Sent != 2 {
		t.Fatalf("expected 2 attempted / 2 sent, got %+v", result)
	}
	if m.sentCount() != 2 {
		t.Fatalf("already-notified subscriber must not get a second mail, sent %d", m.sentCount())
	}
}

func TestDispatchPartialFailureAndRetry(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers(3)}
	records := newFakeRecords()
	m := newFakeMailer()
	m.failFor["user2@example.com"] = errors.New("smtp timeout")
	d := newDispatcher(registry, records, m, 1)

	result, err := d.Dispatch(context.Background(), lowEvaluation(1))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Attempted != 3 || result.Sent != 2 {
		t.Fatalf("expected attempted=3 sent=2, got %+v", result)
	}
	if len(result.Failed) != 1 || result.Failed[0].SubscriberID != 2 {
		t.Fatalf("expected one failure for subscriber 2, got %+v", result.Failed)
	}
	if count, _ := records.CountDispatchRecords(context.Background(), 1); count != 2 {
		t.Fatalf("failed send must not write a record, got %d records", count)
	}

	// The failure clears; a replay sends only to the remaining subscriber.
	delete(m.failFor, "user2@example.com")
	retry, err := d.Dispatch(context.Background(), lowEvaluation(1))
	if err != nil {
		t.Fatalf("retry Dispatch failed: %v", err)
	}
	if retry.Attempted != 1 || retry.Sent != 1 || retry.Skipped != 2 {
		t.Fatalf("retry should only reach the failed subscriber, got %+v", retry)
	}
	if count, _ := records.CountDispatchRecords(context.Background(), 1); count != 3 {
		t.Fatalf("expected 3 records after retry, got %d", count)
	}
}

func TestDispatchLateSubscriberNotRetroactive(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers(3)}
	records := newFakeRecords()
	m := newFakeMailer()
	d := newDispatcher(registry, records, m, 1)

	if _, err := d.Dispatch(context.Background(), lowEvaluation(1)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// A user subscribing after the run completed is only picked up by the
	// next evaluation.
	registry.subs = append(registry.subs, storage.Subscriber{ID: 4, Email: "late@example.com", Subscribed: true})

	if has, _ := records.HasDispatchRecord(context.Background(), 4, 1); has {
		t.Fatal("late subscriber must not be notified for a past evaluation")
	}

	if _, err := d.Dispatch(context.Background(), lowEvaluation(2)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if has, _ := records.HasDispatchRecord(context.Background(), 4, 2); !has {
		t.Fatal("late subscriber should be notified for the next evaluation")
	}
	if has, _ := records.HasDispatchRecord(context.Background(), 4, 1); has {
		t.Fatal("dispatching a later evaluation must not backfill older ones")
	}
}

func TestDispatchConcurrentWorkers(t *testing.T) {
	subs := make([]storage.Subscriber, 0, 20)
	for i := 1; i <= 20; i++ {
		subs = append(subs, storage.Subscriber{ID: int64(i), Email: "bulk@example.com", Subscribed: true})
	}
	registry := &fakeRegistry{subs: subs}
	records := newFakeRecords()
	m := newFakeMailer()
	d := newDispatcher(registry, records, m, 4)

	result, err := d.Dispatch(context.Background(), lowEvaluation(1))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Sent != 20 || len(result.Failed) != 0 {
		t.Fatalf("expected 20 sent with parallel workers, got %+v", result)
	}
	if count, _ := records.CountDispatchRecords(context.Background(), 1); count != 20 {
		t.Fatalf("expected 20 records, got %d", count)
	}
}

func TestDispatchRegistryError(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("registry down")}
	d := newDispatcher(registry, newFakeRecords(), newFakeMailer(), 1)

	if _, err := d.Dispatch(context.Background(), lowEvaluation(1)); err == nil {
		t.Fatal("registry failure should surface as an error")
	}
}

func TestRenderBody(t *testing.T) {
	body := RenderBody(lowEvaluation(1), "USD", "KRW")
	for _, want := range []string{"USD", "KRW", "950.0000", "1000.0000", "LOW", "5.00%"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body should contain %q:\n%s", want, body)
		}
	}
}

func TestSubject(t *testing.T) {
	subject := Subject("[FX Alert]", "USD", "KRW")
	if !strings.HasPrefix(subject, "[FX Alert]") {
		t.Fatalf("subject should carry the prefix, got %q", subject)
	}
	if !strings.Contains(subject, "USD/KRW") {
		t.Fatalf("subject should name the pair, got %q", subject)
	}
}
