package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/storage"
)

type fakeReader struct {
	eval storage.Evaluation
	err  error
}

func (f *fakeReader) LatestEvaluation(ctx context.Context) (storage.Evaluation, error) {
	return f.eval, f.err
}

func TestLatestRateReturnsEvaluation(t *testing.T) {
	reader := &fakeReader{eval: storage.Evaluation{
		ID:          7,
		RunTS:       time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		CurrentRate: decimal.RequireFromString("1315.2500"),
		AverageRate: decimal.RequireFromString("1384.1000"),
		Status:      storage.StatusLow,
	}}
	s := NewServer(reader, "USD", "KRW", zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/latest", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body rateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Base != "USD" || body.Target != "KRW" {
		t.Fatalf("unexpected pair %s/%s", body.Base, body.Target)
	}
	if body.CurrentRate != "1315.2500" {
		t.Fatalf("unexpected current rate %q", body.CurrentRate)
	}
	if body.Status != string(storage.StatusLow) {
		t.Fatalf("unexpected status %q", body.Status)
	}
	if body.EvaluatedAt != "2026-08-28T09:00:00Z" {
		t.Fatalf("unexpected evaluated_at %q", body.EvaluatedAt)
	}
}

func TestLatestRateNotFound(t *testing.T) {
	s := NewServer(&fakeReader{err: storage.ErrNotFound}, "USD", "KRW", zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/latest", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer(&fakeReader{err: storage.ErrNotFound}, "USD", "KRW", zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
