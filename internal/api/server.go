package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fx-rate-alerts/internal/storage"
)

// EvaluationReader serves the latest committed evaluation.
type EvaluationReader interface {
	LatestEvaluation(ctx context.Context) (storage.Evaluation, error)
}

// Server exposes the read-only projection of the latest evaluation, plus
// health and metrics endpoints. Subscription management lives elsewhere.
type Server struct {
	echo   *echo.Echo
	reader EvaluationReader
	base   string
	target string
	logger zerolog.Logger
}

type rateResponse struct {
	Base        string `json:"base"`
	Target      string `json:"target"`
	CurrentRate string `json:"current_rate"`
	AverageRate string `json:"average_rate"`
	Status      string `json:"status"`
	EvaluatedAt string `json:"evaluated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the projection routes.
func NewServer(reader EvaluationReader, base, target string, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		reader: reader,
		base:   base,
		target: target,
		logger: logger.With().Str("component", "api").Logger(),
	}

	e.GET("/api/v1/rates/latest", s.latestRate)
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) latestRate(c echo.Context) error {
	eval, err := s.reader.LatestEvaluation(c.Request().Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "no evaluation recorded yet"})
		}
		s.logger.Error().Err(err).Msg("load latest evaluation failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, rateResponse{
		Base:        s.base,
		Target:      s.target,
		CurrentRate: eval.CurrentRate.StringFixed(4),
		AverageRate: eval.AverageRate.StringFixed(4),
		Status:      string(eval.Status),
		EvaluatedAt: eval.RunTS.UTC().Format(time.RFC3339),
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
