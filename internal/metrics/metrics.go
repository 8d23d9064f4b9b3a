package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	RunsTotal                *prometheus.CounterVec
	EvaluationsTotal         *prometheus.CounterVec
	NotificationsSentTotal   prometheus.Counter
	NotificationsFailedTotal prometheus.Counter
	LastRunTimestamp         prometheus.Gauge
}

// New registers the pipeline collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxalert_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxalert_evaluations_total",
			Help: "Evaluations recorded by status.",
		}, []string{"status"}),
		NotificationsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxalert_notifications_sent_total",
			Help: "Notification emails delivered.",
		}),
		NotificationsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxalert_notifications_failed_total",
			Help: "Notification emails that failed to deliver.",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fxalert_last_run_timestamp_seconds",
			Help: "Unix time of the last completed pipeline run.",
		}),
	}
}
