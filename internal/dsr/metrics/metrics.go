package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submitted   *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Escalations *prometheus.CounterVec
	Completion  prometheus.Histogram
	Open        prometheus.Gauge
	TaskLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_requests_submitted_total",
			Help: "DSR requests accepted by type",
		}, []string{"type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_request_transitions_total",
			Help: "State machine transitions",
		}, []string{"from", "to"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_request_failures_total",
			Help: "Requests moved to FAILED by error code",
		}, []string{"code"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_request_escalations_total",
			Help: "Requests handed to an operator by reason",
		}, []string{"reason"}),
		Completion: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_request_completion_hours",
			Help:    "Time from submission to completion",
			Buckets: []float64{1, 6, 24, 72, 168, 336, 504, 720},
		}),
		Open: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsr_requests_open",
			Help: "Non-terminal requests seen by the last scheduler pass",
		}),
		TaskLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsr_task_duration_seconds",
			Help:    "Background task handling time by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}
