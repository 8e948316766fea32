package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Attempts   *prometheus.CounterVec
	Lockouts   *prometheus.CounterVec
	RiskScores prometheus.Histogram
	Completed  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_verification_attempts_total",
			Help: "Verification attempts by method and outcome",
		}, []string{"method", "outcome"}),
		Lockouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_verification_lockouts_total",
			Help: "Lockouts applied, by cause",
		}, []string{"cause"}),
		RiskScores: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_verification_risk_score",
			Help:    "Risk scores computed at initiation",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		Completed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_verification_completions_total",
			Help: "Completion checks by result",
		}, []string{"verified"}),
	}
}
