package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WarningsFired      *prometheus.CounterVec
	EscalationsRaised  *prometheus.CounterVec
	EscalationsPending prometheus.Gauge
	OverdueRequests    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WarningsFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_timeline_warnings_fired_total",
			Help: "Deadline warnings fired by days remaining",
		}, []string{"days"}),
		EscalationsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_timeline_escalations_total",
			Help: "Escalations raised to operators by reason",
		}, []string{"reason"}),
		EscalationsPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsr_timeline_escalations_undelivered",
			Help: "Escalations persisted but not yet recorded in the audit log",
		}),
		OverdueRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsr_timeline_overdue_requests",
			Help: "Open requests past their legal deadline at the last sweep",
		}),
	}
}
