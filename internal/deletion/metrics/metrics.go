package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ItemsErased        prometheus.Counter
	PassFailures       *prometheus.CounterVec
	Jobs               *prometheus.CounterVec
	CertificatesIssued prometheus.Counter
	SignatureChecks    *prometheus.CounterVec
	ItemDuration       prometheus.Histogram
	InFlightItems      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsErased: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_deletion_items_erased_total",
			Help: "Items overwritten with three verified passes and removed",
		}),
		PassFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_deletion_pass_failures_total",
			Help: "Overwrite attempts that failed and restart from pass 1",
		}, []string{"reason"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_deletion_jobs_total",
			Help: "Deletion jobs finished by outcome",
		}, []string{"status"}),
		CertificatesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_deletion_certificates_issued_total",
			Help: "Signed deletion certificates persisted",
		}),
		SignatureChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_certificate_signature_checks_total",
			Help: "Certificate signature verifications by result",
		}, []string{"valid"}),
		ItemDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_deletion_item_duration_seconds",
			Help:    "Time to overwrite, verify and remove one item",
			Buckets: prometheus.DefBuckets,
		}),
		InFlightItems: f.NewGauge(prometheus.GaugeOpts{
			Name: "dsr_deletion_items_in_flight",
			Help: "Items currently being overwritten",
		}),
	}
}
