package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Created   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Downloads prometheus.Counter
	Expired   prometheus.Counter
	SizeBytes prometheus.Histogram
	Duration  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Created: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_exports_created_total",
			Help: "Encrypted exports produced by format",
		}, []string{"format"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_export_failures_total",
			Help: "Export failures by stage",
		}, []string{"stage"}),
		Downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_export_downloads_total",
			Help: "Export downloads served",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_exports_expired_total",
			Help: "Exports destroyed by the expiry sweep",
		}),
		SizeBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_export_size_bytes",
			Help:    "Ciphertext size of produced exports",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_export_duration_seconds",
			Help:    "Time to serialize, encrypt and store an export",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
