package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit chain writer.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PersistFailures prometheus.Counter
	HeadConflicts   prometheus.Counter
	BatchSize       prometheus.Histogram
	PersistDuration prometheus.Histogram
	Verifications   *prometheus.CounterVec
}

// NewMetrics registers audit metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_audit_events_recorded_total",
			Help: "Total number of audit events appended to the chain",
		}, []string{"category"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_audit_persist_failures_total",
			Help: "Total number of audit batches that failed to persist",
		}),
		HeadConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_audit_head_conflicts_total",
			Help: "Total number of appends retried because another writer advanced the chain",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_audit_batch_size",
			Help:    "Number of events written per chain append",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_audit_persist_duration_seconds",
			Help:    "Latency of chain appends",
			Buckets: prometheus.DefBuckets,
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_audit_chain_verifications_total",
			Help: "Chain verifications by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeBatch(size int, seconds float64) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) incRecorded(category string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(category).Inc()
}

func (m *Metrics) incPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) incHeadConflicts() {
	if m == nil {
		return
	}
	m.HeadConflicts.Inc()
}

func (m *Metrics) incVerification(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Verifications.WithLabelValues(result).Inc()
}
