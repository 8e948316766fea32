package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Duration        prometheus.Histogram
	ItemsDiscovered prometheus.Counter
	ModuleFailures  *prometheus.CounterVec
	Manifests       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsr_discovery_duration_seconds",
			Help:    "Time to build a manifest across all storage modules",
			Buckets: prometheus.DefBuckets,
		}),
		ItemsDiscovered: f.NewCounter(prometheus.CounterOpts{
			Name: "dsr_discovery_items_total",
			Help: "Items added to manifests after deduplication",
		}),
		ModuleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_discovery_module_failures_total",
			Help: "Storage module queries that failed after retries",
		}, []string{"module"}),
		Manifests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dsr_discovery_manifests_total",
			Help: "Manifests produced by status",
		}, []string{"status"}),
	}
}
