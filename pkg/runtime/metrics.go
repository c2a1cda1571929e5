package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "x1_vesting"

type runtimeMetrics struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	duration     prometheus.Histogram
}

// newRuntimeMetrics builds the runtime collectors and registers them with reg
// when it is non-nil.
func newRuntimeMetrics(reg prometheus.Registerer) *runtimeMetrics {
	m := &runtimeMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_total",
			Help:      "Executed transactions by result.",
		}, []string{"result"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instructions_total",
			Help:      "Executed top-level and nested instructions by program.",
		}, []string{"program"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transaction_duration_seconds",
			Help:      "Wall time spent executing a transaction, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.instructions, m.duration)
	}
	return m
}
