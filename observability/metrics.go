package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics records pool action activity for the RPC surface.
type PoolMetrics struct {
	actions *prometheus.CounterVec
	rejects *prometheus.CounterVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics
)

// Metrics returns the lazily-initialised pool metrics registry.
func Metrics() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditpool",
				Name:      "actions_total",
				Help:      "Total pool actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditpool",
				Name:      "rejects_total",
				Help:      "Total rejected pool actions segmented by action and reason code.",
			}, []string{"action", "reason"}),
		}
		prometheus.MustRegister(poolRegistry.actions, poolRegistry.rejects)
	})
	return poolRegistry
}

// ObserveAction records a completed pool action.
func (m *PoolMetrics) ObserveAction(action string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "rejected"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

// ObserveReject records the reason code of a rejected pool action.
func (m *PoolMetrics) ObserveReject(action, reason string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(action, reason).Inc()
}
