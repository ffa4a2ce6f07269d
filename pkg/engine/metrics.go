package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Node execution results used as the "result" label.
const (
	resultOK      = "ok"
	resultFailed  = "failed"
	resultMissing = "missing_input"
	resultCyclic  = "cyclic"
)

// metrics holds the executor's collectors. A nil *metrics records nothing.
type metrics struct {
	executions   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	passDuration prometheus.Histogram
	passes       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodetree",
			Subsystem: "executor",
			Name:      "node_executions_total",
			Help:      "Node executions by node type and result",
		}, []string{"type", "result"}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodetree",
			Subsystem: "executor",
			Name:      "node_duration_seconds",
			Help:      "Execute callback duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}, []string{"type"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodetree",
			Subsystem: "executor",
			Name:      "pass_duration_seconds",
			Help:      "Whole execution pass duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		passes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nodetree",
			Subsystem: "executor",
			Name:      "passes_total",
			Help:      "Completed execution passes",
		}),
	}
}

func (m *metrics) node(typeID, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(typeID, result).Inc()
	if result == resultOK || result == resultFailed {
		m.nodeDuration.WithLabelValues(typeID).Observe(d.Seconds())
	}
}

func (m *metrics) pass(d time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(d.Seconds())
}
