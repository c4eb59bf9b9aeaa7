package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for workflow execution.
type Metrics struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers engine metrics with the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reflux_runs_started_total",
			Help: "Total number of workflow runs started",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflux_runs_finished_total",
			Help: "Total number of workflow runs finished by status",
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reflux_runs_active",
			Help: "Current number of workflow runs in flight",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reflux_run_duration_seconds",
			Help:    "Duration of workflow runs by status",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"status"}),
		nodesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflux_nodes_executed_total",
			Help: "Total number of node executions by type and status",
		}, []string{"node_type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reflux_node_duration_seconds",
			Help:    "Duration of node executions by node type",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"node_type"}),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runsActive,
		m.runDuration,
		m.nodesExecuted,
		m.nodeDuration,
	)

	return m
}

// RunStarted records the start of a workflow run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.runsActive.Inc()
}

// RunFinished records a finished workflow run with its terminal status.
func (m *Metrics) RunFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.runsActive.Dec()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// NodeExecuted records one node execution.
func (m *Metrics) NodeExecuted(nodeType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.nodesExecuted.WithLabelValues(nodeType, status).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}
