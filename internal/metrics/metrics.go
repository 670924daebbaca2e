// Package metrics exposes Prometheus collectors for sessions, memories,
// operations and tool calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ecoagent_memory"

// Metrics holds every collector, registered on its own registry so tests and
// multiple instances never collide. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SessionTransitions   *prometheus.CounterVec
	SessionsReaped       prometheus.Counter
	MemoriesAdded        prometheus.Counter
	MemoriesRemoved      *prometheus.CounterVec
	OperationTransitions *prometheus.CounterVec
	OperationsReaped     prometheus.Counter
	ToolCalls            *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Session state transitions by action",
			},
			[]string{"action"},
		),
		SessionsReaped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_reaped_total",
				Help:      "Expired sessions closed by cleanup",
			},
		),
		MemoriesAdded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memories_added_total",
				Help:      "Memories stored",
			},
		),
		MemoriesRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memories_removed_total",
				Help:      "Memories removed by consolidation, by reason",
			},
			[]string{"reason"},
		),
		OperationTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_transitions_total",
				Help:      "Operation state transitions by action",
			},
			[]string{"action"},
		),
		OperationsReaped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_reaped_total",
				Help:      "Finished operations deleted by cleanup",
			},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Agent tool calls by tool and result status",
			},
			[]string{"tool", "status"},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Maintenance sweep duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

func (m *Metrics) SessionTransition(action string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(action).Inc()
}

func (m *Metrics) SessionsClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsReaped.Add(float64(n))
}

func (m *Metrics) MemoryAdded() {
	if m == nil {
		return
	}
	m.MemoriesAdded.Inc()
}

func (m *Metrics) MemoriesConsolidated(weak, duplicates int) {
	if m == nil {
		return
	}
	m.MemoriesRemoved.WithLabelValues("weak").Add(float64(weak))
	m.MemoriesRemoved.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (m *Metrics) OperationTransition(action string) {
	if m == nil {
		return
	}
	m.OperationTransitions.WithLabelValues(action).Inc()
}

func (m *Metrics) OperationsDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OperationsReaped.Add(float64(n))
}

func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}
