package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SessionTransition("activated")
	m.SessionTransition("activated")
	m.SessionsClosed(3)
	m.SessionsClosed(0)
	m.MemoryAdded()
	m.MemoriesConsolidated(2, 1)
	m.OperationTransition("paused")
	m.OperationsDeleted(4)
	m.ToolCall("add_memory", "success")
	m.ObserveSweep(10 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("activated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsReaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesAdded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MemoriesRemoved.WithLabelValues("weak")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesRemoved.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationTransitions.WithLabelValues("paused")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OperationsReaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("add_memory", "success")))

	n, err := testutil.GatherAndCount(m.Registry, "ecoagent_memory_sweep_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionTransition("x")
		m.SessionsClosed(1)
		m.MemoryAdded()
		m.MemoriesConsolidated(1, 1)
		m.OperationTransition("x")
		m.OperationsDeleted(1)
		m.ToolCall("x", "y")
		m.ObserveSweep(time.Second)
	})
}

func TestInstancesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.MemoryAdded()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MemoriesAdded))
}
