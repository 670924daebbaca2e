package memory

import (
	"context"

	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Instrumented counts stored and consolidated memories of the wrapped bank.
type Instrumented struct {
	Bank
	metrics *metrics.Metrics
}

// WithMetrics wraps b. A nil m returns b unchanged.
func WithMetrics(b Bank, m *metrics.Metrics) Bank {
	if m == nil {
		return b
	}
	return &Instrumented{Bank: b, metrics: m}
}

func (i *Instrumented) Add(ctx context.Context, userID string, p AddParams) (*model.Memory, error) {
	mem, err := i.Bank.Add(ctx, userID, p)
	if err == nil {
		i.metrics.MemoryAdded()
	}
	return mem, err
}

func (i *Instrumented) Consolidate(ctx context.Context, userID string) (*ConsolidationReport, error) {
	r, err := i.Bank.Consolidate(ctx, userID)
	if err == nil {
		i.metrics.MemoriesConsolidated(r.RemovedWeak, r.RemovedDuplicates)
	}
	return r, err
}
