package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// DefaultEstimate is the expected duration used when a caller gives none.
const DefaultEstimate = 30 * time.Minute

// DefaultRetentionDays is how long finished operations are kept.
const DefaultRetentionDays = 30

// History actions.
const (
	ActionCreated   = "created"
	ActionStarted   = "started"
	ActionPaused    = "paused"
	ActionResumed   = "resumed"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionCancelled = "cancelled"
)

// Config configures a Manager.
type Config struct {
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// CreateParams holds parameters for a new operation.
type CreateParams struct {
	UserID          string
	AgentName       string
	TaskDescription string
	// Estimate is the expected duration; zero means DefaultEstimate and a
	// negative value leaves estimated_completion unset.
	Estimate time.Duration
	Metadata map[string]any
}

// Manager drives the operation state machine over a Store. One mutex
// serializes every transition so concurrent pause/resume on the same id
// cannot lose updates.
type Manager struct {
	mu      sync.Mutex
	store   Store
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager. A nil logger discards output.
func NewManager(store Store, cfg Config, logger *zap.Logger) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		now:     cfg.Now,
		logger:  logger.With(zap.String("component", "operation_manager")),
		metrics: cfg.Metrics,
	}
}

// Create records a PENDING operation.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*model.Operation, error) {
	est := p.Estimate
	if est == 0 {
		est = DefaultEstimate
	}
	op := model.NewOperation(p.UserID, p.AgentName, p.TaskDescription, est, model.CloneMap(p.Metadata), m.now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveOperation(ctx, op); err != nil {
		return nil, err
	}
	m.record(ctx, op, ActionCreated, map[string]any{
		"agent_name": op.AgentName,
		"task":       op.TaskDescription,
	})
	return op, nil
}

// Get returns an operation by id.
func (m *Manager) Get(ctx context.Context, id string) (*model.Operation, error) {
	return m.store.GetOperation(ctx, id)
}

// Start moves PENDING to RUNNING.
func (m *Manager) Start(ctx context.Context, id string) (*model.Operation, error) {
	return m.apply(ctx, id, ActionStarted, func(op *model.Operation, now time.Time) (map[string]any, error) {
		return map[string]any{}, op.Start(now)
	})
}

// UpdateProgress sets progress (clamped to [0,100]) and optionally replaces
// state. It is not a transition and writes no history.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress float64, state map[string]any) (*model.Operation, error) {
	return m.apply(ctx, id, "", func(op *model.Operation, _ time.Time) (map[string]any, error) {
		return nil, op.UpdateProgress(progress, state)
	})
}

// Pause moves RUNNING to PAUSED and stores a checkpoint of progress and state.
func (m *Manager) Pause(ctx context.Context, id, reason string, checkpointState map[string]any) (*model.OperationCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	cp, err := op.Pause(m.now(), reason, checkpointState)
	if err != nil {
		return nil, err
	}
	if err := m.store.SavePause(ctx, op, cp); err != nil {
		return nil, err
	}
	m.record(ctx, op, ActionPaused, map[string]any{
		"reason":   reason,
		"progress": op.Progress,
	})
	return cp, nil
}

// Resume moves PAUSED to RUNNING and returns the most recent checkpoint. An
// operation without a checkpoint cannot resume.
func (m *Manager) Resume(ctx context.Context, id string) (*model.OperationCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Status != model.OperationPaused {
		return nil, fmt.Errorf("%w: cannot resume operation %s in state %s", model.ErrIllegalTransition, id, op.Status)
	}
	cp, err := m.store.LatestCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := op.Resume(); err != nil {
		return nil, err
	}
	if err := m.store.SaveOperation(ctx, op); err != nil {
		return nil, err
	}
	m.record(ctx, op, ActionResumed, map[string]any{
		"progress":             op.Progress,
		"checkpoint_timestamp": cp.Timestamp,
	})
	return cp, nil
}

// Complete moves RUNNING or PAUSED to COMPLETED.
func (m *Manager) Complete(ctx context.Context, id string, result map[string]any) (*model.Operation, error) {
	return m.apply(ctx, id, ActionCompleted, func(op *model.Operation, now time.Time) (map[string]any, error) {
		if err := op.Complete(now, result); err != nil {
			return nil, err
		}
		return map[string]any{
			"duration_seconds": int(op.Duration().Seconds()),
			"result":           model.CloneMap(result),
		}, nil
	})
}

// Fail moves any non-terminal operation to FAILED.
func (m *Manager) Fail(ctx context.Context, id, message string) (*model.Operation, error) {
	return m.apply(ctx, id, ActionFailed, func(op *model.Operation, now time.Time) (map[string]any, error) {
		return map[string]any{"error": message}, op.Fail(now, message)
	})
}

// Cancel moves PENDING, RUNNING or PAUSED to CANCELLED. Nothing in flight is
// interrupted; later progress or completion calls are rejected.
func (m *Manager) Cancel(ctx context.Context, id string) (*model.Operation, error) {
	return m.apply(ctx, id, ActionCancelled, func(op *model.Operation, now time.Time) (map[string]any, error) {
		return map[string]any{}, op.Cancel(now)
	})
}

// apply loads, mutates, saves and records one transition. action "" skips
// the history record.
func (m *Manager) apply(ctx context.Context, id, action string, fn func(*model.Operation, time.Time) (map[string]any, error)) (*model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := fn(op, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveOperation(ctx, op); err != nil {
		return nil, err
	}
	if action != "" {
		m.record(ctx, op, action, details)
	}
	return op, nil
}

// record appends to the audit history. The transition is already saved, so
// a failed append is logged rather than returned.
func (m *Manager) record(ctx context.Context, op *model.Operation, action string, details map[string]any) {
	e := model.HistoryEntry{
		OperationID: op.ID,
		Action:      action,
		Details:     details,
		Timestamp:   m.now(),
	}
	if err := m.store.AppendHistory(ctx, e); err != nil {
		m.logger.Error("append history", zap.String("operation_id", op.ID), zap.String("action", action), zap.Error(err))
	}
	m.metrics.OperationTransition(action)
	m.logger.Info("operation "+action,
		zap.String("operation_id", op.ID),
		zap.String("agent_name", op.AgentName),
		zap.String("status", string(op.Status)),
		zap.Float64("progress", op.Progress))
}

// UserOperations lists a user's operations, newest first, optionally
// filtered by status and agent.
func (m *Manager) UserOperations(ctx context.Context, userID string, status model.OperationStatus, agentName string) ([]*model.Operation, error) {
	return m.store.ListOperations(ctx, Filter{UserID: userID, Status: status, AgentName: agentName})
}

// ActiveOperations lists a user's PENDING, RUNNING and PAUSED operations.
func (m *Manager) ActiveOperations(ctx context.Context, userID string) ([]*model.Operation, error) {
	all, err := m.store.ListOperations(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, err
	}
	var out []*model.Operation
	for _, op := range all {
		if !op.Status.Terminal() {
			out = append(out, op)
		}
	}
	return out, nil
}

// PausedOperations lists a user's PAUSED operations.
func (m *Manager) PausedOperations(ctx context.Context, userID string) ([]*model.Operation, error) {
	return m.UserOperations(ctx, userID, model.OperationPaused, "")
}

// Checkpoints lists an operation's checkpoints, oldest first.
func (m *Manager) Checkpoints(ctx context.Context, id string) ([]*model.OperationCheckpoint, error) {
	return m.store.Checkpoints(ctx, id)
}

// History returns an operation's audit log, oldest first.
func (m *Manager) History(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	return m.store.History(ctx, id)
}

// CleanupOld deletes COMPLETED and FAILED operations finished more than
// days ago. days <= 0 selects DefaultRetentionDays.
func (m *Manager) CleanupOld(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.metrics.OperationsDeleted(n)
	if n > 0 {
		m.logger.Info("old operations deleted", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
