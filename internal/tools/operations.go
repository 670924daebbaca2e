package tools

import (
	"context"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
)

// StartOperationArgs are the arguments of start_long_running_operation.
// EstimatedDurationMinutes <= 0 selects operation.DefaultEstimate.
type StartOperationArgs struct {
	AgentName                string         `json:"agent_name"`
	TaskDescription          string         `json:"task_description"`
	EstimatedDurationMinutes int            `json:"estimated_duration_minutes"`
	Metadata                 map[string]any `json:"metadata"`
}

// StartOperation creates an operation for the invoking user and starts it.
func (k *Toolkit) StartOperation(ctx context.Context, inv Invocation, args StartOperationArgs) Result {
	inv = inv.normalized()
	return k.run("start_long_running_operation", func() (any, error) {
		var est time.Duration
		if args.EstimatedDurationMinutes > 0 {
			est = time.Duration(args.EstimatedDurationMinutes) * time.Minute
		}
		op, err := k.deps.Operations.Create(ctx, operation.CreateParams{
			UserID:          inv.UserID,
			AgentName:       args.AgentName,
			TaskDescription: args.TaskDescription,
			Estimate:        est,
			Metadata:        args.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return k.deps.Operations.Start(ctx, op.ID)
	})
}

// OperationArgs name one operation.
type OperationArgs struct {
	OperationID string `json:"operation_id"`
}

// OperationStatus returns an operation.
func (k *Toolkit) OperationStatus(ctx context.Context, _ Invocation, args OperationArgs) Result {
	return k.run("get_operation_status", func() (any, error) {
		return k.deps.Operations.Get(ctx, args.OperationID)
	})
}

// UpdateProgressArgs are the arguments of update_operation_progress. A nil
// State keeps the stored state.
type UpdateProgressArgs struct {
	OperationID string         `json:"operation_id"`
	Progress    float64        `json:"progress"`
	State       map[string]any `json:"state"`
}

// UpdateProgress records progress on a RUNNING or PAUSED operation.
func (k *Toolkit) UpdateProgress(ctx context.Context, _ Invocation, args UpdateProgressArgs) Result {
	return k.run("update_operation_progress", func() (any, error) {
		return k.deps.Operations.UpdateProgress(ctx, args.OperationID, args.Progress, args.State)
	})
}

// PauseOperationArgs are the arguments of pause_operation. A nil
// CheckpointState checkpoints the operation's current state.
type PauseOperationArgs struct {
	OperationID     string         `json:"operation_id"`
	Reason          string         `json:"reason"`
	CheckpointState map[string]any `json:"checkpoint_state"`
}

// PauseOperation pauses a RUNNING operation and returns its checkpoint.
func (k *Toolkit) PauseOperation(ctx context.Context, _ Invocation, args PauseOperationArgs) Result {
	return k.run("pause_operation", func() (any, error) {
		return k.deps.Operations.Pause(ctx, args.OperationID, args.Reason, args.CheckpointState)
	})
}

// ResumeOperation resumes a PAUSED operation and returns the checkpoint to
// continue from.
func (k *Toolkit) ResumeOperation(ctx context.Context, _ Invocation, args OperationArgs) Result {
	return k.run("resume_operation", func() (any, error) {
		return k.deps.Operations.Resume(ctx, args.OperationID)
	})
}

// CompleteOperationArgs are the arguments of complete_operation.
type CompleteOperationArgs struct {
	OperationID string         `json:"operation_id"`
	Result      map[string]any `json:"result"`
}

// CompleteOperation finishes a RUNNING or PAUSED operation.
func (k *Toolkit) CompleteOperation(ctx context.Context, _ Invocation, args CompleteOperationArgs) Result {
	return k.run("complete_operation", func() (any, error) {
		return k.deps.Operations.Complete(ctx, args.OperationID, args.Result)
	})
}

// FailOperationArgs are the arguments of fail_operation.
type FailOperationArgs struct {
	OperationID  string `json:"operation_id"`
	ErrorMessage string `json:"error_message"`
}

// FailOperation marks a non-terminal operation FAILED.
func (k *Toolkit) FailOperation(ctx context.Context, _ Invocation, args FailOperationArgs) Result {
	return k.run("fail_operation", func() (any, error) {
		return k.deps.Operations.Fail(ctx, args.OperationID, args.ErrorMessage)
	})
}

// CancelOperation marks an operation CANCELLED.
func (k *Toolkit) CancelOperation(ctx context.Context, _ Invocation, args OperationArgs) Result {
	return k.run("cancel_operation", func() (any, error) {
		return k.deps.Operations.Cancel(ctx, args.OperationID)
	})
}

// ListOperationsArgs filter list_user_operations. Empty fields match all.
type ListOperationsArgs struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name"`
}

// ListOperations lists the invoking user's operations, newest first.
func (k *Toolkit) ListOperations(ctx context.Context, inv Invocation, args ListOperationsArgs) Result {
	inv = inv.normalized()
	return k.run("list_user_operations", func() (any, error) {
		var status model.OperationStatus
		if args.Status != "" {
			s, err := model.ParseOperationStatus(args.Status)
			if err != nil {
				return nil, err
			}
			status = s
		}
		ops, err := k.deps.Operations.UserOperations(ctx, inv.UserID, status, args.AgentName)
		return nonNilOps(ops), err
	})
}

// ListPausedOperations lists the invoking user's PAUSED operations.
func (k *Toolkit) ListPausedOperations(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("list_paused_operations", func() (any, error) {
		ops, err := k.deps.Operations.PausedOperations(ctx, inv.UserID)
		return nonNilOps(ops), err
	})
}

// OperationHistory returns an operation's audit log, oldest first.
func (k *Toolkit) OperationHistory(ctx context.Context, _ Invocation, args OperationArgs) Result {
	return k.run("get_operation_history", func() (any, error) {
		if _, err := k.deps.Operations.Get(ctx, args.OperationID); err != nil {
			return nil, err
		}
		h, err := k.deps.Operations.History(ctx, args.OperationID)
		if h == nil {
			h = []model.HistoryEntry{}
		}
		return h, err
	})
}

// OperationCheckpoints lists an operation's checkpoints, oldest first.
func (k *Toolkit) OperationCheckpoints(ctx context.Context, _ Invocation, args OperationArgs) Result {
	return k.run("get_operation_checkpoints", func() (any, error) {
		if _, err := k.deps.Operations.Get(ctx, args.OperationID); err != nil {
			return nil, err
		}
		cps, err := k.deps.Operations.Checkpoints(ctx, args.OperationID)
		if cps == nil {
			cps = []*model.OperationCheckpoint{}
		}
		return cps, err
	})
}

// CleanupOperationsArgs are the arguments of cleanup_old_operations.
// Days <= 0 selects operation.DefaultRetentionDays.
type CleanupOperationsArgs struct {
	Days int `json:"days"`
}

// CleanupOperations deletes COMPLETED and FAILED operations older than Days.
func (k *Toolkit) CleanupOperations(ctx context.Context, _ Invocation, args CleanupOperationsArgs) Result {
	return k.run("cleanup_old_operations", func() (any, error) {
		n, err := k.deps.Operations.CleanupOld(ctx, args.Days)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil
	})
}

func nonNilOps(ops []*model.Operation) []*model.Operation {
	if ops == nil {
		return []*model.Operation{}
	}
	return ops
}
