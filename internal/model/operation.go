package model

import (
	"fmt"
	"time"
)

// Operation is a long-running task an agent may suspend and later continue.
type Operation struct {
	ID                  string          `json:"operation_id"`
	UserID              string          `json:"user_id"`
	AgentName           string          `json:"agent_name"`
	TaskDescription     string          `json:"task_description"`
	Status              OperationStatus `json:"status"`
	Progress            float64         `json:"progress"`
	State               map[string]any  `json:"state"`
	Metadata            map[string]any  `json:"metadata"`
	CreatedAt           time.Time       `json:"created_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	PausedAt            *time.Time      `json:"paused_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	PauseReason         string          `json:"pause_reason,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}

// OperationCheckpoint is an immutable snapshot taken at every pause.
type OperationCheckpoint struct {
	ID              string         `json:"checkpoint_id"`
	OperationID     string         `json:"operation_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Progress        float64        `json:"progress"`
	State           map[string]any `json:"state"`
	AgentName       string         `json:"agent_name"`
	TaskDescription string         `json:"task_description"`
}

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	OperationID string         `json:"operation_id"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewOperation builds a PENDING operation with zero progress.
func NewOperation(userID, agentName, task string, estimated time.Duration, metadata map[string]any, now time.Time) *Operation {
	if userID == "" {
		userID = UnknownUser
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	op := &Operation{
		ID:              NewID(),
		UserID:          userID,
		AgentName:       agentName,
		TaskDescription: task,
		Status:          OperationPending,
		State:           map[string]any{},
		Metadata:        metadata,
		CreatedAt:       now,
	}
	if estimated > 0 {
		eta := now.Add(estimated)
		op.EstimatedCompletion = &eta
	}
	return op
}

func (o *Operation) illegal(action string) error {
	return fmt.Errorf("%w: cannot %s operation %s in state %s", ErrIllegalTransition, action, o.ID, o.Status)
}

func (o *Operation) in(states ...OperationStatus) bool {
	for _, s := range states {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Start moves PENDING to RUNNING.
func (o *Operation) Start(now time.Time) error {
	if !o.in(OperationPending) {
		return o.illegal("start")
	}
	o.Status = OperationRunning
	o.StartedAt = cloneTime(&now)
	return nil
}

// UpdateProgress clamps progress into [0,100]. A nil state keeps the
// current one.
func (o *Operation) UpdateProgress(progress float64, state map[string]any) error {
	if !o.in(OperationRunning, OperationPaused) {
		return o.illegal("update progress of")
	}
	o.Progress = clamp(progress)
	if state != nil {
		o.State = CloneMap(state)
	}
	return nil
}

// Pause moves RUNNING to PAUSED and returns the checkpoint to persist.
func (o *Operation) Pause(now time.Time, reason string, checkpointState map[string]any) (*OperationCheckpoint, error) {
	if !o.in(OperationRunning) {
		return nil, o.illegal("pause")
	}
	o.Status = OperationPaused
	o.PausedAt = cloneTime(&now)
	o.PauseReason = reason
	if checkpointState != nil {
		o.State = CloneMap(checkpointState)
	}
	return &OperationCheckpoint{
		ID:              NewID(),
		OperationID:     o.ID,
		Timestamp:       now,
		Progress:        o.Progress,
		State:           CloneMap(o.State),
		AgentName:       o.AgentName,
		TaskDescription: o.TaskDescription,
	}, nil
}

// Resume moves PAUSED back to RUNNING. The caller must already hold the
// checkpoint it resumes from.
func (o *Operation) Resume() error {
	if !o.in(OperationPaused) {
		return o.illegal("resume")
	}
	o.Status = OperationRunning
	o.PausedAt = nil
	o.PauseReason = ""
	return nil
}

// Complete forces progress to 100 and merges result into metadata.
func (o *Operation) Complete(now time.Time, result map[string]any) error {
	if !o.in(OperationRunning, OperationPaused) {
		return o.illegal("complete")
	}
	o.Status = OperationCompleted
	o.Progress = 100
	o.CompletedAt = cloneTime(&now)
	if result != nil {
		if o.Metadata == nil {
			o.Metadata = map[string]any{}
		}
		o.Metadata["result"] = CloneMap(result)
	}
	return nil
}

// Fail is legal from any non-terminal state.
func (o *Operation) Fail(now time.Time, message string) error {
	if o.Status.Terminal() {
		return o.illegal("fail")
	}
	o.Status = OperationFailed
	o.CompletedAt = cloneTime(&now)
	o.ErrorMessage = message
	return nil
}

// Cancel marks bookkeeping state only; nothing in flight is interrupted.
func (o *Operation) Cancel(now time.Time) error {
	if !o.in(OperationPending, OperationRunning, OperationPaused) {
		return o.illegal("cancel")
	}
	o.Status = OperationCancelled
	o.CompletedAt = cloneTime(&now)
	return nil
}

// Duration is the time between start and completion, zero if either is unset.
func (o *Operation) Duration() time.Duration {
	if o.StartedAt == nil || o.CompletedAt == nil {
		return 0
	}
	return o.CompletedAt.Sub(*o.StartedAt)
}

// Clone returns a deep copy safe to hand to callers.
func (o *Operation) Clone() *Operation {
	c := *o
	c.State = CloneMap(o.State)
	c.Metadata = CloneMap(o.Metadata)
	c.StartedAt = cloneTime(o.StartedAt)
	c.PausedAt = cloneTime(o.PausedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.EstimatedCompletion = cloneTime(o.EstimatedCompletion)
	return &c
}

// Clone returns a deep copy of the checkpoint.
func (c *OperationCheckpoint) Clone() *OperationCheckpoint {
	v := *c
	v.State = CloneMap(c.State)
	return &v
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
