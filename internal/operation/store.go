// Package operation manages long-running agent operations: a pause/resume
// state machine with checkpoints and an append-only audit history.
package operation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	UserID    string
	Status    model.OperationStatus
	AgentName string
}

// Match reports whether op passes the filter.
func (f Filter) Match(op *model.Operation) bool {
	if f.UserID != "" && op.UserID != f.UserID {
		return false
	}
	if f.Status != "" && op.Status != f.Status {
		return false
	}
	if f.AgentName != "" && op.AgentName != f.AgentName {
		return false
	}
	return true
}

// Store persists operations, checkpoints and history. The Manager serializes
// calls; implementations need only be safe for concurrent reads.
type Store interface {
	SaveOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	// ListOperations returns matches newest first.
	ListOperations(ctx context.Context, f Filter) ([]*model.Operation, error)

	// SavePause stores a paused operation together with its checkpoint.
	// Either both are written or neither is.
	SavePause(ctx context.Context, op *model.Operation, cp *model.OperationCheckpoint) error
	LatestCheckpoint(ctx context.Context, operationID string) (*model.OperationCheckpoint, error)
	// Checkpoints returns every checkpoint of an operation, oldest first.
	Checkpoints(ctx context.Context, operationID string) ([]*model.OperationCheckpoint, error)

	AppendHistory(ctx context.Context, e model.HistoryEntry) error
	// History returns the audit log of an operation, oldest first.
	History(ctx context.Context, operationID string) ([]model.HistoryEntry, error)

	// DeleteFinishedBefore removes COMPLETED and FAILED operations whose
	// completion predates cutoff, with their checkpoints. History is kept.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Reapable reports whether cleanup may delete op at cutoff. PAUSED and
// CANCELLED operations are never reaped.
func Reapable(op *model.Operation, cutoff time.Time) bool {
	if op.Status != model.OperationCompleted && op.Status != model.OperationFailed {
		return false
	}
	return op.CompletedAt != nil && op.CompletedAt.Before(cutoff)
}

// MemoryStore is the ephemeral Store.
type MemoryStore struct {
	mu          sync.RWMutex
	operations  map[string]*model.Operation
	checkpoints map[string][]*model.OperationCheckpoint
	history     map[string][]model.HistoryEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operations:  make(map[string]*model.Operation),
		checkpoints: make(map[string][]*model.OperationCheckpoint),
		history:     make(map[string][]model.HistoryEntry),
	}
}

func (s *MemoryStore) SaveOperation(_ context.Context, op *model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[op.ID] = op.Clone()
	return nil
}

func (s *MemoryStore) GetOperation(_ context.Context, id string) (*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}
	return op.Clone(), nil
}

func (s *MemoryStore) ListOperations(_ context.Context, f Filter) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Operation
	for _, op := range s.operations {
		if f.Match(op) {
			out = append(out, op.Clone())
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) SavePause(_ context.Context, op *model.Operation, cp *model.OperationCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[op.ID] = op.Clone()
	s.checkpoints[cp.OperationID] = append(s.checkpoints[cp.OperationID], cp.Clone())
	return nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, operationID string) (*model.OperationCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[operationID]
	if len(cps) == 0 {
		return nil, fmt.Errorf("checkpoint for operation %s: %w", operationID, model.ErrNotFound)
	}
	return cps[len(cps)-1].Clone(), nil
}

func (s *MemoryStore) Checkpoints(_ context.Context, operationID string) ([]*model.OperationCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[operationID]
	out := make([]*model.OperationCheckpoint, len(cps))
	for i, cp := range cps {
		out[i] = cp.Clone()
	}
	return out, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, e model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Details = model.CloneMap(e.Details)
	s.history[e.OperationID] = append(s.history[e.OperationID], e)
	return nil
}

func (s *MemoryStore) History(_ context.Context, operationID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[operationID]
	out := make([]model.HistoryEntry, len(h))
	for i, e := range h {
		e.Details = model.CloneMap(e.Details)
		out[i] = e
	}
	return out, nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, op := range s.operations {
		if Reapable(op, cutoff) {
			delete(s.operations, id)
			delete(s.checkpoints, id)
			n++
		}
	}
	return n, nil
}

// SortNewestFirst orders operations by creation time, newest first.
func SortNewestFirst(ops []*model.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.After(ops[j].CreatedAt)
		}
		return ops[i].ID > ops[j].ID
	})
}
