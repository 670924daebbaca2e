package operation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/operation/operationtest"
)

func TestMemoryStore(t *testing.T) {
	operationtest.Run(t, func(t *testing.T) operation.Store {
		return operation.NewMemoryStore()
	})
}

// failingStore fails every write of an operation after the first n.
type failingStore struct {
	*operation.MemoryStore
	mu    sync.Mutex
	saves int
	after int
}

func (s *failingStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saves > s.after {
		return errors.Join(model.ErrStorage, errors.New("disk full"))
	}
	return nil
}

func (s *failingStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.MemoryStore.SaveOperation(ctx, op)
}

func (s *failingStore) SavePause(ctx context.Context, op *model.Operation, cp *model.OperationCheckpoint) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.MemoryStore.SavePause(ctx, op, cp)
}

func TestStorageFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: operation.NewMemoryStore(), after: 1}
	m := operation.NewManager(store, operation.Config{}, nil)

	op, err := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
	require.NoError(t, err)

	_, err = m.Start(ctx, op.ID)
	assert.ErrorIs(t, err, model.ErrStorage)

	got, err := m.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationPending, got.Status)

	hist, _ := m.History(ctx, op.ID)
	assert.Len(t, hist, 1, "a failed save writes no history")
}

func TestFailedPauseLeavesNoCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: operation.NewMemoryStore(), after: 2}
	m := operation.NewManager(store, operation.Config{}, nil)

	op, err := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
	require.NoError(t, err)
	_, err = m.Start(ctx, op.ID)
	require.NoError(t, err)

	_, err = m.Pause(ctx, op.ID, "break", map[string]any{"step": 1})
	assert.ErrorIs(t, err, model.ErrStorage)

	got, err := m.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationRunning, got.Status)
	cps, err := m.Checkpoints(ctx, op.ID)
	require.NoError(t, err)
	assert.Empty(t, cps)
	_, err = m.Resume(ctx, op.ID)
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	ctx := context.Background()
	m := operation.NewManager(operation.NewMemoryStore(), operation.Config{}, nil)
	op, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(ctx, op.ID); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestTransitionsAreCounted(t *testing.T) {
	ctx := context.Background()
	met := metrics.New()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	m := operation.NewManager(operation.NewMemoryStore(), operation.Config{Metrics: met, Now: func() time.Time { return now }}, nil)

	op, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
	_, _ = m.Start(ctx, op.ID)
	_, _ = m.Start(ctx, op.ID)
	_, _ = m.Complete(ctx, op.ID, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(met.OperationTransitions.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.OperationTransitions.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.OperationTransitions.WithLabelValues("completed")))
}
