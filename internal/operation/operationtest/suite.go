// Package operationtest holds the contract tests every operation.Store runs
// through a Manager.
package operationtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Run exercises a Manager over stores built by newStore. Each subtest gets a
// fresh store.
func Run(t *testing.T, newStore func(t *testing.T) operation.Store) {
	t.Helper()
	ctx := context.Background()

	setup := func(t *testing.T) (*operation.Manager, *clock) {
		c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		return operation.NewManager(newStore(t), operation.Config{Now: c.now}, nil), c
	}

	t.Run("checkpoint round trip", func(t *testing.T) {
		m, c := setup(t)

		op, err := m.Create(ctx, operation.CreateParams{UserID: "alex", AgentName: "carbon_calculator", TaskDescription: "compute footprint"})
		require.NoError(t, err)
		assert.Equal(t, model.OperationPending, op.Status)
		require.NotNil(t, op.EstimatedCompletion)
		assert.True(t, op.EstimatedCompletion.Equal(c.now().Add(operation.DefaultEstimate)))

		_, err = m.Start(ctx, op.ID)
		require.NoError(t, err)
		_, err = m.UpdateProgress(ctx, op.ID, 60, map[string]any{"x": 1})
		require.NoError(t, err)

		c.advance(time.Minute)
		state := map[string]any{
			"x":     1,
			"id":    int64(9007199254740993),
			"ratio": 0.25,
			"steps": []string{"fetch", "sum"},
			"inner": map[string]any{"kg": 42.0},
		}
		want := map[string]any{
			"x":     int64(1),
			"id":    int64(9007199254740993),
			"ratio": 0.25,
			"steps": []any{"fetch", "sum"},
			"inner": map[string]any{"kg": int64(42)},
		}
		cp, err := m.Pause(ctx, op.ID, "waiting on user", state)
		require.NoError(t, err)
		assert.Equal(t, 60.0, cp.Progress)
		assert.Equal(t, want, cp.State)

		got, err := m.Get(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OperationPaused, got.Status)
		assert.Equal(t, "waiting on user", got.PauseReason)
		require.NotNil(t, got.PausedAt)

		c.advance(time.Minute)
		resumed, err := m.Resume(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, 60.0, resumed.Progress)
		assert.Equal(t, want, resumed.State)
		assert.Equal(t, "carbon_calculator", resumed.AgentName)
		assert.Equal(t, "compute footprint", resumed.TaskDescription)

		got, err = m.Get(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OperationRunning, got.Status)
		assert.Nil(t, got.PausedAt)
		assert.Empty(t, got.PauseReason)
		assert.Equal(t, want, got.State)

		cps, err := m.Checkpoints(ctx, op.ID)
		require.NoError(t, err)
		require.Len(t, cps, 1)
		assert.Equal(t, want, cps[0].State)

		hist, err := m.History(ctx, op.ID)
		require.NoError(t, err)
		require.NotEmpty(t, hist)
		last := hist[len(hist)-1]
		assert.Equal(t, operation.ActionResumed, last.Action)
		assert.Equal(t, int64(60), last.Details["progress"])
	})

	t.Run("resume uses latest checkpoint", func(t *testing.T) {
		m, c := setup(t)
		op, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err := m.Start(ctx, op.ID)
		require.NoError(t, err)

		for _, step := range []string{"one", "two"} {
			_, err = m.Pause(ctx, op.ID, "", map[string]any{"step": step})
			require.NoError(t, err)
			c.advance(time.Second)
			_, err = m.Resume(ctx, op.ID)
			require.NoError(t, err)
		}
		_, err = m.UpdateProgress(ctx, op.ID, 80, nil)
		require.NoError(t, err)
		_, err = m.Pause(ctx, op.ID, "", nil)
		require.NoError(t, err)

		cp, err := m.Resume(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, "two", cp.State["step"], "nil checkpoint state keeps the current state")
		assert.Equal(t, 80.0, cp.Progress)

		cps, err := m.Checkpoints(ctx, op.ID)
		require.NoError(t, err)
		assert.Len(t, cps, 3)
	})

	t.Run("illegal transitions leave state untouched", func(t *testing.T) {
		m, _ := setup(t)
		op, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})

		_, err := m.Resume(ctx, op.ID)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)
		_, err = m.Pause(ctx, op.ID, "", nil)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)
		_, err = m.Complete(ctx, op.ID, nil)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)

		_, err = m.Start(ctx, op.ID)
		require.NoError(t, err)
		_, err = m.Start(ctx, op.ID)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)

		got, _ := m.Get(ctx, op.ID)
		assert.Equal(t, model.OperationRunning, got.Status)

		_, err = m.Cancel(ctx, op.ID)
		require.NoError(t, err)
		_, err = m.UpdateProgress(ctx, op.ID, 50, nil)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)
		_, err = m.Fail(ctx, op.ID, "late")
		assert.ErrorIs(t, err, model.ErrIllegalTransition)

		got, _ = m.Get(ctx, op.ID)
		assert.Equal(t, model.OperationCancelled, got.Status)
		assert.Equal(t, 0.0, got.Progress)

		_, err = m.Start(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("complete and history", func(t *testing.T) {
		m, c := setup(t)
		op, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a", TaskDescription: "t", Metadata: map[string]any{"origin": "cli"}})
		_, err := m.Start(ctx, op.ID)
		require.NoError(t, err)
		c.advance(90 * time.Second)
		_, err = m.Pause(ctx, op.ID, "break", nil)
		require.NoError(t, err)
		_, err = m.Resume(ctx, op.ID)
		require.NoError(t, err)
		done, err := m.Complete(ctx, op.ID, map[string]any{"kg_co2": 12.5})
		require.NoError(t, err)
		assert.Equal(t, 100.0, done.Progress)
		assert.Equal(t, "cli", done.Metadata["origin"])
		assert.Equal(t, map[string]any{"kg_co2": 12.5}, done.Metadata["result"])

		hist, err := m.History(ctx, op.ID)
		require.NoError(t, err)
		var actions []string
		for _, h := range hist {
			actions = append(actions, h.Action)
		}
		assert.Equal(t, []string{"created", "started", "paused", "resumed", "completed"}, actions)
		assert.Equal(t, int64(90), hist[4].Details["duration_seconds"])
		assert.Equal(t, map[string]any{"kg_co2": 12.5}, hist[4].Details["result"])

		got, err := m.Get(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, done.Metadata, got.Metadata)
		assert.Equal(t, "break", hist[2].Details["reason"])
	})

	t.Run("queries", func(t *testing.T) {
		m, c := setup(t)
		a, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "planner"})
		c.advance(time.Second)
		b, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "calculator"})
		c.advance(time.Second)
		done, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "calculator"})
		_, _ = m.Create(ctx, operation.CreateParams{UserID: "other", AgentName: "planner"})

		_, err := m.Start(ctx, b.ID)
		require.NoError(t, err)
		_, err = m.Pause(ctx, b.ID, "", nil)
		require.NoError(t, err)
		_, err = m.Fail(ctx, done.ID, "boom")
		require.NoError(t, err)

		all, err := m.UserOperations(ctx, "u", "", "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, done.ID, all[0].ID, "newest first")

		calc, err := m.UserOperations(ctx, "u", "", "calculator")
		require.NoError(t, err)
		assert.Len(t, calc, 2)

		paused, err := m.PausedOperations(ctx, "u")
		require.NoError(t, err)
		require.Len(t, paused, 1)
		assert.Equal(t, b.ID, paused[0].ID)

		active, err := m.ActiveOperations(ctx, "u")
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{active[0].ID, active[1].ID})

		failed, err := m.UserOperations(ctx, "u", model.OperationFailed, "")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "boom", failed[0].ErrorMessage)
	})

	t.Run("cleanup respects status filter", func(t *testing.T) {
		m, c := setup(t)

		completed, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err := m.Start(ctx, completed.ID)
		require.NoError(t, err)
		_, err = m.Complete(ctx, completed.ID, nil)
		require.NoError(t, err)

		failed, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err = m.Fail(ctx, failed.ID, "x")
		require.NoError(t, err)

		cancelled, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err = m.Cancel(ctx, cancelled.ID)
		require.NoError(t, err)

		paused, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err = m.Start(ctx, paused.ID)
		require.NoError(t, err)
		_, err = m.Pause(ctx, paused.ID, "", nil)
		require.NoError(t, err)

		c.advance(10 * 24 * time.Hour)
		recent, _ := m.Create(ctx, operation.CreateParams{UserID: "u", AgentName: "a"})
		_, err = m.Fail(ctx, recent.ID, "x")
		require.NoError(t, err)

		c.advance(25 * 24 * time.Hour)
		n, err := m.CleanupOld(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = m.Get(ctx, completed.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = m.Get(ctx, failed.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = m.Get(ctx, cancelled.ID)
		assert.NoError(t, err)
		_, err = m.Get(ctx, paused.ID)
		assert.NoError(t, err)
		_, err = m.Get(ctx, recent.ID)
		assert.NoError(t, err)

		hist, err := m.History(ctx, completed.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, hist, "history outlives the operation")

		n, err = m.CleanupOld(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("progress clamps and estimate", func(t *testing.T) {
		m, _ := setup(t)
		op, _ := m.Create(ctx, operation.CreateParams{UserID: "", AgentName: "a", Estimate: -1})
		assert.Equal(t, model.UnknownUser, op.UserID)
		assert.Nil(t, op.EstimatedCompletion)

		_, err := m.Start(ctx, op.ID)
		require.NoError(t, err)
		got, err := m.UpdateProgress(ctx, op.ID, 250, nil)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got.Progress)
		got, err = m.UpdateProgress(ctx, op.ID, -5, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got.Progress)
	})
}
