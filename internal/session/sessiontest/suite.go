// Package sessiontest holds the contract tests every session.Service backend
// runs.
package sessiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/session"
)

type suiteClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *suiteClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *suiteClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Run runs the shared Service contract against a backend. newService
// receives the clock the backend must use. Every backend package calls it from
// its own tests so all of them behave identically.
func Run(t *testing.T, newService func(now func() time.Time) session.Service) {
	t.Helper()

	setup := func(t *testing.T) (session.Service, *suiteClock) {
		c := &suiteClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		return newService(c.now), c
	}
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		svc, c := setup(t)

		sess, err := svc.Create(ctx, "alex", 60, map[string]any{"channel": "chat"})
		require.NoError(t, err)
		assert.Equal(t, model.SessionCreated, sess.Status)
		assert.Equal(t, 60, sess.TTLSeconds)

		sess, err = svc.Activate(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionActive, sess.Status)
		require.NotNil(t, sess.ExpiresAt)
		assert.True(t, sess.ExpiresAt.Equal(c.now().Add(time.Minute)))

		c.advance(10 * time.Second)
		sess, err = svc.Pause(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionPaused, sess.Status)

		_, err = svc.Pause(ctx, sess.ID)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)

		c.advance(time.Hour)
		sess, err = svc.Resume(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionActive, sess.Status)
		assert.True(t, sess.ExpiresAt.Equal(c.now().Add(time.Minute)), "resume restarts the ttl window")

		sess, err = svc.Close(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionClosed, sess.Status)
		require.NotNil(t, sess.ClosedAt)

		_, err = svc.Activate(ctx, sess.ID)
		assert.ErrorIs(t, err, model.ErrIllegalTransition)

		got, err := svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionClosed, got.Status, "rejected call leaves state untouched")
		assert.Equal(t, "chat", got.Metadata["channel"])
	})

	t.Run("defaults", func(t *testing.T) {
		svc, _ := setup(t)
		sess, err := svc.Create(ctx, "", -1, nil)
		require.NoError(t, err)
		assert.Equal(t, model.UnknownUser, sess.UserID)
		assert.Equal(t, model.DefaultSessionTTL, sess.TTLSeconds)

		_, err = svc.Get(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = svc.Activate(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("zero ttl is never active", func(t *testing.T) {
		svc, _ := setup(t)
		sess, err := svc.Create(ctx, "u", 0, nil)
		require.NoError(t, err)
		sess, err = svc.Activate(ctx, sess.ID)
		require.NoError(t, err)

		got, err := svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionExpired, got.Status)

		active, err := svc.ActiveSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("lazy expiry and cleanup", func(t *testing.T) {
		svc, c := setup(t)

		stale, _ := svc.Create(ctx, "u", 30, nil)
		_, err := svc.Activate(ctx, stale.ID)
		require.NoError(t, err)
		live, _ := svc.Create(ctx, "u", 3600, nil)
		_, err = svc.Activate(ctx, live.ID)
		require.NoError(t, err)
		paused, _ := svc.Create(ctx, "u", 30, nil)
		_, err = svc.Activate(ctx, paused.ID)
		require.NoError(t, err)
		_, err = svc.Pause(ctx, paused.ID)
		require.NoError(t, err)

		c.advance(time.Minute)

		_, err = svc.Pause(ctx, stale.ID)
		assert.ErrorIs(t, err, model.ErrIllegalTransition, "an elapsed session cannot be paused")

		got, err := svc.Get(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionExpired, got.Status)

		n, err := svc.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = svc.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "cleanup is idempotent")

		got, _ = svc.Get(ctx, stale.ID)
		assert.Equal(t, model.SessionClosed, got.Status)
		got, _ = svc.Get(ctx, live.ID)
		assert.Equal(t, model.SessionActive, got.Status)
		got, _ = svc.Get(ctx, paused.ID)
		assert.Equal(t, model.SessionPaused, got.Status)
	})

	t.Run("cleanup without prior read", func(t *testing.T) {
		svc, c := setup(t)
		sess, _ := svc.Create(ctx, "u", 5, nil)
		_, err := svc.Activate(ctx, sess.ID)
		require.NoError(t, err)
		c.advance(5 * time.Second)

		n, err := svc.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("messages", func(t *testing.T) {
		svc, _ := setup(t)
		sess, _ := svc.Create(ctx, "u", 3600, nil)

		for _, content := range []string{"one", "two", "three"} {
			_, err := svc.AddMessage(ctx, sess.ID, model.Message{Role: "user", Content: content, Metadata: map[string]any{"n": content}})
			require.NoError(t, err)
		}

		got, err := svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.TotalInteractions)
		require.Len(t, got.Messages, 3)
		assert.False(t, got.Messages[0].Timestamp.IsZero())

		msgs, err := svc.Messages(ctx, sess.ID, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "two", msgs[0].Content)
		assert.Equal(t, "three", msgs[1].Content)
		assert.Equal(t, "three", msgs[1].Metadata["n"])

		_, err = svc.AddMessage(ctx, "missing", model.Message{Content: "x"})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("queries and summary", func(t *testing.T) {
		svc, c := setup(t)

		first, _ := svc.Create(ctx, "alex", 3600, nil)
		_, err := svc.Activate(ctx, first.ID)
		require.NoError(t, err)
		c.advance(time.Second)
		second, _ := svc.Create(ctx, "alex", 3600, nil)
		_, err = svc.Activate(ctx, second.ID)
		require.NoError(t, err)
		c.advance(time.Second)
		closed, _ := svc.Create(ctx, "alex", 3600, nil)
		_, err = svc.Close(ctx, closed.ID)
		require.NoError(t, err)
		_, _ = svc.Create(ctx, "sam", 3600, nil)
		_, err = svc.AddMessage(ctx, first.ID, model.Message{Role: "user", Content: "hi"})
		require.NoError(t, err)

		list, err := svc.UserSessions(ctx, "alex")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, closed.ID, list[0].ID, "newest first")

		active, err := svc.ActiveSession(ctx, "alex")
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		_, err = svc.ActiveSession(ctx, "sam")
		assert.ErrorIs(t, err, model.ErrNotFound)

		all, err := svc.ActiveSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		sum, err := svc.Summary(ctx, "alex")
		require.NoError(t, err)
		assert.Equal(t, 3, sum.TotalSessions)
		assert.Equal(t, 2, sum.ActiveSessions)
		assert.Equal(t, 1, sum.ClosedSessions)
		assert.Equal(t, 1, sum.TotalInteractions)
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		svc, _ := setup(t)
		sess, _ := svc.Create(ctx, "u", 3600, map[string]any{"k": "v"})
		sess.Metadata["k"] = "changed"
		sess.Status = model.SessionClosed

		got, err := svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "v", got.Metadata["k"])
		assert.Equal(t, model.SessionCreated, got.Status)
	})

	t.Run("metadata keeps number shapes", func(t *testing.T) {
		svc, _ := setup(t)
		meta := map[string]any{"visits": 3, "account": int64(9007199254740993), "kg": 1.5, "modes": []string{"bus"}}
		want := map[string]any{"visits": int64(3), "account": int64(9007199254740993), "kg": 1.5, "modes": []any{"bus"}}

		sess, err := svc.Create(ctx, "u", 3600, meta)
		require.NoError(t, err)
		assert.Equal(t, want, sess.Metadata)
		_, err = svc.AddMessage(ctx, sess.ID, model.Message{Role: "user", Content: "hi", Metadata: meta})
		require.NoError(t, err)

		got, err := svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Metadata)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, want, got.Messages[0].Metadata)
	})
}
