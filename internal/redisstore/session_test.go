package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/session"
	"github.com/rcliao/ecoagent-memory/internal/session/sessiontest"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestSessionService(t *testing.T) {
	sessiontest.Run(t, func(now func() time.Time) session.Service {
		_, client := newClient(t)
		return NewSessionService(client, Config{Now: now}, nil)
	})
}

func TestKeyLayout(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	svc := NewSessionService(client, Config{KeyPrefix: "test:"}, nil)

	sess, err := svc.Create(ctx, "alex", 60, nil)
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, sess.ID, model.Message{Role: "user", Content: "hi"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:"+sess.ID))
	assert.True(t, mr.Exists("test:session:"+sess.ID+":messages"))
	assert.True(t, mr.Exists("test:user:alex:sessions"))
	assert.True(t, mr.Exists("test:sessions"))

	raw, err := mr.Get("test:session:" + sess.ID)
	require.NoError(t, err)
	assert.NotContains(t, raw, `"messages"`, "messages live in their own list")
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	svc := NewSessionService(client, Config{}, nil)

	sess, err := svc.Create(ctx, "u", 3600, nil)
	require.NoError(t, err)
	_, err = svc.Activate(ctx, sess.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.AddMessage(ctx, sess.ID, model.Message{Role: "user", Content: "x"})
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.Pause(ctx, sess.ID); err == nil {
				_, _ = svc.Resume(ctx, sess.ID)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalInteractions)
	assert.Len(t, got.Messages, 20)
	assert.Contains(t, []model.SessionStatus{model.SessionActive, model.SessionPaused}, got.Status)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = Connect(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
