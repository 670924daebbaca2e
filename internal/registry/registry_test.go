package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/config"
	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/redisstore"
	"github.com/rcliao/ecoagent-memory/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func open(t *testing.T, mutate func(*config.Config), opts ...Option) (*Registry, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	if mutate != nil {
		mutate(cfg)
	}
	r, err := Open(context.Background(), cfg, nil, append([]Option{WithClock(c.now)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, c
}

func TestBackendSelection(t *testing.T) {
	r, _ := open(t, nil)
	require.NotNil(t, r.SQLite)
	assert.IsType(t, &memory.Instrumented{}, r.Memories)
	assert.IsType(t, &store.MemoryBank{}, r.Memories.(*memory.Instrumented).Bank)

	r, _ = open(t, func(c *config.Config) { c.Backend = config.BackendMemory })
	assert.Nil(t, r.SQLite)
	assert.IsType(t, &memory.InMemoryBank{}, r.Memories.(*memory.Instrumented).Bank)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	r, _ = open(t, func(c *config.Config) {
		c.Backend = config.BackendMemory
		c.SessionBackend = config.BackendRedis
	}, WithRedisClient(client))

	sess, err := r.Sessions.Create(context.Background(), "alex", -1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3600, sess.TTLSeconds)
	assert.True(t, mr.Exists(redisstore.DefaultKeyPrefix+"session:"+sess.ID))
	require.NoError(t, r.Close())
	require.NoError(t, client.Ping(context.Background()).Err(), "a supplied client is not closed")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "mongo"
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	r, c := open(t, nil)

	sess, err := r.Sessions.Create(ctx, "alex", 60, nil)
	require.NoError(t, err)
	_, err = r.Sessions.Activate(ctx, sess.ID)
	require.NoError(t, err)

	_, err = r.Memories.Add(ctx, "alex", memory.AddParams{Content: "trivia", Importance: model.ImportanceTrivial})
	require.NoError(t, err)
	_, err = r.Memories.Add(ctx, "alex", memory.AddParams{Content: "Prefers public transit", Importance: model.ImportanceHigh})
	require.NoError(t, err)
	_, err = r.Memories.Add(ctx, "sam", memory.AddParams{Content: "likes trains"})
	require.NoError(t, err)

	op, err := r.Operations.Create(ctx, operation.CreateParams{UserID: "alex", AgentName: "carbon_calculator"})
	require.NoError(t, err)
	_, err = r.Operations.Fail(ctx, op.ID, "boom")
	require.NoError(t, err)

	c.t = c.t.Add(60 * 24 * time.Hour)

	report, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsClosed)
	assert.Equal(t, 1, report.OperationsDeleted)
	require.Contains(t, report.Consolidated, "alex")
	require.Contains(t, report.Consolidated, "sam")
	assert.Equal(t, 1, report.Consolidated["alex"].RemovedWeak)

	again, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.SessionsClosed)
	assert.Zero(t, again.OperationsDeleted)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.SessionsReaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.OperationsReaped))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Metrics.MemoriesAdded))
	n, err := testutil.GatherAndCount(r.Metrics.Registry, "ecoagent_memory_sweep_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewWindowUsesConfiguredSize(t *testing.T) {
	r, _ := open(t, func(c *config.Config) { c.Context.MaxWindowSize = 123 })
	assert.Equal(t, 123, r.NewWindow().MaxSize())
}
