package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/session"
	"github.com/rcliao/ecoagent-memory/internal/window"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newToolkit(t *testing.T) (*Toolkit, *clock, *metrics.Metrics) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := metrics.New()
	k := New(Deps{
		Memories:   memory.NewInMemoryBank(memory.Config{Now: c.now}, nil),
		Sessions:   session.NewInMemoryService(session.Config{DefaultTTL: 3600, Now: c.now}, nil),
		Operations: operation.NewManager(operation.NewMemoryStore(), operation.Config{Now: c.now, Metrics: m}, nil),
		Metrics:    m,
		Now:        c.now,
	}, nil)
	return k, c, m
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	ttl := 3600
	res := k.CreateSession(ctx, inv, CreateSessionArgs{TTLSeconds: &ttl})
	require.True(t, res.OK(), res.Message)
	sess := res.Data.(*model.Session)
	inv.SessionID = sess.ID

	res = k.AddMemory(ctx, inv, AddMemoryArgs{
		Content:    "Prefers public transit",
		MemoryType: "SEMANTIC",
		Importance: "HIGH",
		Source:     "user_input",
		Tags:       []string{"transit"},
	})
	require.True(t, res.OK(), res.Message)
	mem := res.Data.(*model.Memory)

	res = k.StartOperation(ctx, inv, StartOperationArgs{AgentName: "carbon_calculator", TaskDescription: "compute footprint"})
	require.True(t, res.OK(), res.Message)
	op := res.Data.(*model.Operation)
	assert.Equal(t, model.OperationRunning, op.Status)
	assert.Equal(t, "alex", op.UserID)

	res = k.UpdateProgress(ctx, inv, UpdateProgressArgs{OperationID: op.ID, Progress: 40})
	require.True(t, res.OK(), res.Message)
	res = k.PauseOperation(ctx, inv, PauseOperationArgs{
		OperationID:     op.ID,
		Reason:          "waiting for user",
		CheckpointState: map[string]any{"step": "gathering_data"},
	})
	require.True(t, res.OK(), res.Message)

	res = k.ResumeOperation(ctx, inv, OperationArgs{OperationID: op.ID})
	require.True(t, res.OK(), res.Message)
	cp := res.Data.(*model.OperationCheckpoint)
	assert.Equal(t, 40.0, cp.Progress)
	assert.Equal(t, map[string]any{"step": "gathering_data"}, cp.State)

	res = k.SearchMemories(ctx, inv, SearchMemoriesArgs{Query: "transit"})
	require.True(t, res.OK(), res.Message)
	results := res.Data.([]memory.SearchResult)
	require.Len(t, results, 1)
	assert.Equal(t, mem.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Relevance, 0.0)
}

func TestInvocationDefaultsToUnknown(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)

	res := k.AddMemory(ctx, Invocation{}, AddMemoryArgs{Content: "orphan fact"})
	require.True(t, res.OK(), res.Message)
	m := res.Data.(*model.Memory)
	assert.Equal(t, model.UnknownUser, m.UserID)
	assert.Equal(t, model.MemorySemantic, m.Type)
	assert.Equal(t, model.ImportanceMedium, m.Importance)

	res = k.StartOperation(ctx, Invocation{}, StartOperationArgs{AgentName: "a"})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, model.UnknownUser, res.Data.(*model.Operation).UserID)

	assert.Same(t, k.State(Invocation{}), k.State(Invocation{SessionID: model.UnknownUser}))
}

func TestInvalidEnumsAreStructuredErrors(t *testing.T) {
	ctx := context.Background()
	k, _, m := newToolkit(t)
	inv := Invocation{UserID: "u", SessionID: "s"}

	for name, res := range map[string]Result{
		"memory_type":    k.AddMemory(ctx, inv, AddMemoryArgs{Content: "x", MemoryType: "dream"}),
		"importance":     k.AddMemory(ctx, inv, AddMemoryArgs{Content: "x", Importance: "URGENT"}),
		"min_importance": k.SearchMemories(ctx, inv, SearchMemoriesArgs{MinImportance: "huge"}),
		"context_type":   k.ManageContextItem(ctx, inv, ManageContextItemArgs{Key: "k", ContextType: "bogus"}),
		"status":         k.ListOperations(ctx, inv, ListOperationsArgs{Status: "sleeping"}),
		"purge":          k.PurgeContext(ctx, inv, PurgeContextArgs{ContextType: "nope"}),
	} {
		assert.Equal(t, StatusError, res.Status, name)
		assert.Contains(t, res.Message, "invalid enum", name)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("add_memory", "error")))
}

func TestNotFoundAndIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "u"}

	assert.Equal(t, StatusNotFound, k.RetrieveMemory(ctx, inv, MemoryIDArgs{MemoryID: "missing"}).Status)
	assert.Equal(t, StatusNotFound, k.GetSession(ctx, inv, SessionArgs{SessionID: "missing"}).Status)
	assert.Equal(t, StatusNotFound, k.OperationStatus(ctx, inv, OperationArgs{OperationID: "missing"}).Status)
	assert.Equal(t, StatusNotFound, k.OperationHistory(ctx, inv, OperationArgs{OperationID: "missing"}).Status)
	assert.Equal(t, StatusNotFound, k.ActiveSession(ctx, inv, NoArgs{}).Status)

	res := k.StartOperation(ctx, inv, StartOperationArgs{AgentName: "a"})
	require.True(t, res.OK())
	id := res.Data.(*model.Operation).ID
	res = k.ResumeOperation(ctx, inv, OperationArgs{OperationID: id})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "illegal transition")

	res = k.OperationStatus(ctx, inv, OperationArgs{OperationID: id})
	require.True(t, res.OK())
	assert.Equal(t, model.OperationRunning, res.Data.(*model.Operation).Status)
}

func TestSessionTools(t *testing.T) {
	ctx := context.Background()
	k, c, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	res := k.CreateSession(ctx, inv, CreateSessionArgs{})
	require.True(t, res.OK())
	sess := res.Data.(*model.Session)
	assert.Equal(t, 3600, sess.TTLSeconds)
	inv.SessionID = sess.ID

	require.True(t, k.ActivateSession(ctx, inv, SessionArgs{}).OK())
	require.True(t, k.AddMessage(ctx, inv, AddMessageArgs{Role: "user", Content: "hi"}).OK())
	res = k.AddMessage(ctx, inv, AddMessageArgs{Role: "assistant", Content: "hello"})
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Data.(map[string]any)["total_interactions"])

	res = k.Messages(ctx, inv, MessagesArgs{Limit: 1})
	require.True(t, res.OK())
	msgs := res.Data.([]model.Message)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	res = k.GetSession(ctx, inv, SessionArgs{})
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Data.(sessionView).Summary.TotalMessages)

	require.True(t, k.PauseSession(ctx, inv, SessionArgs{}).OK())
	require.True(t, k.ResumeSession(ctx, inv, SessionArgs{}).OK())
	res = k.ActiveSession(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	assert.Equal(t, sess.ID, res.Data.(*model.Session).ID)

	c.t = c.t.Add(2 * time.Hour)
	assert.Equal(t, StatusNotFound, k.ActiveSession(ctx, inv, NoArgs{}).Status)
	res = k.CleanupSessions(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	assert.Equal(t, 1, res.Data.(map[string]any)["closed"])

	res = k.SessionSummary(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	sum := res.Data.(*session.Summary)
	assert.Equal(t, 1, sum.TotalSessions)
	assert.Equal(t, 1, sum.ClosedSessions)
	assert.Equal(t, 2, sum.TotalInteractions)

	assert.Equal(t, StatusError, k.ActivateSession(ctx, inv, SessionArgs{}).Status)
}

func TestCloseSessionDropsState(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "u"}
	res := k.CreateSession(ctx, inv, CreateSessionArgs{})
	require.True(t, res.OK())
	inv.SessionID = res.Data.(*model.Session).ID

	require.True(t, k.ManageContextItem(ctx, inv, ManageContextItemArgs{Key: "k", Value: "v", ContextType: "preferences"}).OK())
	require.True(t, k.CloseSession(ctx, inv, SessionArgs{}).OK())
	_, ok := k.State(inv).AttachedWindow()
	assert.False(t, ok)
}

func TestSessionlessStateIsPerUser(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	alice := Invocation{UserID: "alice"}
	bob := Invocation{UserID: "bob"}

	require.True(t, k.AddMemory(ctx, alice, AddMemoryArgs{Content: "alice home address on Elm street", Tags: []string{"home"}}).OK())
	res := k.RecallMemories(ctx, alice, RecallMemoriesArgs{SearchMemoriesArgs: SearchMemoriesArgs{Query: "home"}})
	require.True(t, res.OK(), res.Message)
	key := res.Data.(*window.RecallResult).Memories[0].Key

	assert.Equal(t, StatusNotFound, k.ContextData(ctx, bob, NoArgs{}).Status)
	assert.Equal(t, StatusNotFound, k.GetContextItem(ctx, bob, ContextKeyArgs{Key: key}).Status)
	assert.NotSame(t, k.State(alice), k.State(bob))

	res = k.ContextData(ctx, alice, NoArgs{})
	require.True(t, res.OK(), res.Message)
}

func TestCleanupPrunesClosedSessionState(t *testing.T) {
	ctx := context.Background()
	k, c, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	short, long := 60, 3600
	res := k.CreateSession(ctx, inv, CreateSessionArgs{TTLSeconds: &short})
	require.True(t, res.OK())
	expiring := Invocation{UserID: "alex", SessionID: res.Data.(*model.Session).ID}
	res = k.CreateSession(ctx, inv, CreateSessionArgs{TTLSeconds: &long})
	require.True(t, res.OK())
	live := Invocation{UserID: "alex", SessionID: res.Data.(*model.Session).ID}

	require.True(t, k.ActivateSession(ctx, expiring, SessionArgs{}).OK())
	require.True(t, k.ActivateSession(ctx, live, SessionArgs{}).OK())
	for _, i := range []Invocation{expiring, live, inv} {
		require.True(t, k.ManageContextItem(ctx, i, ManageContextItemArgs{Key: "k", Value: "v", ContextType: "preferences"}).OK())
	}

	c.t = c.t.Add(2 * time.Minute)
	res = k.CleanupSessions(ctx, inv, NoArgs{})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 1, res.Data.(map[string]any)["closed"])

	_, ok := k.State(expiring).AttachedWindow()
	assert.False(t, ok, "closed session state is dropped")
	_, ok = k.State(live).AttachedWindow()
	assert.True(t, ok)
	_, ok = k.State(inv).AttachedWindow()
	assert.True(t, ok, "sessionless state is kept")
}

func TestOperationStateKeepsNumbers(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	res := k.Invoke(ctx, inv, "start_long_running_operation", json.RawMessage(`{"agent_name":"carbon_calculator"}`))
	require.True(t, res.OK(), res.Message)
	id := res.Data.(*model.Operation).ID

	res = k.Invoke(ctx, inv, "pause_operation", json.RawMessage(`{"operation_id":"`+id+`","checkpoint_state":{"row":9007199254740993,"kg":12.5,"done":3}}`))
	require.True(t, res.OK(), res.Message)
	res = k.Invoke(ctx, inv, "resume_operation", json.RawMessage(`{"operation_id":"`+id+`"}`))
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, map[string]any{"row": int64(9007199254740993), "kg": 12.5, "done": int64(3)}, res.Data.(*model.OperationCheckpoint).State)
}

func TestContextTools(t *testing.T) {
	ctx := context.Background()
	k, c, _ := newToolkit(t)
	inv := Invocation{UserID: "alex", SessionID: "s1"}

	assert.Equal(t, StatusNotFound, k.ContextSummary(ctx, inv, NoArgs{}).Status)
	assert.Equal(t, StatusNotFound, k.ContextData(ctx, inv, NoArgs{}).Status)

	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		res := k.ManageContextItem(ctx, inv, ManageContextItemArgs{
			Key: key, Value: "value " + key, ContextType: "USER_PROFILE", Importance: "low",
		})
		require.True(t, res.OK(), res.Message)
	}
	res := k.ManageContextItem(ctx, inv, ManageContextItemArgs{Key: "goal", Value: "bike to work", ContextType: "sustainability_goals", TTLSeconds: 60})
	require.True(t, res.OK())
	assert.Equal(t, "MEDIUM", res.Data.(map[string]any)["importance"])

	res = k.GetContextItem(ctx, inv, ContextKeyArgs{Key: "goal"})
	require.True(t, res.OK())
	assert.Equal(t, 1, res.Data.(*window.Item).AccessCount)

	res = k.ContextSummary(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	assert.Equal(t, 11, res.Data.(window.Summary).TotalItems)

	c.t = c.t.Add(2 * time.Minute)
	res = k.ContextData(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	assert.Len(t, res.Data.(map[string]window.ItemView), 10)

	res = k.CompactContext(ctx, inv, CompactContextArgs{TargetReduction: 0.3})
	require.True(t, res.OK())
	rep := res.Data.(window.OptimizeReport)
	assert.Equal(t, 11, rep.BeforeSize)
	assert.Equal(t, 1, rep.ExpiredRemoved)
	assert.Equal(t, 7, rep.AfterSize)

	assert.Equal(t, StatusError, k.CompactContext(ctx, inv, CompactContextArgs{TargetReduction: 1.5}).Status)

	c.t = c.t.Add(3 * time.Hour)
	require.True(t, k.ManageContextItem(ctx, inv, ManageContextItemArgs{Key: "fresh", Value: 1, ContextType: "user_profile"}).OK())
	res = k.PurgeContext(ctx, inv, PurgeContextArgs{ContextType: "user_profile", OlderThanHours: 1})
	require.True(t, res.OK())
	purge := res.Data.(window.PurgeReport)
	assert.Equal(t, 7, purge.Purged)
	assert.Equal(t, 1, purge.Remaining)

	require.True(t, k.RemoveContextItem(ctx, inv, ContextKeyArgs{Key: "fresh"}).OK())
	assert.Equal(t, StatusNotFound, k.RemoveContextItem(ctx, inv, ContextKeyArgs{Key: "fresh"}).Status)
	assert.Equal(t, StatusNotFound, k.GetContextItem(ctx, inv, ContextKeyArgs{Key: "fresh"}).Status)
}

func TestRecallMemories(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "alex", SessionID: "s1"}

	require.True(t, k.AddMemory(ctx, inv, AddMemoryArgs{Content: "carbon reduction plan", Tags: []string{"carbon"}}).OK())
	require.True(t, k.AddMemory(ctx, inv, AddMemoryArgs{Content: "energy saving tips", Tags: []string{"energy"}}).OK())

	res := k.RecallMemories(ctx, inv, RecallMemoriesArgs{
		SearchMemoriesArgs: SearchMemoriesArgs{Query: "carbon"},
		ContextType:        "recommendations",
	})
	require.True(t, res.OK(), res.Message)
	rr := res.Data.(*window.RecallResult)
	require.NotEmpty(t, rr.Memories)
	assert.Equal(t, "carbon reduction plan", rr.Memories[0].Content)

	w, ok := k.State(inv).AttachedWindow()
	require.True(t, ok)
	it, ok := w.Get(rr.Memories[0].Key)
	require.True(t, ok)
	assert.Equal(t, window.Recommendations, it.Type)
}

func TestMemoryTools(t *testing.T) {
	ctx := context.Background()
	k, c, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	res := k.AddMemory(ctx, inv, AddMemoryArgs{Content: "bikes on weekends", MemoryType: "episodic"})
	require.True(t, res.OK())
	a := res.Data.(*model.Memory)
	c.t = c.t.Add(10 * 24 * time.Hour)
	res = k.AddMemory(ctx, inv, AddMemoryArgs{Content: "solar panels installed", Importance: "critical"})
	require.True(t, res.OK())
	b := res.Data.(*model.Memory)

	res = k.UserMemories(ctx, inv, UserMemoriesArgs{MemoryType: "episodic"})
	require.True(t, res.OK())
	assert.Len(t, res.Data.([]*model.Memory), 1)
	res = k.UserMemories(ctx, inv, UserMemoriesArgs{RecentDays: 5})
	require.True(t, res.OK())
	recent := res.Data.([]*model.Memory)
	require.Len(t, recent, 1)
	assert.Equal(t, b.ID, recent[0].ID)

	require.True(t, k.LinkMemories(ctx, inv, LinkMemoriesArgs{FromID: a.ID, ToID: b.ID}).OK())
	assert.Equal(t, StatusError, k.LinkMemories(ctx, inv, LinkMemoriesArgs{FromID: a.ID, ToID: a.ID}).Status)
	res = k.RetrieveMemory(ctx, inv, MemoryIDArgs{MemoryID: a.ID})
	require.True(t, res.OK())
	got := res.Data.(*model.Memory)
	assert.Equal(t, []string{b.ID}, got.Relationships)
	assert.Equal(t, 1, got.AccessCount)

	res = k.MemorySummary(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	sum := res.Data.(*memory.Summary)
	assert.Equal(t, 2, sum.TotalMemories)
	assert.Equal(t, 1, sum.ByImportance["CRITICAL"])

	res = k.ConsolidateMemories(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Data.(*memory.ConsolidationReport).AfterCount)

	require.True(t, k.DeleteMemory(ctx, inv, MemoryIDArgs{MemoryID: a.ID}).OK())
	assert.Equal(t, StatusNotFound, k.DeleteMemory(ctx, inv, MemoryIDArgs{MemoryID: a.ID}).Status)
}

func TestOperationTools(t *testing.T) {
	ctx := context.Background()
	k, c, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	start := func(agent string) string {
		res := k.StartOperation(ctx, inv, StartOperationArgs{AgentName: agent, EstimatedDurationMinutes: 5})
		require.True(t, res.OK(), res.Message)
		return res.Data.(*model.Operation).ID
	}
	done, failed, cancelled, paused := start("a"), start("b"), start("a"), start("c")

	require.True(t, k.CompleteOperation(ctx, inv, CompleteOperationArgs{OperationID: done, Result: map[string]any{"kg": 12.5}}).OK())
	require.True(t, k.FailOperation(ctx, inv, FailOperationArgs{OperationID: failed, ErrorMessage: "boom"}).OK())
	require.True(t, k.CancelOperation(ctx, inv, OperationArgs{OperationID: cancelled}).OK())
	require.True(t, k.PauseOperation(ctx, inv, PauseOperationArgs{OperationID: paused}).OK())

	res := k.ListOperations(ctx, inv, ListOperationsArgs{AgentName: "a"})
	require.True(t, res.OK())
	assert.Len(t, res.Data.([]*model.Operation), 2)
	res = k.ListOperations(ctx, inv, ListOperationsArgs{Status: "COMPLETED"})
	require.True(t, res.OK())
	assert.Len(t, res.Data.([]*model.Operation), 1)
	res = k.ListPausedOperations(ctx, inv, NoArgs{})
	require.True(t, res.OK())
	require.Len(t, res.Data.([]*model.Operation), 1)

	res = k.OperationCheckpoints(ctx, inv, OperationArgs{OperationID: paused})
	require.True(t, res.OK())
	assert.Len(t, res.Data.([]*model.OperationCheckpoint), 1)

	res = k.OperationHistory(ctx, inv, OperationArgs{OperationID: done})
	require.True(t, res.OK())
	var actions []string
	for _, e := range res.Data.([]model.HistoryEntry) {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"created", "started", "completed"}, actions)

	c.t = c.t.Add(31 * 24 * time.Hour)
	res = k.CleanupOperations(ctx, inv, CleanupOperationsArgs{})
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Data.(map[string]any)["deleted"])
	assert.Equal(t, StatusNotFound, k.OperationStatus(ctx, inv, OperationArgs{OperationID: done}).Status)
	assert.True(t, k.OperationStatus(ctx, inv, OperationArgs{OperationID: cancelled}).OK())
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()
	k, _, _ := newToolkit(t)
	inv := Invocation{UserID: "alex"}

	res := k.Invoke(ctx, inv, "add_memory", json.RawMessage(`{"content":"Prefers public transit","importance":"HIGH","tags":["transit"]}`))
	require.True(t, res.OK(), res.Message)

	res = k.Invoke(ctx, inv, "search_memories", json.RawMessage(`{"query":"transit"}`))
	require.True(t, res.OK(), res.Message)
	assert.Len(t, res.Data.([]memory.SearchResult), 1)

	res = k.Invoke(ctx, inv, "get_memory_summary", nil)
	require.True(t, res.OK(), res.Message)

	res = k.Invoke(ctx, inv, "add_memory", json.RawMessage(`{"content":`))
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "invalid arguments")

	res = k.Invoke(ctx, inv, "teleport", nil)
	assert.Equal(t, StatusError, res.Status)

	assert.Contains(t, Names(), "start_long_running_operation")
	assert.IsNonDecreasing(t, Names())
}

func TestPanicsBecomeErrors(t *testing.T) {
	k, _, m := newToolkit(t)
	res := k.run("boom", func() (any, error) { panic("kaboom") })
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("boom", "error")))
}
