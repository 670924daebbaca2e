// Package tools is the boundary agents call through. Every tool takes an
// Invocation and returns a Result; errors never escape as panics or raw Go
// errors, since the caller is an LLM runtime that can only read structured
// output.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/session"
	"github.com/rcliao/ecoagent-memory/internal/window"
)

// Status is the outcome of a tool call.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Result is what every tool returns.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Invocation identifies the caller. Tools may run outside a full session,
// so empty fields fall back to model.UnknownUser.
type Invocation struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (inv Invocation) normalized() Invocation {
	if inv.UserID == "" {
		inv.UserID = model.UnknownUser
	}
	if inv.SessionID == "" {
		inv.SessionID = model.UnknownUser
	}
	return inv
}

// Deps are the services tools act on.
type Deps struct {
	Memories   memory.Bank
	Sessions   session.Service
	Operations *operation.Manager
	Metrics    *metrics.Metrics
	// NewWindow builds the context window attached to a session on first use.
	NewWindow func() *window.Window
	Now       func() time.Time
}

// State is the typed per-session state. Each field is attached on first
// access from the toolkit's factories.
type State struct {
	mu       sync.Mutex
	deps     *Deps
	window   *window.Window
	bank     memory.Bank
	sessions session.Service
}

// Window returns the session's context window, creating it if needed.
func (s *State) Window() *window.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		s.window = s.deps.NewWindow()
	}
	return s.window
}

// AttachedWindow returns the window only if one was already created.
func (s *State) AttachedWindow() (*window.Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window, s.window != nil
}

// Bank returns the memory bank attached to the session.
func (s *State) Bank() memory.Bank {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bank == nil {
		s.bank = s.deps.Memories
	}
	return s.bank
}

// Sessions returns the session service attached to the session.
func (s *State) Sessions() session.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = s.deps.Sessions
	}
	return s.sessions
}

// Toolkit exposes every tool over one set of services.
type Toolkit struct {
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	states map[stateKey]*State
}

// stateKey scopes state to one user in one session. Sessionless callers of
// different users share the session sentinel but never a State.
type stateKey struct {
	userID    string
	sessionID string
}

// New creates a toolkit. A nil logger discards output.
func New(deps Deps, logger *zap.Logger) *Toolkit {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewWindow == nil {
		now := deps.Now
		deps.NewWindow = func() *window.Window {
			return window.New(window.Config{Now: now}, logger)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolkit{
		deps:   deps,
		logger: logger.With(zap.String("component", "tools")),
		states: make(map[stateKey]*State),
	}
}

// State returns the state of the invocation's user in its session.
func (k *Toolkit) State(inv Invocation) *State {
	inv = inv.normalized()
	key := stateKey{userID: inv.UserID, sessionID: inv.SessionID}
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.states[key]
	if !ok {
		st = &State{deps: &k.deps}
		k.states[key] = st
	}
	return st
}

// Forget drops the state every user kept for a session.
func (k *Toolkit) Forget(sessionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range k.states {
		if key.sessionID == sessionID {
			delete(k.states, key)
		}
	}
}

// Prune drops the state of sessions that are closed, expired or gone and
// returns how many sessions it forgot. Sessionless state is kept. Hosts
// that sweep in the background call it after each sweep.
func (k *Toolkit) Prune(ctx context.Context) (int, error) {
	k.mu.Lock()
	ids := make(map[string]struct{})
	for key := range k.states {
		if key.sessionID != model.UnknownUser {
			ids[key.sessionID] = struct{}{}
		}
	}
	k.mu.Unlock()

	pruned := 0
	for id := range ids {
		sess, err := k.deps.Sessions.Get(ctx, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return pruned, err
		case sess.Status != model.SessionClosed && sess.Status != model.SessionExpired:
			continue
		}
		k.Forget(id)
		pruned++
	}
	if pruned > 0 {
		k.logger.Debug("pruned session state", zap.Int("sessions", pruned))
	}
	return pruned, nil
}

// run executes one tool body and converts its outcome into a Result.
func (k *Toolkit) run(tool string, fn func() (any, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("tool panicked", zap.String("tool", tool), zap.Any("panic", r))
			res = Result{Status: StatusError, Message: tool + ": internal error"}
		}
		k.deps.Metrics.ToolCall(tool, string(res.Status))
	}()

	data, err := fn()
	if err != nil {
		return errorResult(err)
	}
	return Result{Status: StatusSuccess, Data: data}
}

func errorResult(err error) Result {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return Result{Status: StatusNotFound, Message: err.Error()}
	case errors.Is(err, model.ErrInvalidEnum):
		return Result{Status: StatusError, Message: "invalid enum value: " + err.Error()}
	default:
		return Result{Status: StatusError, Message: err.Error()}
	}
}

// handler adapts a typed tool to raw JSON arguments.
type handler func(ctx context.Context, k *Toolkit, inv Invocation, args json.RawMessage) Result

func bind[A any](fn func(*Toolkit, context.Context, Invocation, A) Result) handler {
	return func(ctx context.Context, k *Toolkit, inv Invocation, raw json.RawMessage) Result {
		var args A
		if len(raw) > 0 {
			if err := model.DecodeJSON(raw, &args); err != nil {
				return Result{Status: StatusError, Message: fmt.Sprintf("invalid arguments: %v", err)}
			}
		}
		return fn(k, ctx, inv, args)
	}
}

var toolTable = map[string]handler{
	"add_memory":           bind((*Toolkit).AddMemory),
	"search_memories":      bind((*Toolkit).SearchMemories),
	"retrieve_memory":      bind((*Toolkit).RetrieveMemory),
	"get_user_memories":    bind((*Toolkit).UserMemories),
	"delete_memory":        bind((*Toolkit).DeleteMemory),
	"link_memories":        bind((*Toolkit).LinkMemories),
	"consolidate_memories": bind((*Toolkit).ConsolidateMemories),
	"get_memory_summary":   bind((*Toolkit).MemorySummary),

	"create_session":      bind((*Toolkit).CreateSession),
	"get_session":         bind((*Toolkit).GetSession),
	"activate_session":    bind((*Toolkit).ActivateSession),
	"pause_session":       bind((*Toolkit).PauseSession),
	"resume_session":      bind((*Toolkit).ResumeSession),
	"close_session":       bind((*Toolkit).CloseSession),
	"add_message":         bind((*Toolkit).AddMessage),
	"get_messages":        bind((*Toolkit).Messages),
	"get_active_session":  bind((*Toolkit).ActiveSession),
	"get_user_sessions":   bind((*Toolkit).UserSessions),
	"get_session_summary": bind((*Toolkit).SessionSummary),
	"cleanup_sessions":    bind((*Toolkit).CleanupSessions),

	"manage_context_item": bind((*Toolkit).ManageContextItem),
	"get_context_item":    bind((*Toolkit).GetContextItem),
	"remove_context_item": bind((*Toolkit).RemoveContextItem),
	"compact_context":     bind((*Toolkit).CompactContext),
	"get_context_summary": bind((*Toolkit).ContextSummary),
	"get_context_data":    bind((*Toolkit).ContextData),
	"purge_context":       bind((*Toolkit).PurgeContext),
	"recall_memories":     bind((*Toolkit).RecallMemories),

	"start_long_running_operation": bind((*Toolkit).StartOperation),
	"get_operation_status":         bind((*Toolkit).OperationStatus),
	"update_operation_progress":    bind((*Toolkit).UpdateProgress),
	"pause_operation":              bind((*Toolkit).PauseOperation),
	"resume_operation":             bind((*Toolkit).ResumeOperation),
	"complete_operation":           bind((*Toolkit).CompleteOperation),
	"fail_operation":               bind((*Toolkit).FailOperation),
	"cancel_operation":             bind((*Toolkit).CancelOperation),
	"list_user_operations":         bind((*Toolkit).ListOperations),
	"list_paused_operations":       bind((*Toolkit).ListPausedOperations),
	"get_operation_history":        bind((*Toolkit).OperationHistory),
	"get_operation_checkpoints":    bind((*Toolkit).OperationCheckpoints),
	"cleanup_old_operations":       bind((*Toolkit).CleanupOperations),
}

// Names lists every tool name Invoke accepts, sorted.
func Names() []string {
	out := make([]string, 0, len(toolTable))
	for n := range toolTable {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke calls a tool by name with JSON-encoded arguments.
func (k *Toolkit) Invoke(ctx context.Context, inv Invocation, name string, args json.RawMessage) Result {
	h, ok := toolTable[name]
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("unknown tool %q", name)}
	}
	return h(ctx, k, inv, args)
}
