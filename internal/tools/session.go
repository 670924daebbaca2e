package tools

import (
	"context"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// CreateSessionArgs are the arguments of create_session. A nil TTLSeconds
// selects the configured default.
type CreateSessionArgs struct {
	TTLSeconds *int           `json:"ttl_seconds"`
	Metadata   map[string]any `json:"metadata"`
}

// CreateSession creates a CREATED session for the invoking user.
func (k *Toolkit) CreateSession(ctx context.Context, inv Invocation, args CreateSessionArgs) Result {
	inv = inv.normalized()
	return k.run("create_session", func() (any, error) {
		ttl := -1
		if args.TTLSeconds != nil {
			ttl = *args.TTLSeconds
		}
		return k.State(inv).Sessions().Create(ctx, inv.UserID, ttl, args.Metadata)
	})
}

// SessionArgs name a session; empty means the invocation's session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

func (a SessionArgs) id(inv Invocation) string {
	if a.SessionID != "" {
		return a.SessionID
	}
	return inv.normalized().SessionID
}

// sessionView is a session with its derived context summary.
type sessionView struct {
	*model.Session
	Summary model.SessionContextSummary `json:"context_summary"`
}

// GetSession returns a session with its context summary.
func (k *Toolkit) GetSession(ctx context.Context, inv Invocation, args SessionArgs) Result {
	return k.run("get_session", func() (any, error) {
		sess, err := k.State(inv).Sessions().Get(ctx, args.id(inv))
		if err != nil {
			return nil, err
		}
		return sessionView{Session: sess, Summary: sess.ContextSummary(k.deps.Now())}, nil
	})
}

// ActivateSession moves a CREATED session to ACTIVE.
func (k *Toolkit) ActivateSession(ctx context.Context, inv Invocation, args SessionArgs) Result {
	return k.run("activate_session", func() (any, error) {
		return k.State(inv).Sessions().Activate(ctx, args.id(inv))
	})
}

// PauseSession moves a live ACTIVE session to PAUSED.
func (k *Toolkit) PauseSession(ctx context.Context, inv Invocation, args SessionArgs) Result {
	return k.run("pause_session", func() (any, error) {
		return k.State(inv).Sessions().Pause(ctx, args.id(inv))
	})
}

// ResumeSession moves a PAUSED session back to ACTIVE.
func (k *Toolkit) ResumeSession(ctx context.Context, inv Invocation, args SessionArgs) Result {
	return k.run("resume_session", func() (any, error) {
		return k.State(inv).Sessions().Resume(ctx, args.id(inv))
	})
}

// CloseSession closes a session and drops its tool state.
func (k *Toolkit) CloseSession(ctx context.Context, inv Invocation, args SessionArgs) Result {
	return k.run("close_session", func() (any, error) {
		id := args.id(inv)
		sess, err := k.State(inv).Sessions().Close(ctx, id)
		if err != nil {
			return nil, err
		}
		k.Forget(id)
		return sess, nil
	})
}

// AddMessageArgs are the arguments of add_message.
type AddMessageArgs struct {
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
}

// AddMessage appends a message to a session's log.
func (k *Toolkit) AddMessage(ctx context.Context, inv Invocation, args AddMessageArgs) Result {
	return k.run("add_message", func() (any, error) {
		id := SessionArgs{SessionID: args.SessionID}.id(inv)
		sess, err := k.State(inv).Sessions().AddMessage(ctx, id, model.Message{
			Role:     args.Role,
			Content:  args.Content,
			Metadata: args.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"session_id":         sess.ID,
			"total_interactions": sess.TotalInteractions,
		}, nil
	})
}

// MessagesArgs are the arguments of get_messages. Limit <= 0 returns all.
type MessagesArgs struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

// Messages returns the tail of a session's log.
func (k *Toolkit) Messages(ctx context.Context, inv Invocation, args MessagesArgs) Result {
	return k.run("get_messages", func() (any, error) {
		id := SessionArgs{SessionID: args.SessionID}.id(inv)
		msgs, err := k.State(inv).Sessions().Messages(ctx, id, args.Limit)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		return msgs, nil
	})
}

// ActiveSession returns the invoking user's most recent live session.
func (k *Toolkit) ActiveSession(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("get_active_session", func() (any, error) {
		return k.State(inv).Sessions().ActiveSession(ctx, inv.UserID)
	})
}

// UserSessions lists the invoking user's sessions, newest first.
func (k *Toolkit) UserSessions(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("get_user_sessions", func() (any, error) {
		list, err := k.State(inv).Sessions().UserSessions(ctx, inv.UserID)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []*model.Session{}
		}
		return list, nil
	})
}

// SessionSummary aggregates the invoking user's sessions.
func (k *Toolkit) SessionSummary(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("get_session_summary", func() (any, error) {
		return k.State(inv).Sessions().Summary(ctx, inv.UserID)
	})
}

// CleanupSessions closes every expired session and drops the tool state of
// closed ones.
func (k *Toolkit) CleanupSessions(ctx context.Context, inv Invocation, _ NoArgs) Result {
	return k.run("cleanup_sessions", func() (any, error) {
		n, err := k.State(inv).Sessions().CleanupExpired(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := k.Prune(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"closed": n}, nil
	})
}
