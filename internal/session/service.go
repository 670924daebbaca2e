// Package session manages conversational sessions and their lazy TTL expiry.
package session

import (
	"context"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Service is the session contract shared by the in-memory, SQLite and Redis
// backends. Every read surfaces staleness first: an ACTIVE session whose TTL
// has elapsed is reported (and, on durable backends, stored) as EXPIRED.
type Service interface {
	// Create builds a CREATED session. ttlSeconds < 0 selects the default.
	Create(ctx context.Context, userID string, ttlSeconds int, metadata map[string]any) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.Session, error)

	Activate(ctx context.Context, id string) (*model.Session, error)
	Pause(ctx context.Context, id string) (*model.Session, error)
	Resume(ctx context.Context, id string) (*model.Session, error)
	Close(ctx context.Context, id string) (*model.Session, error)

	// UserSessions lists a user's sessions, newest first.
	UserSessions(ctx context.Context, userID string) ([]*model.Session, error)
	// ActiveSessions lists every live ACTIVE session.
	ActiveSessions(ctx context.Context) ([]*model.Session, error)
	// ActiveSession returns the user's most recently created live session.
	ActiveSession(ctx context.Context, userID string) (*model.Session, error)

	// AddMessage appends to the session's message log and counts the
	// interaction. It is the only non-idempotent write.
	AddMessage(ctx context.Context, id string, msg model.Message) (*model.Session, error)
	// Messages returns the last limit messages in order; limit <= 0 means all.
	Messages(ctx context.Context, id string, limit int) ([]model.Message, error)

	// CleanupExpired closes expired sessions and returns how many it closed.
	CleanupExpired(ctx context.Context) (int, error)

	// Summary aggregates a user's sessions.
	Summary(ctx context.Context, userID string) (*Summary, error)
}

// Summary aggregates one user's sessions.
type Summary struct {
	UserID            string    `json:"user_id"`
	TotalSessions     int       `json:"total_sessions"`
	ActiveSessions    int       `json:"active_sessions"`
	ClosedSessions    int       `json:"closed_sessions"`
	TotalInteractions int       `json:"total_interactions"`
	Timestamp         time.Time `json:"timestamp"`
}

// Summarize builds a Summary from sessions already surfaced at now.
func Summarize(userID string, sessions []*model.Session, now time.Time) *Summary {
	s := &Summary{UserID: userID, TotalSessions: len(sessions), Timestamp: now}
	for _, sess := range sessions {
		switch {
		case sess.IsActive(now):
			s.ActiveSessions++
		case sess.Status == model.SessionClosed:
			s.ClosedSessions++
		}
		s.TotalInteractions += sess.TotalInteractions
	}
	return s
}

// ResolveTTL maps a negative ttl to the default.
func ResolveTTL(ttlSeconds, def int) int {
	if ttlSeconds < 0 {
		if def <= 0 {
			return model.DefaultSessionTTL
		}
		return def
	}
	return ttlSeconds
}

// Transition is a Session state-machine method such as
// (*model.Session).Activate.
type Transition func(s *model.Session, now time.Time) error

// TailMessages returns the last limit messages; limit <= 0 means all.
func TailMessages(msgs []model.Message, limit int) []model.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.Metadata = model.CloneMap(m.Metadata)
		out[i] = m
	}
	return out
}
