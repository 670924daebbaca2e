package model

import (
	"fmt"
	"time"
)

// DefaultSessionTTL is used when a caller does not pass a TTL.
const DefaultSessionTTL = 3600

// Message is one entry of a session's conversation log.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is a conversational session owned by one user.
//
// ExpiresAt is set only on activation and resume (now + TTLSeconds). Expiry is
// evaluated lazily by the methods below; nothing runs on a timer.
type Session struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Status            SessionStatus  `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	PausedAt          *time.Time     `json:"paused_at,omitempty"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	TTLSeconds        int            `json:"ttl_seconds"`
	Messages          []Message      `json:"messages,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	TotalInteractions int            `json:"total_interactions"`
}

// NewSession builds a session in the CREATED state.
func NewSession(userID string, ttlSeconds int, metadata map[string]any, now time.Time) *Session {
	if userID == "" {
		userID = UnknownUser
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Session{
		ID:         NewID(),
		UserID:     userID,
		Status:     SessionCreated,
		CreatedAt:  now,
		TTLSeconds: ttlSeconds,
		Context:    map[string]any{},
		Metadata:   metadata,
	}
}

func (s *Session) illegal(op string) error {
	return fmt.Errorf("%w: cannot %s session %s in state %s", ErrIllegalTransition, op, s.ID, s.Status)
}

func (s *Session) refreshExpiry(now time.Time) {
	exp := now.Add(time.Duration(s.TTLSeconds) * time.Second)
	s.ExpiresAt = &exp
}

// Activate moves CREATED or PAUSED to ACTIVE.
func (s *Session) Activate(now time.Time) error {
	if s.Status != SessionCreated && s.Status != SessionPaused {
		return s.illegal("activate")
	}
	s.Status = SessionActive
	if s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}
	s.refreshExpiry(now)
	return nil
}

// Pause moves a live ACTIVE session to PAUSED.
func (s *Session) Pause(now time.Time) error {
	if !s.IsActive(now) {
		return s.illegal("pause")
	}
	s.Status = SessionPaused
	t := now
	s.PausedAt = &t
	return nil
}

// Resume moves PAUSED back to ACTIVE and restarts the TTL window.
func (s *Session) Resume(now time.Time) error {
	if s.Status != SessionPaused {
		return s.illegal("resume")
	}
	s.Status = SessionActive
	s.refreshExpiry(now)
	return nil
}

// Close is terminal and legal from any non-terminal state.
func (s *Session) Close(now time.Time) error {
	switch s.Status {
	case SessionCreated, SessionActive, SessionPaused:
	default:
		return s.illegal("close")
	}
	s.Status = SessionClosed
	t := now
	s.ClosedAt = &t
	return nil
}

// IsExpired reports whether the TTL window has elapsed. A session whose
// expires_at equals now is already expired, so ttl 0 is never active.
func (s *Session) IsExpired(now time.Time) bool {
	if s.Status == SessionExpired {
		return true
	}
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// IsActive is true iff the status is ACTIVE and the TTL has not elapsed.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == SessionActive && !s.IsExpired(now)
}

// SurfaceExpiry marks a stale ACTIVE session as EXPIRED. It reports whether
// the status changed.
func (s *Session) SurfaceExpiry(now time.Time) bool {
	if s.Status == SessionActive && s.IsExpired(now) {
		s.Status = SessionExpired
		return true
	}
	return false
}

// Reap closes an expired session during cleanup. CLOSED sessions are left
// alone, which keeps cleanup idempotent.
func (s *Session) Reap(now time.Time) bool {
	if s.Status == SessionExpired || (s.Status == SessionActive && s.IsExpired(now)) {
		s.Status = SessionClosed
		t := now
		s.ClosedAt = &t
		return true
	}
	return false
}

// AddMessage appends to the conversation log and counts the interaction.
func (s *Session) AddMessage(m Message) {
	s.Messages = append(s.Messages, m)
	s.TotalInteractions++
}

// Duration runs from start (or creation) to close (or now).
func (s *Session) Duration(now time.Time) time.Duration {
	start := s.CreatedAt
	if s.StartedAt != nil {
		start = *s.StartedAt
	}
	end := now
	if s.ClosedAt != nil {
		end = *s.ClosedAt
	}
	return end.Sub(start)
}

// SessionContextSummary is a compact view of a session for tool output.
type SessionContextSummary struct {
	TotalInteractions int           `json:"total_interactions"`
	TotalMessages     int           `json:"total_messages"`
	DurationSeconds   float64       `json:"duration_seconds"`
	Status            SessionStatus `json:"status"`
	ContextKeys       []string      `json:"context_keys"`
}

// ContextSummary summarizes the session at now.
func (s *Session) ContextSummary(now time.Time) SessionContextSummary {
	keys := make([]string, 0, len(s.Context))
	for k := range s.Context {
		keys = append(keys, k)
	}
	return SessionContextSummary{
		TotalInteractions: s.TotalInteractions,
		TotalMessages:     len(s.Messages),
		DurationSeconds:   s.Duration(now).Seconds(),
		Status:            s.Status,
		ContextKeys:       keys,
	}
}

// Clone returns a deep copy safe to hand to callers.
func (s *Session) Clone() *Session {
	c := *s
	c.StartedAt = cloneTime(s.StartedAt)
	c.PausedAt = cloneTime(s.PausedAt)
	c.ClosedAt = cloneTime(s.ClosedAt)
	c.ExpiresAt = cloneTime(s.ExpiresAt)
	c.Context = CloneMap(s.Context)
	c.Metadata = CloneMap(s.Metadata)
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Metadata = CloneMap(m.Metadata)
			c.Messages[i] = m
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
