package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Config configures a session service.
type Config struct {
	DefaultTTL int
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = model.DefaultSessionTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// InMemoryService keeps sessions for the lifetime of the process.
type InMemoryService struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	sessions map[string]*model.Session
}

// NewInMemoryService creates an empty service. A nil logger discards output.
func NewInMemoryService(cfg Config, logger *zap.Logger) *InMemoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryService{
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "session_service"), zap.String("backend", "memory")),
		sessions: make(map[string]*model.Session),
	}
}

func (s *InMemoryService) Create(_ context.Context, userID string, ttlSeconds int, metadata map[string]any) (*model.Session, error) {
	sess := model.NewSession(userID, ResolveTTL(ttlSeconds, s.cfg.DefaultTTL), model.CloneMap(metadata), s.cfg.Now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	return sess.Clone(), nil
}

func (s *InMemoryService) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *InMemoryService) Activate(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(id, "activated", (*model.Session).Activate)
}

func (s *InMemoryService) Pause(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(id, "paused", (*model.Session).Pause)
}

func (s *InMemoryService) Resume(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(id, "resumed", (*model.Session).Resume)
}

func (s *InMemoryService) Close(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(id, "closed", (*model.Session).Close)
}

// transition applies fn to a scratch copy so a rejected call leaves the
// stored session untouched.
func (s *InMemoryService) transition(id, action string, fn Transition) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next, s.cfg.Now()); err != nil {
		return nil, err
	}
	s.sessions[id] = next

	s.logger.Info("session "+action, zap.String("session_id", id), zap.String("status", string(next.Status)))
	return next.Clone(), nil
}

func (s *InMemoryService) UserSessions(_ context.Context, userID string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		sess.SurfaceExpiry(now)
		out = append(out, sess.Clone())
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *InMemoryService) ActiveSessions(_ context.Context) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	var out []*model.Session
	for _, sess := range s.sessions {
		sess.SurfaceExpiry(now)
		if sess.IsActive(now) {
			out = append(out, sess.Clone())
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *InMemoryService) ActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	list, err := s.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	for _, sess := range list {
		if sess.IsActive(now) {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("active session for %s: %w", userID, model.ErrNotFound)
}

func (s *InMemoryService) AddMessage(_ context.Context, id string, msg model.Message) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.cfg.Now()
	}
	msg.Metadata = model.CloneMap(msg.Metadata)
	sess.AddMessage(msg)
	return sess.Clone(), nil
}

func (s *InMemoryService) Messages(_ context.Context, id string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return TailMessages(sess.Messages, limit), nil
}

func (s *InMemoryService) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	n := 0
	for _, sess := range s.sessions {
		if sess.Reap(now) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("expired sessions closed", zap.Int("count", n))
	}
	return n, nil
}

func (s *InMemoryService) Summary(ctx context.Context, userID string) (*Summary, error) {
	list, err := s.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Summarize(userID, list, s.cfg.Now()), nil
}

func (s *InMemoryService) getLocked(id string) (*model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	sess.SurfaceExpiry(s.cfg.Now())
	return sess, nil
}

// SortNewestFirst orders sessions by creation time, newest first.
func SortNewestFirst(list []*model.Session) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
