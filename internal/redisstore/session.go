// Package redisstore provides a Redis-backed session.Service, interchangeable
// with the in-memory and SQLite services.
//
// Layout under the key prefix:
//
//	session:<id>           JSON session without messages
//	session:<id>:messages  list of JSON messages, oldest first
//	sessions               sorted set of every session id by creation time
//	user:<id>:sessions     sorted set of one user's session ids
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/session"
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "ecoagent:"

// maxTxRetries bounds optimistic-lock retries on a contended session.
const maxTxRetries = 16

// Config configures the Redis session service.
type Config struct {
	KeyPrefix  string
	DefaultTTL int
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = model.DefaultSessionTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

// SessionService implements session.Service on Redis. Transitions use
// WATCH/MULTI so concurrent writers to one session never lose updates.
// The caller owns the client.
type SessionService struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

var _ session.Service = (*SessionService)(nil)

// NewSessionService wraps client. A nil logger discards output.
func NewSessionService(client *redis.Client, cfg Config, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "session_service"), zap.String("backend", "redis")),
	}
}

func (r *SessionService) sessionKey(id string) string {
	return r.cfg.KeyPrefix + "session:" + id
}

func (r *SessionService) messagesKey(id string) string {
	return r.cfg.KeyPrefix + "session:" + id + ":messages"
}

func (r *SessionService) allKey() string {
	return r.cfg.KeyPrefix + "sessions"
}

func (r *SessionService) userKey(userID string) string {
	return r.cfg.KeyPrefix + "user:" + userID + ":sessions"
}

func (r *SessionService) Create(ctx context.Context, userID string, ttlSeconds int, metadata map[string]any) (*model.Session, error) {
	sess := model.NewSession(userID, session.ResolveTTL(ttlSeconds, r.cfg.DefaultTTL), model.CloneMap(metadata), r.cfg.Now())
	data, err := encodeSession(sess)
	if err != nil {
		return nil, err
	}

	score := float64(sess.CreatedAt.UnixNano())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(sess.ID), data, 0)
		pipe.ZAdd(ctx, r.allKey(), redis.Z{Score: score, Member: sess.ID})
		pipe.ZAdd(ctx, r.userKey(sess.UserID), redis.Z{Score: score, Member: sess.ID})
		return nil
	})
	if err != nil {
		return nil, storageErr("create session", err)
	}
	r.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	return sess, nil
}

func (r *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	return r.load(ctx, id)
}

func (r *SessionService) Activate(ctx context.Context, id string) (*model.Session, error) {
	return r.transition(ctx, id, "activated", (*model.Session).Activate)
}

func (r *SessionService) Pause(ctx context.Context, id string) (*model.Session, error) {
	return r.transition(ctx, id, "paused", (*model.Session).Pause)
}

func (r *SessionService) Resume(ctx context.Context, id string) (*model.Session, error) {
	return r.transition(ctx, id, "resumed", (*model.Session).Resume)
}

func (r *SessionService) Close(ctx context.Context, id string) (*model.Session, error) {
	return r.transition(ctx, id, "closed", (*model.Session).Close)
}

func (r *SessionService) transition(ctx context.Context, id, action string, fn session.Transition) (*model.Session, error) {
	var out *model.Session
	err := r.update(ctx, id, func(sess *model.Session, now time.Time) (bool, error) {
		sess.SurfaceExpiry(now)
		if err := fn(sess, now); err != nil {
			return false, err
		}
		out = sess
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if out.Messages, err = r.messages(ctx, id); err != nil {
		return nil, err
	}
	out.TotalInteractions = len(out.Messages)
	r.logger.Info("session "+action, zap.String("session_id", id), zap.String("status", string(out.Status)))
	return out, nil
}

// update runs fn against the stored session inside an optimistic
// transaction. fn reports whether it changed anything worth writing.
func (r *SessionService) update(ctx context.Context, id string, fn func(*model.Session, time.Time) (bool, error)) error {
	key := r.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return storageErr("load session", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		changed, err := fn(sess, r.cfg.Now())
		if err != nil || !changed {
			return err
		}
		enc, err := encodeSession(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrIllegalTransition) && !errors.Is(err, model.ErrStorage) {
			return storageErr("update session", err)
		}
		return err
	}
	return storageErr("update session", fmt.Errorf("session %s: too much contention", id))
}

func (r *SessionService) UserSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list user sessions", err)
	}
	return r.loadAll(ctx, ids)
}

func (r *SessionService) ActiveSessions(ctx context.Context) ([]*model.Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.allKey(), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	list, err := r.loadAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := r.cfg.Now()
	var out []*model.Session
	for _, sess := range list {
		if sess.IsActive(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (r *SessionService) ActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	list, err := r.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.cfg.Now()
	for _, sess := range list {
		if sess.IsActive(now) {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("active session for %s: %w", userID, model.ErrNotFound)
}

// AddMessage appends to the message list. The interaction count is the
// list length, so a single RPUSH is the whole write. Sessions are never
// deleted, which makes the existence check safe outside the push.
func (r *SessionService) AddMessage(ctx context.Context, id string, msg model.Message) (*model.Session, error) {
	n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, storageErr("check session", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.cfg.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, storageErr("encode message", err)
	}
	if err := r.client.RPush(ctx, r.messagesKey(id), data).Err(); err != nil {
		return nil, storageErr("append message", err)
	}
	return r.load(ctx, id)
}

func (r *SessionService) Messages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	sess, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.TailMessages(sess.Messages, limit), nil
}

func (r *SessionService) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := r.client.ZRange(ctx, r.allKey(), 0, -1).Result()
	if err != nil {
		return 0, storageErr("list sessions", err)
	}
	n := 0
	for _, id := range ids {
		reaped := false
		err := r.update(ctx, id, func(sess *model.Session, now time.Time) (bool, error) {
			reaped = sess.Reap(now)
			return reaped, nil
		})
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if reaped {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("expired sessions closed", zap.Int("count", n))
	}
	return n, nil
}

func (r *SessionService) Summary(ctx context.Context, userID string) (*session.Summary, error) {
	list, err := r.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return session.Summarize(userID, list, r.cfg.Now()), nil
}

// load reads a session with its messages, persisting surfaced expiry.
func (r *SessionService) load(ctx context.Context, id string) (*model.Session, error) {
	var sess *model.Session
	err := r.update(ctx, id, func(s *model.Session, now time.Time) (bool, error) {
		sess = s
		return s.SurfaceExpiry(now), nil
	})
	if err != nil {
		return nil, err
	}
	if sess.Messages, err = r.messages(ctx, id); err != nil {
		return nil, err
	}
	sess.TotalInteractions = len(sess.Messages)
	return sess, nil
}

func (r *SessionService) loadAll(ctx context.Context, ids []string) ([]*model.Session, error) {
	out := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.load(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (r *SessionService) messages(ctx context.Context, id string) ([]model.Message, error) {
	raw, err := r.client.LRange(ctx, r.messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, storageErr("load messages", err)
	}
	var out []model.Message
	for _, s := range raw {
		var m model.Message
		if err := model.DecodeJSON([]byte(s), &m); err != nil {
			return nil, storageErr("decode message", err)
		}
		m.Metadata = model.CloneMap(m.Metadata)
		out = append(out, m)
	}
	return out, nil
}

// encodeSession stores everything except the message log, which has its
// own list.
func encodeSession(sess *model.Session) ([]byte, error) {
	c := *sess
	c.Messages = nil
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, storageErr("encode session", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*model.Session, error) {
	var sess model.Session
	if err := model.DecodeJSON(data, &sess); err != nil {
		return nil, storageErr("decode session", err)
	}
	sess.Context = model.CloneMap(sess.Context)
	sess.Metadata = model.CloneMap(sess.Metadata)
	return &sess, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}
