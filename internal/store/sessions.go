package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/session"
)

const sessionColumns = `id, user_id, status, created_at, started_at, paused_at, closed_at,
	expires_at, ttl_seconds, context, metadata, total_interactions`

// SessionService implements session.Service on SQLite. Messages live in
// their own table so appending one never rewrites the session row's blobs.
type SessionService struct {
	s      *SQLiteStore
	logger *zap.Logger
}

func (ss *SessionService) Create(ctx context.Context, userID string, ttlSeconds int, metadata map[string]any) (*model.Session, error) {
	sess := model.NewSession(userID, session.ResolveTTL(ttlSeconds, ss.s.opts.DefaultTTL), model.CloneMap(metadata), ss.s.now())
	if err := ss.save(ctx, sess); err != nil {
		return nil, err
	}
	ss.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	return sess, nil
}

func (ss *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	return ss.load(ctx, id)
}

func (ss *SessionService) Activate(ctx context.Context, id string) (*model.Session, error) {
	return ss.transition(ctx, id, "activated", (*model.Session).Activate)
}

func (ss *SessionService) Pause(ctx context.Context, id string) (*model.Session, error) {
	return ss.transition(ctx, id, "paused", (*model.Session).Pause)
}

func (ss *SessionService) Resume(ctx context.Context, id string) (*model.Session, error) {
	return ss.transition(ctx, id, "resumed", (*model.Session).Resume)
}

func (ss *SessionService) Close(ctx context.Context, id string) (*model.Session, error) {
	return ss.transition(ctx, id, "closed", (*model.Session).Close)
}

// transition loads a fresh copy, applies fn and saves. A rejected or failed
// call returns before anything is written.
func (ss *SessionService) transition(ctx context.Context, id, action string, fn session.Transition) (*model.Session, error) {
	sess, err := ss.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, ss.s.now()); err != nil {
		return nil, err
	}
	if err := ss.save(ctx, sess); err != nil {
		ss.logger.Error("save session", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	ss.logger.Info("session "+action, zap.String("session_id", id), zap.String("status", string(sess.Status)))
	return sess, nil
}

func (ss *SessionService) UserSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	return ss.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (ss *SessionService) ActiveSessions(ctx context.Context) ([]*model.Session, error) {
	list, err := ss.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at DESC, id DESC`, string(model.SessionActive))
	if err != nil {
		return nil, err
	}
	now := ss.s.now()
	var out []*model.Session
	for _, sess := range list {
		if sess.IsActive(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (ss *SessionService) ActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	list, err := ss.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := ss.s.now()
	for _, sess := range list {
		if sess.IsActive(now) {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("active session for %s: %w", userID, model.ErrNotFound)
}

// AddMessage bumps the interaction counter and appends the message in one
// transaction. The counter update goes first so the transaction takes the
// write lock before it reads anything.
func (ss *SessionService) AddMessage(ctx context.Context, id string, msg model.Message) (*model.Session, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = ss.s.now()
	}
	meta, err := encodeJSON(msg.Metadata)
	if err != nil {
		return nil, storageErr("encode message", err)
	}

	tx, err := ss.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET total_interactions = total_interactions + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, storageErr("count interaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, timestamp, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, msg.Role, msg.Content, formatTime(msg.Timestamp), meta); err != nil {
		return nil, storageErr("append message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	return ss.load(ctx, id)
}

func (ss *SessionService) Messages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	sess, err := ss.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.TailMessages(sess.Messages, limit), nil
}

// CleanupExpired closes EXPIRED sessions and ACTIVE ones whose window has
// elapsed, in a single statement.
func (ss *SessionService) CleanupExpired(ctx context.Context) (int, error) {
	now := formatTime(ss.s.now())
	res, err := ss.s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, closed_at = ?
		WHERE status = ?
		   OR (status = ? AND expires_at IS NOT NULL AND expires_at <= ?)`,
		string(model.SessionClosed), now,
		string(model.SessionExpired),
		string(model.SessionActive), now)
	if err != nil {
		return 0, storageErr("cleanup sessions", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		ss.logger.Info("expired sessions closed", zap.Int64("count", n))
	}
	return int(n), nil
}

func (ss *SessionService) Summary(ctx context.Context, userID string) (*session.Summary, error) {
	list, err := ss.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return session.Summarize(userID, list, ss.s.now()), nil
}

// load reads a session with its messages and persists surfaced expiry.
func (ss *SessionService) load(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(ss.s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr("session", id, err)
	}
	if err := ss.surface(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Messages, err = ss.messages(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (ss *SessionService) list(ctx context.Context, q string, args ...interface{}) ([]*model.Session, error) {
	rows, err := ss.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query sessions", err)
	}
	var list []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scan session", err)
		}
		list = append(list, sess)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, storageErr("query sessions", err)
	}

	for _, sess := range list {
		if err := ss.surface(ctx, sess); err != nil {
			return nil, err
		}
		if sess.Messages, err = ss.messages(ctx, sess.ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// surface marks a stale ACTIVE session EXPIRED, in memory and on disk.
func (ss *SessionService) surface(ctx context.Context, sess *model.Session) error {
	if !sess.SurfaceExpiry(ss.s.now()) {
		return nil
	}
	_, err := ss.s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		string(model.SessionExpired), sess.ID, string(model.SessionActive))
	if err != nil {
		return storageErr("mark session expired", err)
	}
	ss.logger.Debug("session expired", zap.String("session_id", sess.ID))
	return nil
}

func (ss *SessionService) messages(ctx context.Context, id string) ([]model.Message, error) {
	rows, err := ss.s.db.QueryContext(ctx,
		`SELECT role, content, timestamp, metadata FROM session_messages WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, storageErr("query messages", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var ts string
		var meta sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &ts, &meta); err != nil {
			return nil, storageErr("scan message", err)
		}
		m.Timestamp = parseTime(ts)
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, storageErr("decode message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// save upserts the session row. Messages are written only by AddMessage and
// the interaction counter is never lowered.
func (ss *SessionService) save(ctx context.Context, sess *model.Session) error {
	ctxJSON, err := encodeJSON(sess.Context)
	if err != nil {
		return storageErr("encode session", err)
	}
	metaJSON, err := encodeJSON(sess.Metadata)
	if err != nil {
		return storageErr("encode session", err)
	}

	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			paused_at = excluded.paused_at,
			closed_at = excluded.closed_at,
			expires_at = excluded.expires_at,
			ttl_seconds = excluded.ttl_seconds,
			context = excluded.context,
			metadata = excluded.metadata,
			total_interactions = MAX(sessions.total_interactions, excluded.total_interactions)`,
		sess.ID, sess.UserID, string(sess.Status), formatTime(sess.CreatedAt),
		nullTime(sess.StartedAt), nullTime(sess.PausedAt), nullTime(sess.ClosedAt), nullTime(sess.ExpiresAt),
		sess.TTLSeconds, ctxJSON, metaJSON, sess.TotalInteractions)
	if err != nil {
		return storageErr("save session", err)
	}
	return nil
}

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var status, createdAt string
	var startedAt, pausedAt, closedAt, expiresAt, ctxJSON, metaJSON sql.NullString

	err := row.Scan(
		&sess.ID, &sess.UserID, &status, &createdAt, &startedAt, &pausedAt, &closedAt,
		&expiresAt, &sess.TTLSeconds, &ctxJSON, &metaJSON, &sess.TotalInteractions,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = model.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.StartedAt = parseNullTime(startedAt)
	sess.PausedAt = parseNullTime(pausedAt)
	sess.ClosedAt = parseNullTime(closedAt)
	sess.ExpiresAt = parseNullTime(expiresAt)
	if err := decodeJSON(ctxJSON, &sess.Context); err != nil {
		return nil, err
	}
	if err := decodeJSON(metaJSON, &sess.Metadata); err != nil {
		return nil, err
	}
	return &sess, nil
}
