package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

const memoryColumns = `id, user_id, memory_type, content, context, importance, timestamp,
	source, tags, access_count, last_accessed, relationships, metadata`

// MemoryBank implements memory.Bank on SQLite. Strength is never stored;
// scoring runs in Go over the rows of one user.
type MemoryBank struct {
	s      *SQLiteStore
	logger *zap.Logger
}

func (b *MemoryBank) Add(ctx context.Context, userID string, p memory.AddParams) (*model.Memory, error) {
	m, err := memory.NewMemory(userID, p, b.s.now())
	if err != nil {
		return nil, err
	}
	if err := b.upsert(ctx, b.s.db, m); err != nil {
		return nil, err
	}

	var n int
	if err := b.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, m.UserID).Scan(&n); err != nil {
		return nil, storageErr("count memories", err)
	}
	if n > b.s.opts.MaxMemories {
		list, err := b.UserMemories(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		pruned := memory.PlanPrune(list, b.s.now())
		if err := b.deleteIDs(ctx, pruned); err != nil {
			return nil, err
		}
		b.logger.Info("pruned memories",
			zap.String("user_id", m.UserID),
			zap.Int("count", n),
			zap.Int("removed", len(pruned)))
	}
	return m, nil
}

func (b *MemoryBank) Retrieve(ctx context.Context, id string) (*model.Memory, error) {
	res, err := b.s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		formatTime(b.s.now()), id)
	if err != nil {
		return nil, storageErr("record access", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return b.get(ctx, b.s.db, id)
}

func (b *MemoryBank) Search(ctx context.Context, userID string, p memory.SearchParams) ([]memory.SearchResult, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}
	if p.Type != "" {
		where = append(where, "memory_type = ?")
		args = append(args, string(p.Type))
	}
	if p.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, int(p.MinImportance))
	}

	list, err := b.query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE `+strings.Join(where, " AND ")+` ORDER BY timestamp, id`, args...)
	if err != nil {
		return nil, err
	}
	return memory.Rank(list, p, b.s.now()), nil
}

func (b *MemoryBank) UserMemories(ctx context.Context, userID string) ([]*model.Memory, error) {
	return b.query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id = ? ORDER BY timestamp, id`, userID)
}

func (b *MemoryBank) Delete(ctx context.Context, id string) error {
	res, err := b.s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (b *MemoryBank) Restore(ctx context.Context, m *model.Memory) error {
	return b.upsert(ctx, b.s.db, m)
}

func (b *MemoryBank) Consolidate(ctx context.Context, userID string) (*memory.ConsolidationReport, error) {
	now := b.s.now()
	list, err := b.UserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	weak, dups := memory.PlanConsolidation(list, now)
	if err := b.deleteIDs(ctx, append(append([]string(nil), weak...), dups...)); err != nil {
		return nil, err
	}

	report := &memory.ConsolidationReport{
		BeforeCount:       len(list),
		AfterCount:        len(list) - len(weak) - len(dups),
		RemovedWeak:       len(weak),
		RemovedDuplicates: len(dups),
		Timestamp:         now,
	}
	b.logger.Info("consolidated memories",
		zap.String("user_id", userID),
		zap.Int("before", report.BeforeCount),
		zap.Int("after", report.AfterCount))
	return report, nil
}

func (b *MemoryBank) Summary(ctx context.Context, userID string) (*memory.Summary, error) {
	list, err := b.UserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	return memory.Summarize(list, b.s.now()), nil
}

func (b *MemoryBank) Users(ctx context.Context) ([]string, error) {
	rows, err := b.s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, storageErr("scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// deleteIDs removes memories in one transaction.
func (b *MemoryBank) deleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return storageErr("delete memory", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (b *MemoryBank) upsert(ctx context.Context, db execer, m *model.Memory) error {
	var blobs [4]string
	for i, v := range []any{m.Context, m.Tags, m.Relationships, m.Metadata} {
		enc, err := encodeJSON(v)
		if err != nil {
			return storageErr("encode memory", err)
		}
		blobs[i] = enc
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			memory_type = excluded.memory_type,
			content = excluded.content,
			context = excluded.context,
			importance = excluded.importance,
			timestamp = excluded.timestamp,
			source = excluded.source,
			tags = excluded.tags,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			relationships = excluded.relationships,
			metadata = excluded.metadata`,
		m.ID, m.UserID, string(m.Type), m.Content, blobs[0], int(m.Importance),
		formatTime(m.Timestamp), m.Source, blobs[1], m.AccessCount,
		nullTime(m.LastAccessed), blobs[2], blobs[3])
	if err != nil {
		return storageErr("save memory", err)
	}
	return nil
}

func (b *MemoryBank) get(ctx context.Context, db execer, id string) (*model.Memory, error) {
	m, err := scanMemory(db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr("memory", id, err)
	}
	return m, nil
}

func (b *MemoryBank) query(ctx context.Context, q string, args ...interface{}) ([]*model.Memory, error) {
	rows, err := b.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query memories", err)
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, storageErr("scan memory", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query memories", err)
	}
	return out, nil
}

func scanMemory(row scanner) (*model.Memory, error) {
	var m model.Memory
	var memType, timestamp string
	var importance int
	var ctxJSON, tagsJSON, lastAccessed, relJSON, metaJSON sql.NullString

	err := row.Scan(
		&m.ID, &m.UserID, &memType, &m.Content, &ctxJSON, &importance, &timestamp,
		&m.Source, &tagsJSON, &m.AccessCount, &lastAccessed, &relJSON, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	m.Type = model.MemoryType(memType)
	m.Importance = model.Importance(importance)
	m.Timestamp = parseTime(timestamp)
	m.LastAccessed = parseNullTime(lastAccessed)
	for _, f := range []struct {
		src sql.NullString
		dst any
	}{
		{ctxJSON, &m.Context},
		{tagsJSON, &m.Tags},
		{relJSON, &m.Relationships},
		{metaJSON, &m.Metadata},
	} {
		if err := decodeJSON(f.src, f.dst); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
