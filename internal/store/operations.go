package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
)

const operationColumns = `id, user_id, agent_name, task_description, status, progress, state, metadata,
	created_at, started_at, paused_at, completed_at, estimated_completion, pause_reason, error_message`

const checkpointColumns = `id, operation_id, timestamp, progress, state, agent_name, task_description`

// OperationStore implements operation.Store on SQLite. Checkpoints cascade
// with their operation; history rows are never deleted.
type OperationStore struct {
	s *SQLiteStore
}

func (o *OperationStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	return saveOperation(ctx, o.s.db, op)
}

func saveOperation(ctx context.Context, db execer, op *model.Operation) error {
	state, err := encodeJSON(op.State)
	if err != nil {
		return storageErr("encode operation", err)
	}
	meta, err := encodeJSON(op.Metadata)
	if err != nil {
		return storageErr("encode operation", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			state = excluded.state,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			paused_at = excluded.paused_at,
			completed_at = excluded.completed_at,
			estimated_completion = excluded.estimated_completion,
			pause_reason = excluded.pause_reason,
			error_message = excluded.error_message`,
		op.ID, op.UserID, op.AgentName, op.TaskDescription, string(op.Status), op.Progress, state, meta,
		formatTime(op.CreatedAt), nullTime(op.StartedAt), nullTime(op.PausedAt), nullTime(op.CompletedAt),
		nullTime(op.EstimatedCompletion), op.PauseReason, op.ErrorMessage)
	if err != nil {
		return storageErr("save operation", err)
	}
	return nil
}

func (o *OperationStore) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	op, err := scanOperation(o.s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr("operation", id, err)
	}
	return op, nil
}

func (o *OperationStore) ListOperations(ctx context.Context, f operation.Filter) ([]*model.Operation, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AgentName != "" {
		where = append(where, "agent_name = ?")
		args = append(args, f.AgentName)
	}

	rows, err := o.s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, storageErr("query operations", err)
	}
	defer rows.Close()

	var out []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, storageErr("scan operation", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query operations", err)
	}
	return out, nil
}

// SavePause writes the paused operation and its checkpoint in one
// transaction.
func (o *OperationStore) SavePause(ctx context.Context, op *model.Operation, cp *model.OperationCheckpoint) error {
	state, err := encodeJSON(cp.State)
	if err != nil {
		return storageErr("encode checkpoint", err)
	}

	tx, err := o.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := saveOperation(ctx, tx, op); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO operation_checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.OperationID, formatTime(cp.Timestamp), cp.Progress, state, cp.AgentName, cp.TaskDescription)
	if err != nil {
		return storageErr("save checkpoint", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit pause", err)
	}
	return nil
}

func (o *OperationStore) LatestCheckpoint(ctx context.Context, operationID string) (*model.OperationCheckpoint, error) {
	cp, err := scanCheckpoint(o.s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM operation_checkpoints
		 WHERE operation_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1`, operationID))
	if err != nil {
		return nil, notFoundOr("checkpoint for operation", operationID, err)
	}
	return cp, nil
}

func (o *OperationStore) Checkpoints(ctx context.Context, operationID string) ([]*model.OperationCheckpoint, error) {
	rows, err := o.s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM operation_checkpoints
		 WHERE operation_id = ? ORDER BY timestamp, rowid`, operationID)
	if err != nil {
		return nil, storageErr("query checkpoints", err)
	}
	defer rows.Close()

	var out []*model.OperationCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, storageErr("scan checkpoint", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (o *OperationStore) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	details, err := encodeJSON(e.Details)
	if err != nil {
		return storageErr("encode history", err)
	}
	_, err = o.s.db.ExecContext(ctx,
		`INSERT INTO operation_history (operation_id, action, details, timestamp) VALUES (?, ?, ?, ?)`,
		e.OperationID, e.Action, details, formatTime(e.Timestamp))
	if err != nil {
		return storageErr("append history", err)
	}
	return nil
}

func (o *OperationStore) History(ctx context.Context, operationID string) ([]model.HistoryEntry, error) {
	rows, err := o.s.db.QueryContext(ctx,
		`SELECT operation_id, action, details, timestamp FROM operation_history
		 WHERE operation_id = ? ORDER BY id`, operationID)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var details sql.NullString
		var ts string
		if err := rows.Scan(&e.OperationID, &e.Action, &details, &ts); err != nil {
			return nil, storageErr("scan history", err)
		}
		if err := decodeJSON(details, &e.Details); err != nil {
			return nil, storageErr("decode history", err)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (o *OperationStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := o.s.db.ExecContext(ctx, `
		DELETE FROM operations
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(model.OperationCompleted), string(model.OperationFailed), formatTime(cutoff))
	if err != nil {
		return 0, storageErr("delete operations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanOperation(row scanner) (*model.Operation, error) {
	var op model.Operation
	var status, createdAt string
	var state, meta, startedAt, pausedAt, completedAt, eta sql.NullString

	err := row.Scan(
		&op.ID, &op.UserID, &op.AgentName, &op.TaskDescription, &status, &op.Progress, &state, &meta,
		&createdAt, &startedAt, &pausedAt, &completedAt, &eta, &op.PauseReason, &op.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	op.Status = model.OperationStatus(status)
	op.CreatedAt = parseTime(createdAt)
	op.StartedAt = parseNullTime(startedAt)
	op.PausedAt = parseNullTime(pausedAt)
	op.CompletedAt = parseNullTime(completedAt)
	op.EstimatedCompletion = parseNullTime(eta)
	if err := decodeJSON(state, &op.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := decodeJSON(meta, &op.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &op, nil
}

func scanCheckpoint(row scanner) (*model.OperationCheckpoint, error) {
	var cp model.OperationCheckpoint
	var ts string
	var state sql.NullString

	if err := row.Scan(&cp.ID, &cp.OperationID, &ts, &cp.Progress, &state, &cp.AgentName, &cp.TaskDescription); err != nil {
		return nil, err
	}
	cp.Timestamp = parseTime(ts)
	if err := decodeJSON(state, &cp.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &cp, nil
}
