package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// timeLayout is fixed width so that text comparison in SQL orders the same
// way as time comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore owns the database handle shared by the durable backends.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	opts   Options
	logger *zap.Logger
}

// Open opens or creates a SQLite database at dbPath and migrates the schema.
// A nil logger discards output.
func Open(dbPath string, opts Options, logger *zap.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("component", "sqlite_store")),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Debug("database opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		memory_type   TEXT NOT NULL DEFAULT 'semantic',
		content       TEXT NOT NULL,
		context       TEXT,
		importance    INTEGER NOT NULL DEFAULT 3,
		timestamp     TEXT NOT NULL,
		source        TEXT NOT NULL DEFAULT '',
		tags          TEXT,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		relationships TEXT,
		metadata      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		status             TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		started_at         TEXT,
		paused_at          TEXT,
		closed_at          TEXT,
		expires_at         TEXT,
		ttl_seconds        INTEGER NOT NULL,
		context            TEXT,
		metadata           TEXT,
		total_interactions INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS session_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		metadata   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS operations (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL,
		agent_name           TEXT NOT NULL,
		task_description     TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL,
		progress             REAL NOT NULL DEFAULT 0,
		state                TEXT,
		metadata             TEXT,
		created_at           TEXT NOT NULL,
		started_at           TEXT,
		paused_at            TEXT,
		completed_at         TEXT,
		estimated_completion TEXT,
		pause_reason         TEXT NOT NULL DEFAULT '',
		error_message        TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_operations_user ON operations(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status, completed_at);

	CREATE TABLE IF NOT EXISTS operation_checkpoints (
		id               TEXT PRIMARY KEY,
		operation_id     TEXT NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
		timestamp        TEXT NOT NULL,
		progress         REAL NOT NULL,
		state            TEXT,
		agent_name       TEXT NOT NULL,
		task_description TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_operation ON operation_checkpoints(operation_id, timestamp);

	CREATE TABLE IF NOT EXISTS operation_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		action       TEXT NOT NULL,
		details      TEXT,
		timestamp    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_operation ON operation_history(operation_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Memories returns the durable memory bank.
func (s *SQLiteStore) Memories() *MemoryBank {
	return &MemoryBank{s: s, logger: s.logger.With(zap.String("backend", "sqlite"), zap.String("component", "memory_bank"))}
}

// Sessions returns the durable session service.
func (s *SQLiteStore) Sessions() *SessionService {
	return &SessionService{s: s, logger: s.logger.With(zap.String("backend", "sqlite"), zap.String("component", "session_service"))}
}

// Operations returns the durable operation store.
func (s *SQLiteStore) Operations() *OperationStore {
	return &OperationStore{s: s}
}

func (s *SQLiteStore) now() time.Time {
	return s.opts.Now()
}

// storageErr tags driver and encoding failures with model.ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}

// notFoundOr maps sql.ErrNoRows to model.ErrNotFound.
func notFoundOr(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return storageErr("load "+what, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// encodeJSON stores structured fields as opaque text blobs.
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON keeps number precision; objects come back in the canonical
// shape model.CloneMap produces for the in-memory backends.
func decodeJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := model.DecodeJSON([]byte(s.String), dst); err != nil {
		return err
	}
	if m, ok := dst.(*map[string]any); ok {
		*m = model.CloneMap(*m)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Options configures the durable backends.
type Options struct {
	// MaxMemories is the per-user memory limit.
	MaxMemories int
	// DefaultTTL is the session ttl used when a caller passes a negative one.
	DefaultTTL int
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxMemories <= 0 {
		o.MaxMemories = memory.DefaultMaxMemories
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = model.DefaultSessionTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
