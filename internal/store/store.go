// Package store provides the durable SQLite backends: the memory bank, the
// session service with its message log, and the operation store with
// checkpoints and audit history. All three share one database handle.
//
// Each call is a self-contained read-modify-write against the database. No
// in-process locking is added, so two processes mutating the same id race
// and the last write wins.
package store

import (
	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/session"
)

var (
	_ memory.Bank     = (*MemoryBank)(nil)
	_ session.Service = (*SessionService)(nil)
	_ operation.Store = (*OperationStore)(nil)
)
