package store

import (
	"context"

	"github.com/rcliao/ecoagent-memory/internal/memory"
)

// Link records a symmetric relationship between two memories. Both rows are
// rewritten in one transaction; linking twice is a no-op.
func (b *MemoryBank) Link(ctx context.Context, fromID, toID string) error {
	tx, err := b.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	from, err := b.get(ctx, tx, fromID)
	if err != nil {
		return err
	}
	to, err := b.get(ctx, tx, toID)
	if err != nil {
		return err
	}
	memory.Relate(from, to)

	if err := b.upsert(ctx, tx, from); err != nil {
		return err
	}
	if err := b.upsert(ctx, tx, to); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}
