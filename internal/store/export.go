package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// ExportVersion is bumped when the export layout changes.
const ExportVersion = 1

// Export is a portable snapshot of one user's memory bank.
type Export struct {
	Version    int             `json:"version"`
	UserID     string          `json:"user_id"`
	ExportedAt time.Time       `json:"exported_at"`
	Memories   []*model.Memory `json:"memories"`
}

// ExportUser snapshots every memory a user owns, oldest first. It works
// against any bank backend.
func ExportUser(ctx context.Context, bank memory.Bank, userID string, now time.Time) (*Export, error) {
	list, err := bank.UserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.Memory{}
	}
	return &Export{Version: ExportVersion, UserID: userID, ExportedAt: now, Memories: list}, nil
}

// Import restores memories from an export, keeping ids, timestamps and
// access counts. Memories already present are overwritten.
func Import(ctx context.Context, bank memory.Bank, exp *Export) (int, error) {
	if exp.Version != ExportVersion {
		return 0, fmt.Errorf("unsupported export version %d", exp.Version)
	}
	imported := 0
	for _, m := range exp.Memories {
		if _, err := model.ParseMemoryType(string(m.Type)); err != nil {
			return imported, err
		}
		if !m.Importance.Valid() {
			return imported, fmt.Errorf("%w: importance %d", model.ErrInvalidEnum, int(m.Importance))
		}
		if m.UserID == "" {
			m.UserID = exp.UserID
		}
		if err := bank.Restore(ctx, m); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
