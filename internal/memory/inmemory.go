package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Config configures a memory bank.
type Config struct {
	// MaxMemories is the per-user limit; adding past it prunes the weakest
	// tenth of that user's memories.
	MaxMemories int
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxMemories <= 0 {
		c.MaxMemories = DefaultMaxMemories
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// InMemoryBank is the ephemeral Bank. A single mutex guards every
// read-modify-write; callers only ever see clones.
type InMemoryBank struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	memories map[string]*model.Memory
	byUser   map[string][]string
}

// NewInMemoryBank creates an empty bank. A nil logger discards output.
func NewInMemoryBank(cfg Config, logger *zap.Logger) *InMemoryBank {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryBank{
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "memory_bank"), zap.String("backend", "memory")),
		memories: make(map[string]*model.Memory),
		byUser:   make(map[string][]string),
	}
}

func (b *InMemoryBank) Add(_ context.Context, userID string, p AddParams) (*model.Memory, error) {
	m, err := NewMemory(userID, p, b.cfg.Now())
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.insertLocked(m)
	if n := len(b.byUser[m.UserID]); n > b.cfg.MaxMemories {
		pruned := PlanPrune(b.userMemoriesLocked(m.UserID), b.cfg.Now())
		for _, id := range pruned {
			b.deleteLocked(id)
		}
		b.logger.Info("pruned memories",
			zap.String("user_id", m.UserID),
			zap.Int("count", n),
			zap.Int("removed", len(pruned)))
	}

	// m may itself have been pruned; the caller still gets what was stored.
	return m.Clone(), nil
}

func (b *InMemoryBank) Retrieve(_ context.Context, id string) (*model.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	m.UpdateAccess(b.cfg.Now())
	return m.Clone(), nil
}

func (b *InMemoryBank) Search(_ context.Context, userID string, p SearchParams) ([]SearchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := Rank(b.userMemoriesLocked(userID), p, b.cfg.Now())
	for i := range results {
		results[i].Memory = results[i].Memory.Clone()
	}
	return results, nil
}

func (b *InMemoryBank) UserMemories(_ context.Context, userID string) ([]*model.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.userMemoriesLocked(userID)
	out := make([]*model.Memory, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out, nil
}

func (b *InMemoryBank) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.memories[id]; !ok {
		return fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	b.deleteLocked(id)
	return nil
}

func (b *InMemoryBank) Link(_ context.Context, fromID, toID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, ok := b.memories[fromID]
	if !ok {
		return fmt.Errorf("memory %s: %w", fromID, model.ErrNotFound)
	}
	to, ok := b.memories[toID]
	if !ok {
		return fmt.Errorf("memory %s: %w", toID, model.ErrNotFound)
	}
	Relate(from, to)
	return nil
}

func (b *InMemoryBank) Restore(_ context.Context, m *model.Memory) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.memories[m.ID]; ok && old.UserID != m.UserID {
		b.deleteLocked(m.ID)
	}
	if _, ok := b.memories[m.ID]; ok {
		b.memories[m.ID] = m.Clone()
		return nil
	}
	b.insertLocked(m.Clone())
	return nil
}

func (b *InMemoryBank) Consolidate(_ context.Context, userID string) (*ConsolidationReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	list := b.userMemoriesLocked(userID)
	weak, dups := PlanConsolidation(list, now)
	for _, id := range weak {
		b.deleteLocked(id)
	}
	for _, id := range dups {
		b.deleteLocked(id)
	}

	report := &ConsolidationReport{
		BeforeCount:       len(list),
		AfterCount:        len(b.byUser[userID]),
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

func (b *InMemoryBank) Summary(_ context.Context, userID string) (*Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Summarize(b.userMemoriesLocked(userID), b.cfg.Now()), nil
}

func (b *InMemoryBank) Users(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	users := make([]string, 0, len(b.byUser))
	for u := range b.byUser {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (b *InMemoryBank) insertLocked(m *model.Memory) {
	b.memories[m.ID] = m
	b.byUser[m.UserID] = append(b.byUser[m.UserID], m.ID)
}

func (b *InMemoryBank) deleteLocked(id string) {
	m, ok := b.memories[id]
	if !ok {
		return
	}
	delete(b.memories, id)
	ids := b.byUser[m.UserID]
	for i, v := range ids {
		if v == id {
			b.byUser[m.UserID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(b.byUser[m.UserID]) == 0 {
		delete(b.byUser, m.UserID)
	}
}

// userMemoriesLocked returns the live pointers, oldest first.
func (b *InMemoryBank) userMemoriesLocked(userID string) []*model.Memory {
	ids := b.byUser[userID]
	out := make([]*model.Memory, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.memories[id])
	}
	sortOldestFirst(out)
	return out
}
