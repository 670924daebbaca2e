// Package memory implements the per-user memory bank: strength-ranked search,
// consolidation and pruning, with an ephemeral backend. Durable backends live
// in internal/store and share the scoring helpers in this package.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// DefaultMaxMemories bounds a user's bank when no limit is configured.
const DefaultMaxMemories = 1000

// AddParams holds parameters for storing a memory.
type AddParams struct {
	Type       model.MemoryType
	Content    string
	Importance model.Importance
	Source     string
	Tags       []string
	Context    map[string]any
	Metadata   map[string]any
}

// SearchParams holds the filters applied before scoring.
type SearchParams struct {
	Query         string
	Type          model.MemoryType // empty means any
	Tags          []string         // any-of
	MinImportance model.Importance // zero means LOW
}

// SearchResult pairs a memory with its relevance to the query.
type SearchResult struct {
	Memory    *model.Memory `json:"memory"`
	Relevance float64       `json:"relevance"`
	Strength  float64       `json:"strength"`
}

// ConsolidationReport describes one consolidation pass.
type ConsolidationReport struct {
	BeforeCount       int       `json:"before_count"`
	AfterCount        int       `json:"after_count"`
	RemovedWeak       int       `json:"removed_weak"`
	RemovedDuplicates int       `json:"removed_duplicates"`
	Timestamp         time.Time `json:"timestamp"`
}

// Summary counts a user's memories by type and importance.
type Summary struct {
	TotalMemories int            `json:"total_memories"`
	ByType        map[string]int `json:"by_type"`
	ByImportance  map[string]int `json:"by_importance"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Bank is the memory bank contract every backend satisfies identically.
type Bank interface {
	// Add stores a new memory with a fresh id and the current timestamp.
	// No deduplication happens at insert time.
	Add(ctx context.Context, userID string, p AddParams) (*model.Memory, error)

	// Retrieve returns a memory and records the access.
	Retrieve(ctx context.Context, id string) (*model.Memory, error)

	// Search ranks the user's memories against a query.
	Search(ctx context.Context, userID string, p SearchParams) ([]SearchResult, error)

	// UserMemories lists every memory owned by a user, oldest first.
	UserMemories(ctx context.Context, userID string) ([]*model.Memory, error)

	// Delete removes a memory.
	Delete(ctx context.Context, id string) error

	// Link records a symmetric relationship between two memories.
	Link(ctx context.Context, fromID, toID string) error

	// Restore inserts a memory verbatim, keeping its id and timestamps.
	Restore(ctx context.Context, m *model.Memory) error

	// Consolidate drops weak and duplicate memories of a user.
	Consolidate(ctx context.Context, userID string) (*ConsolidationReport, error)

	// Summary counts a user's memories.
	Summary(ctx context.Context, userID string) (*Summary, error)

	// Users lists every user that owns at least one memory, sorted.
	Users(ctx context.Context) ([]string, error)
}

// NewMemory validates params and builds the memory to insert.
func NewMemory(userID string, p AddParams, now time.Time) (*model.Memory, error) {
	if p.Type == "" {
		p.Type = model.MemorySemantic
	}
	if _, err := model.ParseMemoryType(string(p.Type)); err != nil {
		return nil, err
	}
	if p.Importance == 0 {
		p.Importance = model.ImportanceMedium
	}
	if !p.Importance.Valid() {
		return nil, fmt.Errorf("%w: importance %d", model.ErrInvalidEnum, int(p.Importance))
	}
	if userID == "" {
		userID = model.UnknownUser
	}
	m := &model.Memory{
		ID:         model.NewID(),
		UserID:     userID,
		Type:       p.Type,
		Content:    p.Content,
		Context:    model.CloneMap(p.Context),
		Importance: p.Importance,
		Timestamp:  now,
		Source:     p.Source,
		Metadata:   model.CloneMap(p.Metadata),
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if len(p.Tags) > 0 {
		m.Tags = append([]string(nil), p.Tags...)
	}
	return m, nil
}
