package tools

import (
	"context"
	"fmt"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// AddMemoryArgs are the arguments of add_memory. Enum fields are names;
// empty type means SEMANTIC and empty importance means MEDIUM.
type AddMemoryArgs struct {
	Content    string         `json:"content"`
	MemoryType string         `json:"memory_type"`
	Importance string         `json:"importance"`
	Source     string         `json:"source"`
	Tags       []string       `json:"tags"`
	Context    map[string]any `json:"context"`
	Metadata   map[string]any `json:"metadata"`
}

// AddMemory stores a memory for the invoking user.
func (k *Toolkit) AddMemory(ctx context.Context, inv Invocation, args AddMemoryArgs) Result {
	inv = inv.normalized()
	return k.run("add_memory", func() (any, error) {
		p := memory.AddParams{
			Content:  args.Content,
			Source:   args.Source,
			Tags:     args.Tags,
			Context:  args.Context,
			Metadata: args.Metadata,
		}
		var err error
		if p.Type, err = parseMemoryType(args.MemoryType); err != nil {
			return nil, err
		}
		if p.Importance, err = parseImportance(args.Importance, model.ImportanceMedium); err != nil {
			return nil, err
		}
		return k.State(inv).Bank().Add(ctx, inv.UserID, p)
	})
}

// SearchMemoriesArgs are the arguments of search_memories.
type SearchMemoriesArgs struct {
	Query         string   `json:"query"`
	MemoryType    string   `json:"memory_type"`
	Tags          []string `json:"tags"`
	MinImportance string   `json:"min_importance"`
}

// SearchMemories ranks the invoking user's memories against a query.
func (k *Toolkit) SearchMemories(ctx context.Context, inv Invocation, args SearchMemoriesArgs) Result {
	inv = inv.normalized()
	return k.run("search_memories", func() (any, error) {
		p, err := searchParams(args)
		if err != nil {
			return nil, err
		}
		results, err := k.State(inv).Bank().Search(ctx, inv.UserID, p)
		if err != nil {
			return nil, err
		}
		if results == nil {
			results = []memory.SearchResult{}
		}
		return results, nil
	})
}

func searchParams(args SearchMemoriesArgs) (memory.SearchParams, error) {
	p := memory.SearchParams{Query: args.Query, Tags: args.Tags}
	if args.MemoryType != "" {
		t, err := model.ParseMemoryType(args.MemoryType)
		if err != nil {
			return p, err
		}
		p.Type = t
	}
	imp, err := parseImportance(args.MinImportance, model.ImportanceLow)
	if err != nil {
		return p, err
	}
	p.MinImportance = imp
	return p, nil
}

// MemoryIDArgs name one memory.
type MemoryIDArgs struct {
	MemoryID string `json:"memory_id"`
}

// RetrieveMemory returns a memory and records the access.
func (k *Toolkit) RetrieveMemory(ctx context.Context, inv Invocation, args MemoryIDArgs) Result {
	return k.run("retrieve_memory", func() (any, error) {
		return k.State(inv).Bank().Retrieve(ctx, args.MemoryID)
	})
}

// DeleteMemory removes a memory.
func (k *Toolkit) DeleteMemory(ctx context.Context, inv Invocation, args MemoryIDArgs) Result {
	return k.run("delete_memory", func() (any, error) {
		if err := k.State(inv).Bank().Delete(ctx, args.MemoryID); err != nil {
			return nil, err
		}
		return map[string]any{"memory_id": args.MemoryID, "deleted": true}, nil
	})
}

// UserMemoriesArgs filter get_user_memories. RecentDays <= 0 keeps every age.
type UserMemoriesArgs struct {
	MemoryType string `json:"memory_type"`
	RecentDays int    `json:"recent_days"`
}

// UserMemories lists the invoking user's memories, oldest first.
func (k *Toolkit) UserMemories(ctx context.Context, inv Invocation, args UserMemoriesArgs) Result {
	inv = inv.normalized()
	return k.run("get_user_memories", func() (any, error) {
		list, err := k.State(inv).Bank().UserMemories(ctx, inv.UserID)
		if err != nil {
			return nil, err
		}
		if args.MemoryType != "" {
			t, err := model.ParseMemoryType(args.MemoryType)
			if err != nil {
				return nil, err
			}
			list = memory.FilterByType(list, t)
		}
		if args.RecentDays > 0 {
			list = memory.Recent(list, args.RecentDays, k.deps.Now())
		}
		if list == nil {
			list = []*model.Memory{}
		}
		return list, nil
	})
}

// LinkMemoriesArgs are the arguments of link_memories.
type LinkMemoriesArgs struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

// LinkMemories relates two memories in both directions.
func (k *Toolkit) LinkMemories(ctx context.Context, inv Invocation, args LinkMemoriesArgs) Result {
	return k.run("link_memories", func() (any, error) {
		if args.FromID == args.ToID {
			return nil, fmt.Errorf("cannot link memory %s to itself", args.FromID)
		}
		if err := k.State(inv).Bank().Link(ctx, args.FromID, args.ToID); err != nil {
			return nil, err
		}
		return map[string]any{"from_id": args.FromID, "to_id": args.ToID}, nil
	})
}

// NoArgs is taken by tools without arguments.
type NoArgs struct{}

// ConsolidateMemories drops the invoking user's weak and duplicate memories.
func (k *Toolkit) ConsolidateMemories(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("consolidate_memories", func() (any, error) {
		return k.State(inv).Bank().Consolidate(ctx, inv.UserID)
	})
}

// MemorySummary counts the invoking user's memories by type and importance.
func (k *Toolkit) MemorySummary(ctx context.Context, inv Invocation, _ NoArgs) Result {
	inv = inv.normalized()
	return k.run("get_memory_summary", func() (any, error) {
		return k.State(inv).Bank().Summary(ctx, inv.UserID)
	})
}

func parseMemoryType(s string) (model.MemoryType, error) {
	if s == "" {
		return model.MemorySemantic, nil
	}
	return model.ParseMemoryType(s)
}

func parseImportance(s string, def model.Importance) (model.Importance, error) {
	if s == "" {
		return def, nil
	}
	return model.ParseImportance(s)
}
