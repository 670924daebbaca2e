package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/window"
)

var errNoWindow = fmt.Errorf("context window: %w", model.ErrNotFound)

// ManageContextItemArgs are the arguments of manage_context_item.
// TTLSeconds <= 0 means the item never expires.
type ManageContextItemArgs struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	ContextType string `json:"context_type"`
	Importance  string `json:"importance"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// ManageContextItem adds or replaces an item in the session's window.
func (k *Toolkit) ManageContextItem(_ context.Context, inv Invocation, args ManageContextItemArgs) Result {
	return k.run("manage_context_item", func() (any, error) {
		if args.Key == "" {
			return nil, fmt.Errorf("key is required")
		}
		typ, err := window.ParseContextType(args.ContextType)
		if err != nil {
			return nil, err
		}
		imp, err := parseImportance(args.Importance, model.ImportanceMedium)
		if err != nil {
			return nil, err
		}
		it := k.State(inv).Window().Add(args.Key, args.Value, typ, imp, args.TTLSeconds)
		return map[string]any{
			"key":          it.Key,
			"context_type": string(it.Type),
			"importance":   it.Importance.String(),
		}, nil
	})
}

// ContextKeyArgs name one window item.
type ContextKeyArgs struct {
	Key string `json:"key"`
}

// GetContextItem returns a live item and records the access.
func (k *Toolkit) GetContextItem(_ context.Context, inv Invocation, args ContextKeyArgs) Result {
	return k.run("get_context_item", func() (any, error) {
		w, ok := k.State(inv).AttachedWindow()
		if !ok {
			return nil, errNoWindow
		}
		it, ok := w.Get(args.Key)
		if !ok {
			return nil, fmt.Errorf("context item %s: %w", args.Key, model.ErrNotFound)
		}
		return it, nil
	})
}

// RemoveContextItem deletes an item from the window.
func (k *Toolkit) RemoveContextItem(_ context.Context, inv Invocation, args ContextKeyArgs) Result {
	return k.run("remove_context_item", func() (any, error) {
		w, ok := k.State(inv).AttachedWindow()
		if !ok || !w.Remove(args.Key) {
			return nil, fmt.Errorf("context item %s: %w", args.Key, model.ErrNotFound)
		}
		return map[string]any{"key": args.Key, "removed": true}, nil
	})
}

// CompactContextArgs are the arguments of compact_context. A zero
// TargetReduction selects window.DefaultTargetReduction.
type CompactContextArgs struct {
	TargetReduction float64 `json:"target_reduction"`
}

// CompactContext drops expired items and then the least relevant ones.
func (k *Toolkit) CompactContext(_ context.Context, inv Invocation, args CompactContextArgs) Result {
	return k.run("compact_context", func() (any, error) {
		r := args.TargetReduction
		if r == 0 {
			r = window.DefaultTargetReduction
		}
		if r < 0 || r >= 1 {
			return nil, fmt.Errorf("target_reduction must be in [0,1), got %v", r)
		}
		return k.State(inv).Window().Optimize(r), nil
	})
}

// ContextSummary counts the window's items by type and importance.
func (k *Toolkit) ContextSummary(_ context.Context, inv Invocation, _ NoArgs) Result {
	return k.run("get_context_summary", func() (any, error) {
		w, ok := k.State(inv).AttachedWindow()
		if !ok {
			return nil, errNoWindow
		}
		return w.Summary(), nil
	})
}

// ContextData returns every live item with its age and access count.
func (k *Toolkit) ContextData(_ context.Context, inv Invocation, _ NoArgs) Result {
	return k.run("get_context_data", func() (any, error) {
		w, ok := k.State(inv).AttachedWindow()
		if !ok {
			return nil, errNoWindow
		}
		return w.Data(), nil
	})
}

// PurgeContextArgs are the arguments of purge_context. Both filters must
// match for an item to go; with neither set nothing is purged.
type PurgeContextArgs struct {
	ContextType    string `json:"context_type"`
	OlderThanHours int    `json:"older_than_hours"`
}

// PurgeContext removes the window items matching the filters.
func (k *Toolkit) PurgeContext(_ context.Context, inv Invocation, args PurgeContextArgs) Result {
	return k.run("purge_context", func() (any, error) {
		var p window.PurgeParams
		if args.ContextType != "" {
			t, err := window.ParseContextType(args.ContextType)
			if err != nil {
				return nil, err
			}
			p.Type = t
		}
		if args.OlderThanHours > 0 {
			p.OlderThan = time.Duration(args.OlderThanHours) * time.Hour
		}
		w, ok := k.State(inv).AttachedWindow()
		if !ok {
			return nil, errNoWindow
		}
		return w.Purge(p), nil
	})
}

// RecallMemoriesArgs are the arguments of recall_memories.
type RecallMemoriesArgs struct {
	SearchMemoriesArgs
	ContextType string `json:"context_type"`
}

// RecallMemories pulls the invoking user's best matching memories into the
// session's window until its budget is spent.
func (k *Toolkit) RecallMemories(ctx context.Context, inv Invocation, args RecallMemoriesArgs) Result {
	inv = inv.normalized()
	return k.run("recall_memories", func() (any, error) {
		sp, err := searchParams(args.SearchMemoriesArgs)
		if err != nil {
			return nil, err
		}
		p := window.RecallParams{UserID: inv.UserID, Query: args.Query, Search: sp}
		if args.ContextType != "" {
			if p.Type, err = window.ParseContextType(args.ContextType); err != nil {
				return nil, err
			}
		}
		st := k.State(inv)
		return st.Window().Recall(ctx, st.Bank(), p)
	})
}
