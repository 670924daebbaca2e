package window

import (
	"context"
	"math"

	"github.com/rcliao/ecoagent-memory/internal/memory"
)

// bytesPerToken is the rough token proxy: 1 token ≈ 4 bytes.
const bytesPerToken = 4

// minExcerpt is the smallest remaining budget, in bytes, worth an excerpt.
const minExcerpt = 100

// RecallParams holds parameters for pulling memories into a window.
type RecallParams struct {
	UserID string
	Query  string
	Search memory.SearchParams
	// Type is the context type recalled items are stored under; empty means
	// Metadata.
	Type ContextType
}

// RecalledMemory is one memory placed into the window.
type RecalledMemory struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
	Excerpt   bool    `json:"excerpt,omitempty"`
}

// RecallResult reports what recall placed and how much budget it used.
type RecallResult struct {
	Budget   int              `json:"budget"`
	Used     int              `json:"used"`
	Memories []RecalledMemory `json:"memories"`
}

// RecallKey is the window key a recalled memory is stored under.
func RecallKey(id string) string { return "memory:" + id }

// Recall searches bank and adds the best memories to the window until the
// window's token budget is spent. The last memory that does not fit is
// excerpted when enough budget remains.
func (w *Window) Recall(ctx context.Context, bank memory.Bank, p RecallParams) (*RecallResult, error) {
	sp := p.Search
	sp.Query = p.Query
	results, err := bank.Search(ctx, p.UserID, sp)
	if err != nil {
		return nil, err
	}
	typ := p.Type
	if typ == "" {
		typ = Metadata
	}

	charBudget := w.maxSize * bytesPerToken
	used := w.UsedTokens() * bytesPerToken
	res := &RecallResult{Budget: w.maxSize, Memories: []RecalledMemory{}}

	for _, r := range results {
		key := RecallKey(r.Memory.ID)
		if _, ok := w.peek(key); ok {
			continue
		}
		content := r.Memory.Content
		excerpt := false
		if need := valueSize(content); used+need > charBudget {
			remaining := charBudget - used
			if remaining < minExcerpt {
				break
			}
			// Two bytes go to the JSON quotes valueSize counts.
			content = truncateBytes(content, remaining-len("...")-2) + "..."
			excerpt = true
		}

		w.Add(key, content, typ, r.Memory.Importance, 0)
		used += valueSize(content)
		res.Memories = append(res.Memories, RecalledMemory{
			ID:        r.Memory.ID,
			Key:       key,
			Content:   content,
			Relevance: math.Round(r.Relevance*1000) / 1000,
			Excerpt:   excerpt,
		})
		if excerpt {
			break
		}
	}
	res.Used = used / bytesPerToken
	return res, nil
}

func (w *Window) peek(key string) (*Item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[key]
	if !ok || it.IsExpired(w.now()) {
		return nil, false
	}
	return it, true
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
