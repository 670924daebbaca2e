package window

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// keepTolerance absorbs float error in n*(1-r) so 10*(1-0.3) keeps 7.
const keepTolerance = 1e-9

// KeepCount is how many of n items survive a compaction at ratio r:
// max(1, floor(n*(1-r))), or 0 for an empty window.
func KeepCount(n int, r float64) int {
	if n == 0 {
		return 0
	}
	k := int(math.Floor(float64(n)*(1-r) + keepTolerance))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// CompressionRecord is one entry of a compactor's history.
type CompressionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Ratio     float64   `json:"ratio"`
}

// Compactor drops the least relevant items and remembers each pass.
type Compactor struct {
	maxTokens int
	history   []CompressionRecord
}

// NewCompactor returns a compactor for a window of maxTokens.
func NewCompactor(maxTokens int) *Compactor {
	return &Compactor{maxTokens: maxTokens}
}

// Compact keeps the most relevant non-expired items. Ties break on key so
// the result does not depend on map order.
func (c *Compactor) Compact(items map[string]*Item, targetReduction float64, now time.Time) map[string]*Item {
	type scored struct {
		item  *Item
		score float64
	}
	candidates := make([]scored, 0, len(items))
	for _, it := range items {
		if it.IsExpired(now) {
			continue
		}
		candidates = append(candidates, scored{item: it, score: it.Relevance(now)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item.Key < candidates[j].item.Key
	})

	keep := KeepCount(len(candidates), targetReduction)
	out := make(map[string]*Item, keep)
	for _, s := range candidates[:keep] {
		out[s.item.Key] = s.item
	}

	ratio := 1.0
	if len(candidates) > 0 {
		ratio = float64(len(out)) / float64(len(candidates))
	}
	c.history = append(c.history, CompressionRecord{Timestamp: now, Ratio: ratio})
	return out
}

// History returns every compression pass so far.
func (c *Compactor) History() []CompressionRecord {
	return append([]CompressionRecord(nil), c.history...)
}

// MaxTokens is the budget the compactor was built for.
func (c *Compactor) MaxTokens() int { return c.maxTokens }

const (
	summaryKeys    = 5
	summaryPreview = 50
	summaryScalar  = 100
)

// Summarize renders each item as a short line. The output is for display
// and is never parsed back.
func Summarize(items map[string]*Item) map[string]string {
	out := make(map[string]string, len(items))
	for k, it := range items {
		out[k] = summarizeItem(it)
	}
	return out
}

func summarizeItem(it *Item) string {
	switch v := it.Value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > summaryKeys {
			keys = keys[:summaryKeys]
		}
		return fmt.Sprintf("%s: %d items, keys: %s", it.Type, len(v), strings.Join(keys, ", "))
	case []any:
		first := "empty"
		if len(v) > 0 {
			first = truncate(fmt.Sprint(v[0]), summaryPreview)
		}
		return fmt.Sprintf("%s: %d items, first: %s...", it.Type, len(v), first)
	case []string:
		first := "empty"
		if len(v) > 0 {
			first = truncate(v[0], summaryPreview)
		}
		return fmt.Sprintf("%s: %d items, first: %s...", it.Type, len(v), first)
	default:
		return fmt.Sprintf("%s: %s", it.Type, truncate(fmt.Sprint(v), summaryScalar))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// Snapshot is a point-in-time copy of a window.
type Snapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	Items          map[string]*Item `json:"items"`
	TotalSizeBytes int              `json:"total_size_bytes"`
	HashID         string           `json:"hash_id"`
}

func newSnapshot(items map[string]*Item, now time.Time) *Snapshot {
	copied := make(map[string]*Item, len(items))
	for k, it := range items {
		copied[k] = it.Clone()
	}
	return &Snapshot{
		Timestamp:      now,
		Items:          copied,
		TotalSizeBytes: SizeBytes(copied),
		HashID:         ContentHash(copied),
	}
}

// SizeBytes approximates the encoded size of the item values.
func SizeBytes(items map[string]*Item) int {
	total := 0
	for _, it := range items {
		total += valueSize(it.Value)
	}
	return total
}

func valueSize(v any) int {
	if b, err := json.Marshal(v); err == nil {
		return len(b)
	}
	return len(fmt.Sprint(v))
}

// ContentHash is the first 16 hex chars of sha256 over {key: value-as-text}.
// Identical contents hash identically regardless of insertion order.
func ContentHash(items map[string]*Item) string {
	flat := make(map[string]string, len(items))
	for k, it := range items {
		flat[k] = fmt.Sprint(it.Value)
	}
	// encoding/json sorts map keys.
	b, _ := json.Marshal(flat)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
