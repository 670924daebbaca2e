package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

const (
	overlapWeight = 0.7
	tagWeight     = 0.3

	weakStrength    = 0.2
	weakAgeDays     = 30.0
	duplicatePrefix = 50
	pruneFraction   = 10
)

// WordOverlap is |query words ∩ content words| / |query words|, case-insensitive.
func WordOverlap(query, content string) float64 {
	qWords := wordSet(query)
	if len(qWords) == 0 {
		return 0
	}
	cWords := wordSet(content)
	shared := 0
	for w := range qWords {
		if _, ok := cWords[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(qWords))
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// TagMatch reports whether the query is a substring of any tag.
func TagMatch(query string, tags []string) bool {
	q := strings.ToLower(query)
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Relevance scores a memory against a query, weighted by its strength.
func Relevance(m *model.Memory, query string, now time.Time) float64 {
	tag := 0.0
	if TagMatch(query, m.Tags) {
		tag = 1.0
	}
	base := overlapWeight*WordOverlap(query, m.Content) + tagWeight*tag
	return base * m.Strength(now)
}

// Rank filters by type, tags and importance, scores what is left and sorts by
// relevance then strength, descending. Zero-relevance memories are dropped.
func Rank(memories []*model.Memory, p SearchParams, now time.Time) []SearchResult {
	minImp := p.MinImportance
	if minImp == 0 {
		minImp = model.ImportanceLow
	}

	var results []SearchResult
	for _, m := range memories {
		if p.Type != "" && m.Type != p.Type {
			continue
		}
		if m.Importance < minImp {
			continue
		}
		if len(p.Tags) > 0 && !m.HasTag(p.Tags...) {
			continue
		}
		rel := Relevance(m, p.Query, now)
		if rel <= 0 {
			continue
		}
		results = append(results, SearchResult{Memory: m, Relevance: rel, Strength: m.Strength(now)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		if results[i].Strength != results[j].Strength {
			return results[i].Strength > results[j].Strength
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	return results
}

// PlanConsolidation returns the ids of weak memories (strength < 0.2 and
// older than 30 days) and of the weaker half of every duplicate pair among
// the survivors.
//
// Duplicates are keyed on a hash of the first 50 characters only, so two
// memories sharing a long prefix collide even if the rest differs.
func PlanConsolidation(memories []*model.Memory, now time.Time) (weak, duplicates []string) {
	var survivors []*model.Memory
	for _, m := range memories {
		if m.Strength(now) < weakStrength && m.AgeDays(now) > weakAgeDays {
			weak = append(weak, m.ID)
			continue
		}
		survivors = append(survivors, m)
	}

	sortOldestFirst(survivors)
	seen := make(map[string]*model.Memory, len(survivors))
	for _, m := range survivors {
		key := prefixHash(m.Content)
		other, ok := seen[key]
		if !ok {
			seen[key] = m
			continue
		}
		if m.Strength(now) < other.Strength(now) {
			duplicates = append(duplicates, m.ID)
			continue
		}
		duplicates = append(duplicates, other.ID)
		seen[key] = m
	}
	return weak, duplicates
}

func prefixHash(content string) string {
	r := []rune(content)
	if len(r) > duplicatePrefix {
		r = r[:duplicatePrefix]
	}
	sum := sha256.Sum256([]byte(string(r)))
	return hex.EncodeToString(sum[:])
}

// PlanPrune returns the ids of the weakest 10% (at least one) of memories.
func PlanPrune(memories []*model.Memory, now time.Time) []string {
	if len(memories) == 0 {
		return nil
	}
	sorted := append([]*model.Memory(nil), memories...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Strength(now) < sorted[j].Strength(now)
	})
	n := len(sorted) / pruneFraction
	if n < 1 {
		n = 1
	}
	ids := make([]string, 0, n)
	for _, m := range sorted[:n] {
		ids = append(ids, m.ID)
	}
	return ids
}

// Summarize counts memories by type and by importance name.
func Summarize(memories []*model.Memory, now time.Time) *Summary {
	s := &Summary{
		TotalMemories: len(memories),
		ByType:        map[string]int{},
		ByImportance:  map[string]int{},
		Timestamp:     now,
	}
	for _, m := range memories {
		s.ByType[string(m.Type)]++
		s.ByImportance[m.Importance.String()]++
	}
	return s
}

// FilterByType keeps memories of one type.
func FilterByType(memories []*model.Memory, t model.MemoryType) []*model.Memory {
	var out []*model.Memory
	for _, m := range memories {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Recent keeps memories created within the last days.
func Recent(memories []*model.Memory, days int, now time.Time) []*model.Memory {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	var out []*model.Memory
	for _, m := range memories {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

func sortOldestFirst(memories []*model.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if !memories[i].Timestamp.Equal(memories[j].Timestamp) {
			return memories[i].Timestamp.Before(memories[j].Timestamp)
		}
		return memories[i].ID < memories[j].ID
	})
}

// addRelationship appends id once.
func addRelationship(m *model.Memory, id string) {
	for _, r := range m.Relationships {
		if r == id {
			return
		}
	}
	m.Relationships = append(m.Relationships, id)
}

// Relate links a and b in both directions.
func Relate(a, b *model.Memory) {
	addRelationship(a, b.ID)
	addRelationship(b, a.ID)
}
