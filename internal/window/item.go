// Package window implements the per-turn context window: a keyed set of
// context items scored by importance, recency and access, compacted under a
// target reduction ratio.
package window

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// ContextType classifies a context item.
type ContextType string

const (
	UserProfile           ContextType = "user_profile"
	ConversationHistory   ContextType = "conversation_history"
	SustainabilityGoals   ContextType = "sustainability_goals"
	SustainabilityActions ContextType = "sustainability_actions"
	CarbonFootprint       ContextType = "carbon_footprint"
	Recommendations       ContextType = "recommendations"
	OperationState        ContextType = "operation_state"
	Preferences           ContextType = "preferences"
	Constraints           ContextType = "constraints"
	Metadata              ContextType = "metadata"
)

// ContextTypes lists every valid context type.
var ContextTypes = []ContextType{
	UserProfile, ConversationHistory, SustainabilityGoals, SustainabilityActions,
	CarbonFootprint, Recommendations, OperationState, Preferences, Constraints, Metadata,
}

// ParseContextType accepts the enum name ("USER_PROFILE") or value in any case.
func ParseContextType(s string) (ContextType, error) {
	v := ContextType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range ContextTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: context_type %q", model.ErrInvalidEnum, s)
}

// Relevance weights.
const (
	importanceWeight = 20.0
	recencyPeak      = 100.0
	recencyHalfLife  = 24.0 // hours
	accessWeight     = 5.0
	accessCap        = 30.0
)

// Item is one entry of a context window.
type Item struct {
	Key          string           `json:"key"`
	Value        any              `json:"value"`
	Type         ContextType      `json:"context_type"`
	Importance   model.Importance `json:"importance"`
	Timestamp    time.Time        `json:"timestamp"`
	AccessCount  int              `json:"access_count"`
	LastAccessed *time.Time       `json:"last_accessed,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	TTLSeconds   int              `json:"ttl_seconds,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// IsExpired reports whether the item's TTL has elapsed. Items without a TTL
// never expire.
func (i *Item) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Age returns how long ago the item was added.
func (i *Item) Age(now time.Time) time.Duration {
	return now.Sub(i.Timestamp)
}

// Relevance is importance*20 + 100/(1+age_hours/24) + min(access*5, 30).
func (i *Item) Relevance(now time.Time) float64 {
	ageHours := math.Max(0, i.Age(now).Hours())
	recency := recencyPeak / (1 + ageHours/recencyHalfLife)
	access := math.Min(float64(i.AccessCount)*accessWeight, accessCap)
	return float64(i.Importance)*importanceWeight + recency + access
}

func (i *Item) touch(now time.Time) {
	i.AccessCount++
	t := now
	i.LastAccessed = &t
}

// Clone copies the item. Map and slice values are deep-copied.
func (i *Item) Clone() *Item {
	c := *i
	c.Value = cloneAny(i.Value)
	c.Metadata = model.CloneMap(i.Metadata)
	if i.LastAccessed != nil {
		t := *i.LastAccessed
		c.LastAccessed = &t
	}
	if i.ExpiresAt != nil {
		t := *i.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// cloneAny deep-copies maps and slices. Other values, recalled memory
// entries included, are kept as they are.
func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return model.CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
