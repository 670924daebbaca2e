package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

func TestWordOverlap(t *testing.T) {
	assert.Equal(t, 0.0, WordOverlap("", "anything"))
	assert.Equal(t, 1.0, WordOverlap("Likes DINOSAURS", "he likes dinosaurs"))
	assert.Equal(t, 0.5, WordOverlap("likes cats", "likes dogs"))
	assert.Equal(t, 1.0, WordOverlap("a a a", "a"), "query words are a set")
}

func TestPlanPruneMinimumOne(t *testing.T) {
	now := time.Now()
	assert.Nil(t, PlanPrune(nil, now))

	var list []*model.Memory
	for i := 0; i < 25; i++ {
		list = append(list, &model.Memory{ID: model.NewID(), Importance: model.ImportanceMedium, Timestamp: now})
	}
	assert.Len(t, PlanPrune(list[:5], now), 1)
	assert.Len(t, PlanPrune(list, now), 2)
}

func TestRelevanceBoundedByStrength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		m := &model.Memory{
			Content:     rapid.StringMatching(`[a-c ]{0,20}`).Draw(t, "content"),
			Tags:        rapid.SliceOfN(rapid.StringMatching(`[a-c]{1,4}`), 0, 3).Draw(t, "tags"),
			Importance:  model.Importance(rapid.IntRange(1, 5).Draw(t, "importance")),
			AccessCount: rapid.IntRange(0, 50).Draw(t, "access"),
			Timestamp:   now.Add(-time.Duration(rapid.IntRange(0, 5000).Draw(t, "hours")) * time.Hour),
		}
		query := rapid.StringMatching(`[a-c ]{0,10}`).Draw(t, "query")

		rel := Relevance(m, query, now)
		if rel < 0 || rel > m.Strength(now)+1e-12 {
			t.Fatalf("relevance %v outside [0, strength %v]", rel, m.Strength(now))
		}
	})
}
