package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestBank(c *clock, max int) *InMemoryBank {
	return NewInMemoryBank(Config{MaxMemories: max, Now: c.Now}, nil)
}

func TestAddDefaults(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	m, err := b.Add(ctx, "", AddParams{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, model.UnknownUser, m.UserID)
	assert.Equal(t, model.MemorySemantic, m.Type)
	assert.Equal(t, model.ImportanceMedium, m.Importance)
	assert.Equal(t, c.Now(), m.Timestamp)
	assert.NotEmpty(t, m.ID)

	_, err = b.Add(ctx, "u", AddParams{Type: "dream"})
	assert.ErrorIs(t, err, model.ErrInvalidEnum)
	_, err = b.Add(ctx, "u", AddParams{Importance: 9})
	assert.ErrorIs(t, err, model.ErrInvalidEnum)
}

func TestAddDoesNotDeduplicate(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Add(ctx, "u", AddParams{Content: "same"})
		require.NoError(t, err)
	}
	list, err := b.UserMemories(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRetrieveRecordsAccess(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	m, err := b.Add(ctx, "u", AddParams{Content: "x"})
	require.NoError(t, err)

	c.Advance(time.Minute)
	got, err := b.Retrieve(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessed)
	assert.Equal(t, c.Now(), *got.LastAccessed)

	got, err = b.Retrieve(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)

	_, err = b.Retrieve(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReturnedMemoriesAreCopies(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	m, err := b.Add(ctx, "u", AddParams{Content: "x", Tags: []string{"a"}})
	require.NoError(t, err)
	m.Tags[0] = "mutated"
	m.Content = "mutated"

	got, err := b.Retrieve(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Content)
	assert.Equal(t, []string{"a"}, got.Tags)
}

func TestSearchRanksByOverlapAndStrength(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	full, _ := b.Add(ctx, "u", AddParams{Content: "likes dinosaurs and space", Importance: model.ImportanceHigh})
	half, _ := b.Add(ctx, "u", AddParams{Content: "dinosaurs are big", Importance: model.ImportanceHigh})
	_, _ = b.Add(ctx, "u", AddParams{Content: "unrelated text"})
	_, _ = b.Add(ctx, "other", AddParams{Content: "likes dinosaurs"})

	results, err := b.Search(ctx, "u", SearchParams{Query: "likes dinosaurs"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, full.ID, results[0].Memory.ID)
	assert.Equal(t, half.ID, results[1].Memory.ID)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)
}

func TestSearchTieBreaksOnStrength(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	weak, _ := b.Add(ctx, "u", AddParams{Content: "dinosaurs", Importance: model.ImportanceLow})
	strong, _ := b.Add(ctx, "u", AddParams{Content: "dinosaurs", Importance: model.ImportanceCritical})

	results, err := b.Search(ctx, "u", SearchParams{Query: "dinosaurs"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, strong.ID, results[0].Memory.ID)
	assert.Equal(t, weak.ID, results[1].Memory.ID)
}

func TestSearchFilters(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	trivial, _ := b.Add(ctx, "u", AddParams{Content: "rocket", Importance: model.ImportanceTrivial})
	ep, _ := b.Add(ctx, "u", AddParams{Content: "rocket launch", Type: model.MemoryEpisodic, Tags: []string{"space"}})
	sem, _ := b.Add(ctx, "u", AddParams{Content: "rocket fuel", Type: model.MemorySemantic})

	results, err := b.Search(ctx, "u", SearchParams{Query: "rocket"})
	require.NoError(t, err)
	assert.NotContains(t, ids(results), trivial.ID, "default minimum importance is LOW")
	assert.ElementsMatch(t, []string{ep.ID, sem.ID}, ids(results))

	results, err = b.Search(ctx, "u", SearchParams{Query: "rocket", MinImportance: model.ImportanceTrivial})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = b.Search(ctx, "u", SearchParams{Query: "rocket", Type: model.MemoryEpisodic})
	require.NoError(t, err)
	assert.Equal(t, []string{ep.ID}, ids(results))

	results, err = b.Search(ctx, "u", SearchParams{Query: "rocket", Tags: []string{"space", "nope"}})
	require.NoError(t, err)
	assert.Equal(t, []string{ep.ID}, ids(results))
}

func TestSearchTagSubstringMatch(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	m, _ := b.Add(ctx, "u", AddParams{Content: "nothing in common", Tags: []string{"Dinosaurs"}})

	results, err := b.Search(ctx, "u", SearchParams{Query: "dino"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].Memory.ID)
	assert.InDelta(t, tagWeight*m.Strength(c.Now()), results[0].Relevance, 1e-9)
}

func TestSearchExcludesZeroRelevance(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	_, _ = b.Add(ctx, "u", AddParams{Content: "apples"})
	results, err := b.Search(ctx, "u", SearchParams{Query: "oranges"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestConsolidateRemovesWeak(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	old, _ := b.Add(ctx, "u", AddParams{Content: "forgotten detail", Importance: model.ImportanceTrivial})
	keep, _ := b.Add(ctx, "u", AddParams{Content: "birthday", Importance: model.ImportanceCritical})
	c.Advance(100 * 24 * time.Hour)
	fresh, _ := b.Add(ctx, "u", AddParams{Content: "new detail", Importance: model.ImportanceTrivial})

	report, err := b.Consolidate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, report.BeforeCount)
	assert.Equal(t, 2, report.AfterCount)
	assert.Equal(t, 1, report.RemovedWeak)
	assert.Equal(t, 0, report.RemovedDuplicates)

	_, err = b.Retrieve(ctx, old.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = b.Retrieve(ctx, keep.ID)
	assert.NoError(t, err)
	_, err = b.Retrieve(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestConsolidateDuplicatesKeepsStronger(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	weak, _ := b.Add(ctx, "u", AddParams{Content: "likes dinosaurs", Importance: model.ImportanceLow})
	strong, _ := b.Add(ctx, "u", AddParams{Content: "likes dinosaurs", Importance: model.ImportanceHigh})

	report, err := b.Consolidate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedDuplicates)

	list, _ := b.UserMemories(ctx, "u")
	require.Len(t, list, 1)
	assert.Equal(t, strong.ID, list[0].ID)
	assert.NotEqual(t, weak.ID, list[0].ID)
}

func TestConsolidateDuplicatesEqualStrengthDropsOlder(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	_, _ = b.Add(ctx, "u", AddParams{Content: "same"})
	newer, _ := b.Add(ctx, "u", AddParams{Content: "same"})

	_, err := b.Consolidate(ctx, "u")
	require.NoError(t, err)
	list, _ := b.UserMemories(ctx, "u")
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)
}

// Only the first 50 characters are compared, so distinct memories that share
// a long prefix are treated as duplicates.
func TestConsolidateSharedPrefixCollides(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	prefix := strings.Repeat("a", 50)
	_, _ = b.Add(ctx, "u", AddParams{Content: prefix + " ends one way"})
	_, _ = b.Add(ctx, "u", AddParams{Content: prefix + " ends another way entirely"})

	report, err := b.Consolidate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedDuplicates)
	assert.Equal(t, 1, report.AfterCount)
}

func TestMaxMemoriesPrunesWeakest(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 3)
	ctx := context.Background()

	weakest, _ := b.Add(ctx, "u", AddParams{Content: "a", Importance: model.ImportanceTrivial})
	for _, imp := range []model.Importance{model.ImportanceHigh, model.ImportanceHigh, model.ImportanceCritical} {
		_, err := b.Add(ctx, "u", AddParams{Content: "b", Importance: imp})
		require.NoError(t, err)
	}
	_, _ = b.Add(ctx, "other", AddParams{Content: "c", Importance: model.ImportanceTrivial})

	list, _ := b.UserMemories(ctx, "u")
	assert.Len(t, list, 3)
	for _, m := range list {
		assert.NotEqual(t, weakest.ID, m.ID)
	}
	other, _ := b.UserMemories(ctx, "other")
	assert.Len(t, other, 1)
}

func TestDeleteAndLink(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	a, _ := b.Add(ctx, "u", AddParams{Content: "a"})
	z, _ := b.Add(ctx, "u", AddParams{Content: "z"})

	require.NoError(t, b.Link(ctx, a.ID, z.ID))
	require.NoError(t, b.Link(ctx, a.ID, z.ID))
	got, _ := b.Retrieve(ctx, a.ID)
	assert.Equal(t, []string{z.ID}, got.Relationships)
	got, _ = b.Retrieve(ctx, z.ID)
	assert.Equal(t, []string{a.ID}, got.Relationships)

	assert.ErrorIs(t, b.Link(ctx, a.ID, "missing"), model.ErrNotFound)

	require.NoError(t, b.Delete(ctx, a.ID))
	assert.ErrorIs(t, b.Delete(ctx, a.ID), model.ErrNotFound)
	list, _ := b.UserMemories(ctx, "u")
	assert.Len(t, list, 1)
}

func TestRestoreKeepsTimestamps(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	m := &model.Memory{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		UserID:     "u",
		Type:       model.MemoryProcedural,
		Content:    "restored",
		Importance: model.ImportanceHigh,
		Timestamp:  c.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, b.Restore(ctx, m))
	require.NoError(t, b.Restore(ctx, m))

	list, _ := b.UserMemories(ctx, "u")
	require.Len(t, list, 1)
	assert.Equal(t, m.Timestamp, list[0].Timestamp)
}

func TestSummaryAndHelpers(t *testing.T) {
	c := newClock()
	b := newTestBank(c, 0)
	ctx := context.Background()

	_, _ = b.Add(ctx, "u", AddParams{Content: "a", Type: model.MemoryEpisodic, Importance: model.ImportanceHigh})
	c.Advance(10 * 24 * time.Hour)
	_, _ = b.Add(ctx, "u", AddParams{Content: "b", Type: model.MemoryEpisodic})
	_, _ = b.Add(ctx, "u", AddParams{Content: "c", Type: model.MemoryEmotional})

	s, err := b.Summary(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalMemories)
	assert.Equal(t, 2, s.ByType["episodic"])
	assert.Equal(t, 1, s.ByType["emotional"])
	assert.Equal(t, 2, s.ByImportance["MEDIUM"])
	assert.Equal(t, 1, s.ByImportance["HIGH"])

	list, _ := b.UserMemories(ctx, "u")
	assert.Len(t, FilterByType(list, model.MemoryEpisodic), 2)
	assert.Len(t, Recent(list, 7, c.Now()), 2)

	_, _ = b.Add(ctx, "alex", AddParams{Content: "d"})
	users, err := b.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alex", "u"}, users)
}

func ids(results []SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Memory.ID
	}
	return out
}

func TestWithMetricsCountsAddsAndRemovals(t *testing.T) {
	c := newClock()
	m := metrics.New()
	b := WithMetrics(newTestBank(c, 0), m)
	ctx := context.Background()

	_, err := b.Add(ctx, "u", AddParams{Content: "old", Importance: model.ImportanceTrivial})
	require.NoError(t, err)
	_, err = b.Add(ctx, "u", AddParams{Content: "bad", Importance: 42})
	require.Error(t, err)

	c.Advance(120 * 24 * time.Hour)
	_, err = b.Consolidate(ctx, "u")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesRemoved.WithLabelValues("weak")))
}
