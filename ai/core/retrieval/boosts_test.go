package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/store"
)

func recentItem(now time.Time) *store.MemoryItem {
	return &store.MemoryItem{
		OwnerID:   "owner-1",
		CreatedTs: now.Add(-24 * time.Hour).Unix(),
	}
}

func TestTemporalBoostRecomputesTier(t *testing.T) {
	now := time.Now()
	q := &queryFeatures{mode: "balanced", now: now}

	// Stored as recent four months ago, but old by now.
	item := &store.MemoryItem{
		RecencyTier: store.RecencyTierRecent,
		CreatedTs:   now.Add(-120 * 24 * time.Hour).Unix(),
	}
	require.Equal(t, boostTemporalOld, temporalBoost(item, q))

	item.CreatedTs = now.Add(-24 * time.Hour).Unix()
	require.Equal(t, boostTemporalRecent, temporalBoost(item, q))
}

func TestTemporalBoostModes(t *testing.T) {
	now := time.Now()
	old := &store.MemoryItem{CreatedTs: now.Add(-200 * 24 * time.Hour).Unix()}

	tests := []struct {
		mode string
		want float32
	}{
		{"balanced", boostTemporalOld},
		{"recency", 0.7},
		{"archival", 1.2},
	}
	for _, tt := range tests {
		q := &queryFeatures{mode: tt.mode, now: now}
		require.Equal(t, tt.want, temporalBoost(old, q), "mode: %s", tt.mode)
	}
}

func TestTemporalBoostConsolidated(t *testing.T) {
	now := time.Now()
	item := &store.MemoryItem{
		RecencyTier: store.RecencyTierConsolidated,
		CreatedTs:   now.Add(-200 * 24 * time.Hour).Unix(),
	}
	for _, mode := range []string{"balanced", "recency", "archival"} {
		q := &queryFeatures{mode: mode, now: now}
		require.Equal(t, boostConsolidated, temporalBoost(item, q), "mode: %s", mode)
	}
}

func TestEmotionalBoostThresholds(t *testing.T) {
	tests := []struct {
		intensity float32
		want      float32
	}{
		{0.0, 1.0},
		{0.6, 1.0},
		{0.7, boostEmotionalMild},
		{1.0, boostEmotionalMild},
		{1.1, boostEmotionalStrong},
	}
	for _, tt := range tests {
		item := &store.MemoryItem{Intensity: tt.intensity}
		require.Equal(t, tt.want, emotionalBoost(item, nil), "intensity: %f", tt.intensity)
	}
}

// An entity match must rank an item strictly above an otherwise identical
// one carrying every other boost at once.
func TestEntityBoostDominates(t *testing.T) {
	now := time.Now()
	q := &queryFeatures{
		topics:   []string{"familia"},
		entities: []string{"Ana"},
		mode:     "balanced",
		now:      now,
	}

	withEntity := recentItem(now)
	withEntity.Entities = []string{"Ana"}

	withEverythingElse := recentItem(now)
	withEverythingElse.Topics = []string{"familia"}
	withEverythingElse.Intensity = 0.8
	withEverythingElse.Depth = 0.9
	withEverythingElse.HasTension = true

	base := float32(0.8)
	require.Greater(t, rerankScore(base, withEntity, q), base)
	require.Greater(t,
		entityBoost(withEntity, q),
		topicBoost(withEverythingElse, q))
	require.Greater(t,
		entityBoost(withEntity, q),
		emotionalBoost(withEverythingElse, nil))
}

func TestEntityBoostOrderingAtEqualSimilarity(t *testing.T) {
	now := time.Now()
	q := &queryFeatures{entities: []string{"Ana"}, mode: "balanced", now: now}

	matched := recentItem(now)
	matched.Entities = []string{"Ana"}
	unmatched := recentItem(now)
	unmatched.Entities = []string{"Pedro"}

	base := float32(0.75)
	require.Greater(t, rerankScore(base, matched, q), rerankScore(base, unmatched, q))
}

func TestClampBoost(t *testing.T) {
	require.Equal(t, boostFloor, clampBoost(0.1))
	require.Equal(t, boostCeiling, clampBoost(2.0))
	require.Equal(t, float32(1.2), clampBoost(1.2))
}

func TestRerankScoreMultiplicative(t *testing.T) {
	now := time.Now()
	q := &queryFeatures{topics: []string{"trabalho"}, mode: "balanced", now: now}

	item := recentItem(now)
	item.Topics = []string{"trabalho"}

	// recent 1.2 * topic 1.2, everything else neutral
	want := float32(0.5) * boostTemporalRecent * boostTopic
	require.InDelta(t, want, rerankScore(0.5, item, q), 1e-6)
}
