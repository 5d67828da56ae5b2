package consolidation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/core/llm"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
	"github.com/lembraai/lembra/store/storetest"
)

func newTestStore() *store.Store {
	return store.New(storetest.NewFakeDriver(), &profile.Profile{}, metrics.New())
}

// fakeLLM returns one canned summary for every completion.
type fakeLLM struct {
	response string
	calls    int
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	f.calls++
	return f.response, nil
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	return f.response, nil
}

func seedTopicItems(t *testing.T, s *store.Store, ownerID, topic string, n int, age time.Duration) []*store.MemoryItem {
	t.Helper()
	emb := embedding.NewLocalService(16)
	items := make([]*store.MemoryItem, n)
	base := time.Now().Add(-age)
	for i := range n {
		item := &store.MemoryItem{
			UID:           fmt.Sprintf("%s-%s-%d", ownerID, topic, i),
			OwnerID:       ownerID,
			UserInput:     fmt.Sprintf("Conversa %d sobre problemas", i),
			AgentResponse: "Entendo.",
			CreatedTs:     base.Add(time.Duration(i) * time.Hour).Unix(),
			Topics:        []string{topic},
			Intensity:     0.5,
			Tension:       0.2,
			Depth:         0.4,
		}
		vector, err := emb.Embed(context.Background(), item.Document())
		require.NoError(t, err)
		created, err := s.CreateMemoryItem(context.Background(), item, vector)
		require.NoError(t, err)
		items[i] = created
	}
	return items
}

func TestConsolidateOwnerCreatesSummary(t *testing.T) {
	s := newTestStore()
	c := NewConsolidator(s, nil, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	sources := seedTopicItems(t, s, "owner-1", "trabalho", 6, 72*time.Hour)

	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	owner := "owner-1"
	summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	cm := summaries[0]
	require.Equal(t, "trabalho", cm.Topic)
	require.Equal(t, 6, cm.SourceCount)
	require.Len(t, cm.SourceItemIDs, 6)
	require.InDelta(t, 0.5, cm.AvgIntensity, 0.001)
	require.InDelta(t, 0.2, cm.AvgTension, 0.001)
	require.Equal(t, sources[0].CreatedTs, cm.PeriodStart)
	require.Equal(t, sources[5].CreatedTs, cm.PeriodEnd)
	require.Contains(t, cm.Summary, "6 conversas")
	require.Contains(t, cm.Summary, "trabalho")

	// Non-destructive: every source survives, back-linked to the summary.
	items, err := s.ListMemoryItems(ctx, &store.FindMemoryItem{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, items, 6)
	for _, item := range items {
		require.NotNil(t, item.ConsolidatedID)
		require.Equal(t, cm.ID, *item.ConsolidatedID)
	}

	// Each source is still individually retrievable by id.
	for _, src := range sources {
		got, err := s.GetMemoryItem(ctx, owner, src.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, src.UID, got.UID)
	}
}

func TestConsolidateOwnerSkipsSmallClusters(t *testing.T) {
	s := newTestStore()
	c := NewConsolidator(s, nil, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	seedTopicItems(t, s, "owner-1", "trabalho", 4, 72*time.Hour)

	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	owner := "owner-1"
	summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestConsolidateOwnerSkipsWriteBuffer(t *testing.T) {
	s := newTestStore()
	c := NewConsolidator(s, nil, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	// All items younger than the one-hour write buffer.
	seedTopicItems(t, s, "owner-1", "trabalho", 6, 30*time.Minute)

	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	owner := "owner-1"
	summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestConsolidateOwnerIsIncremental(t *testing.T) {
	s := newTestStore()
	c := NewConsolidator(s, nil, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	seedTopicItems(t, s, "owner-1", "trabalho", 6, 72*time.Hour)
	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	// A second run sees only consolidated items and produces nothing new.
	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	owner := "owner-1"
	summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestConsolidateOwnerUsesLLMSummary(t *testing.T) {
	s := newTestStore()
	fake := &fakeLLM{response: "O usuário enfrentou uma fase difícil no trabalho."}
	c := NewConsolidator(s, fake, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	seedTopicItems(t, s, "owner-1", "trabalho", 5, 72*time.Hour)
	require.NoError(t, c.ConsolidateOwner(ctx, "owner-1"))

	owner := "owner-1"
	summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "O usuário enfrentou uma fase difícil no trabalho.", summaries[0].Summary)
	require.Equal(t, 1, fake.calls)
}

func TestConsolidateAllCoversActiveOwners(t *testing.T) {
	s := newTestStore()
	c := NewConsolidator(s, nil, embedding.NewLocalService(16), metrics.New(), 90, 5)
	ctx := context.Background()

	seedTopicItems(t, s, "owner-1", "trabalho", 6, 72*time.Hour)
	seedTopicItems(t, s, "owner-2", "familia", 6, 72*time.Hour)

	require.NoError(t, c.ConsolidateAll(ctx))

	for _, owner := range []string{"owner-1", "owner-2"} {
		owner := owner
		summaries, err := s.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{OwnerID: &owner})
		require.NoError(t, err)
		require.Len(t, summaries, 1, "owner: %s", owner)
	}
}

func TestFallbackSummaryDeterministic(t *testing.T) {
	now := time.Now().Unix()
	group := []*store.MemoryItem{
		{UserInput: "reunião complicada projeto", CreatedTs: now - 7200},
		{UserInput: "projeto atrasado reunião", CreatedTs: now - 3600},
	}
	first := fallbackSummary("trabalho", group)
	second := fallbackSummary("trabalho", group)
	require.Equal(t, first, second)
	require.Contains(t, first, "2 conversas")
	require.Contains(t, first, "trabalho")
}

func TestTopKeywords(t *testing.T) {
	got := topKeywords([]string{"projeto", "reuniao", "projeto", "chefe", "reuniao", "projeto"}, 2)
	require.Equal(t, []string{"projeto", "reuniao"}, got)

	// Ties break alphabetically.
	got = topKeywords([]string{"b", "a"}, 5)
	require.Equal(t, []string{"a", "b"}, got)
}
