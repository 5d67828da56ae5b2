package enrichment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
	"github.com/lembraai/lembra/store/storetest"
)

func newTestEnricher(t *testing.T) (*Enricher, *store.Store) {
	t.Helper()
	s := store.New(storetest.NewFakeDriver(), &profile.Profile{}, metrics.New())
	return NewEnricher(s), s
}

func seedFact(t *testing.T, s *store.Store, factType, value string) {
	t.Helper()
	_, err := s.UpsertFact(context.Background(), &store.UpsertFact{
		OwnerID: "owner-1", Category: "relacionamento", FactType: factType,
		Attribute: "nome", Value: value, Confidence: 0.9,
		Method: store.ExtractionMethodLLM,
	})
	require.NoError(t, err)
}

func TestEnrichAddsNameMatchedFacts(t *testing.T) {
	e, s := newTestEnricher(t)
	seedFact(t, s, "esposa", "Ana")
	seedFact(t, s, "filho#1", "Pedro")

	enriched := e.Enrich(context.Background(), "owner-1", "Como está a Ana?", nil)
	require.Contains(t, enriched, "Como está a Ana?")
	require.Contains(t, enriched, "esposa nome: Ana")
	require.NotContains(t, enriched, "Pedro")
}

func TestEnrichAddsTopicCategoryFacts(t *testing.T) {
	e, s := newTestEnricher(t)
	seedFact(t, s, "esposa", "Ana")

	enriched := e.Enrich(context.Background(), "owner-1", "como está minha família?", nil)
	require.Contains(t, enriched, "esposa nome: Ana")
	require.Contains(t, enriched, "familia")
}

func TestEnrichIncludesRecentUserTurns(t *testing.T) {
	e, _ := newTestEnricher(t)

	dialogue := []ai.Turn{
		{Role: "user", Content: "falei com minha chefe hoje"},
		{Role: "assistant", Content: "E como foi?"},
		{Role: "user", Content: "foi tenso"},
	}
	enriched := e.Enrich(context.Background(), "owner-1", "o que eu devo fazer?", dialogue)
	require.Contains(t, enriched, "falei com minha chefe hoje")
	require.Contains(t, enriched, "foi tenso")
	require.NotContains(t, enriched, "E como foi?")
}

func TestEnrichPlainQueryPassesThrough(t *testing.T) {
	e, _ := newTestEnricher(t)
	enriched := e.Enrich(context.Background(), "owner-1", "bom dia", nil)
	require.Equal(t, "bom dia", enriched)
}

func TestUserTurns(t *testing.T) {
	dialogue := []ai.Turn{
		{Role: "user", Content: "um"},
		{Role: "assistant", Content: "dois"},
		{Role: "user", Content: "tres"},
		{Role: "user", Content: "quatro"},
	}
	turns := ai.UserTurns(dialogue, 2)
	require.Len(t, turns, 2)
	require.Equal(t, "tres", turns[0].Content)
	require.Equal(t, "quatro", turns[1].Content)

	require.Len(t, ai.UserTurns(dialogue, 0), 3)
	require.Empty(t, ai.UserTurns(nil, 5))
}
