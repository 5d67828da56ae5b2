package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/enrichment"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
	"github.com/lembraai/lembra/store/storetest"
)

const testDims = 64

func newTestRetriever(t *testing.T, fake *storetest.FakeDriver) (*Retriever, *store.Store, embedding.Service) {
	t.Helper()
	s := store.New(fake, &profile.Profile{}, metrics.New())
	emb := embedding.NewLocalService(testDims)
	enr := enrichment.NewEnricher(s)
	return NewRetriever(s, emb, enr, metrics.New(), "balanced"), s, emb
}

func seedItem(t *testing.T, s *store.Store, emb embedding.Service, item *store.MemoryItem) *store.MemoryItem {
	t.Helper()
	vector, err := emb.Embed(context.Background(), item.Document())
	require.NoError(t, err)
	created, err := s.CreateMemoryItem(context.Background(), item, vector)
	require.NoError(t, err)
	return created
}

func TestRetrieveRanksEntityMatchFirst(t *testing.T) {
	fake := storetest.NewFakeDriver()
	r, s, emb := newTestRetriever(t, fake)
	now := time.Now().Unix()

	seedItem(t, s, emb, &store.MemoryItem{
		UID: "m1", OwnerID: "owner-1",
		UserInput:     "Minha esposa Ana está viajando",
		AgentResponse: "Que bom para ela.",
		CreatedTs:     now - 3600,
		Entities:      []string{"Ana"},
		Topics:        []string{"familia"},
	})
	seedItem(t, s, emb, &store.MemoryItem{
		UID: "m2", OwnerID: "owner-1",
		UserInput:     "Minha esposa está bem",
		AgentResponse: "Fico feliz.",
		CreatedTs:     now - 3600,
		Topics:        []string{"familia"},
	})

	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:  "owner-1",
		RawQuery: "Como está a Ana?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "m1", results[0].Item.UID)
}

func TestRetrieveOwnerIsolation(t *testing.T) {
	fake := storetest.NewFakeDriver()
	r, s, emb := newTestRetriever(t, fake)
	now := time.Now().Unix()

	seedItem(t, s, emb, &store.MemoryItem{
		UID: "mine", OwnerID: "owner-1",
		UserInput: "Meu trabalho está difícil", AgentResponse: "Entendo.",
		CreatedTs: now,
	})
	seedItem(t, s, emb, &store.MemoryItem{
		UID: "theirs", OwnerID: "owner-2",
		UserInput: "Meu trabalho está ótimo", AgentResponse: "Que bom.",
		CreatedTs: now,
	})

	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:  "owner-1",
		RawQuery: "como está meu trabalho",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mine", results[0].Item.UID)
}

func TestRetrieveKeywordFallback(t *testing.T) {
	fake := storetest.NewFakeDriver()
	fake.VectorSearchErr = errors.New("vector index unavailable")
	r, s, emb := newTestRetriever(t, fake)
	now := time.Now().Unix()

	seedItem(t, s, emb, &store.MemoryItem{
		UID: "m1", OwnerID: "owner-1",
		UserInput: "Estou preocupado com meu trabalho", AgentResponse: "Me conte mais.",
		CreatedTs: now,
	})
	seedItem(t, s, emb, &store.MemoryItem{
		UID: "m2", OwnerID: "owner-1",
		UserInput: "Hoje o dia foi tranquilo", AgentResponse: "Ótimo.",
		CreatedTs: now,
	})

	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:  "owner-1",
		RawQuery: "trabalho estressante demais",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].Item.UID)
	require.Equal(t, store.KeywordFallbackScore, results[0].Score)
}

func TestRetrieveSubstitutesConsolidated(t *testing.T) {
	fake := storetest.NewFakeDriver()
	r, s, emb := newTestRetriever(t, fake)
	now := time.Now().Unix()

	var sourceIDs []int64
	for range 3 {
		item := seedItem(t, s, emb, &store.MemoryItem{
			UID: "src", OwnerID: "owner-1",
			UserInput: "Reunião difícil no trabalho hoje", AgentResponse: "Entendo.",
			CreatedTs: now - 3600,
			Topics:    []string{"trabalho"},
		})
		sourceIDs = append(sourceIDs, item.ID)
	}

	vector, err := emb.Embed(context.Background(), "Resumo sobre trabalho")
	require.NoError(t, err)
	cm, err := s.CreateConsolidatedMemory(context.Background(), &store.ConsolidatedMemory{
		UID: "c1", OwnerID: "owner-1", Topic: "trabalho",
		PeriodStart: now - 7200, PeriodEnd: now,
		SourceItemIDs: sourceIDs,
		Summary:       "Semana de reuniões difíceis no trabalho.",
		CreatedTs:     now,
	}, vector)
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:  "owner-1",
		RawQuery: "como foram as reuniões do trabalho",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0].Item)
	require.NotNil(t, results[0].Consolidated)
	require.Equal(t, cm.ID, results[0].Consolidated.ID)

	// Substitution is non-destructive: sources stay listed.
	items, err := s.ListMemoryItems(context.Background(), &store.FindMemoryItem{OwnerID: ptr("owner-1")})
	require.NoError(t, err)
	require.Len(t, items, 3)
}

// noItemsDriver hides every item from vector search so only the
// consolidated index can surface results.
type noItemsDriver struct{ *storetest.FakeDriver }

func (d *noItemsDriver) VectorSearch(context.Context, *store.VectorSearchOptions) ([]*store.MemoryItemWithScore, error) {
	return nil, nil
}

func TestRetrieveDirectConsolidatedHit(t *testing.T) {
	fake := storetest.NewFakeDriver()
	s := store.New(&noItemsDriver{fake}, &profile.Profile{}, metrics.New())
	emb := embedding.NewLocalService(testDims)
	r := NewRetriever(s, emb, enrichment.NewEnricher(s), metrics.New(), "balanced")
	now := time.Now().Unix()

	var sourceIDs []int64
	for range 3 {
		item := seedItem(t, s, emb, &store.MemoryItem{
			UID: "src", OwnerID: "owner-1",
			UserInput: "Reunião difícil no trabalho hoje", AgentResponse: "Entendo.",
			CreatedTs: now - 3600,
			Topics:    []string{"trabalho"},
		})
		sourceIDs = append(sourceIDs, item.ID)
	}

	vector, err := emb.Embed(context.Background(), "Semana de reuniões difíceis no trabalho.")
	require.NoError(t, err)
	cm, err := s.CreateConsolidatedMemory(context.Background(), &store.ConsolidatedMemory{
		UID: "c1", OwnerID: "owner-1", Topic: "trabalho",
		PeriodStart: now - 7200, PeriodEnd: now,
		SourceItemIDs: sourceIDs,
		Summary:       "Semana de reuniões difíceis no trabalho.",
		CreatedTs:     now,
	}, vector)
	require.NoError(t, err)

	// No source item reaches the candidate pool; the summary must still
	// surface on its own embedding.
	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:  "owner-1",
		RawQuery: "como foram as reuniões do trabalho",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Consolidated)
	require.Equal(t, cm.ID, results[0].Consolidated.ID)
}

func TestRetrieveKOverride(t *testing.T) {
	fake := storetest.NewFakeDriver()
	r, s, emb := newTestRetriever(t, fake)
	now := time.Now().Unix()

	for i := range 10 {
		seedItem(t, s, emb, &store.MemoryItem{
			UID: "m", OwnerID: "owner-1",
			UserInput: "Conversa sobre o dia", AgentResponse: "Certo.",
			CreatedTs: now - int64(i)*60,
		})
	}

	results, err := r.Retrieve(context.Background(), &Options{
		OwnerID:   "owner-1",
		RawQuery:  "como foi o dia",
		KOverride: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func ptr[T any](v T) *T { return &v }
