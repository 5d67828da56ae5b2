package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/facts"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
	"github.com/lembraai/lembra/store/storetest"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := store.New(storetest.NewFakeDriver(), &profile.Profile{}, metrics.New())
	extractor := facts.NewExtractor(nil, nil) // rule path only
	return NewEngine(s, extractor, embedding.NewLocalService(64), metrics.New()), s
}

func TestRecordTurnValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RecordTurn(ctx, "", "oi", "olá", nil)
	require.Error(t, err)

	_, err = e.RecordTurn(ctx, "owner-1", "   ", "olá", nil)
	require.Error(t, err)
}

func TestRecordTurnStoresItemWithMetadata(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	item, err := e.RecordTurn(ctx, "owner-1",
		"Minha esposa Ana está com ansiedade",
		"Sinto muito, quer conversar sobre isso?",
		&TurnMeta{AffectiveCharge: 0.7, TensionLevel: 0.5, Depth: 0.8, HasTension: true})
	require.NoError(t, err)
	require.NotEmpty(t, item.UID)
	require.NotZero(t, item.ID)
	require.Equal(t, "owner-1", item.OwnerID)
	require.Equal(t, store.RecencyTierRecent, item.RecencyTier)
	require.InDelta(t, 1.2, item.Intensity, 0.001)
	require.True(t, item.HasTension)
	require.Contains(t, item.Topics, "familia")
	require.Contains(t, item.Topics, "saude")
	require.Contains(t, item.Entities, "Ana")

	now := time.Now()
	require.Equal(t, now.Format("2006-01-02"), item.DayBucket)
	require.Equal(t, now.Format("2006-01"), item.MonthBucket)
	year, week := now.ISOWeek()
	require.Equal(t, fmt.Sprintf("%d-W%02d", year, week), item.WeekBucket)

	count, err := s.CountMemoryItems(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRecordTurnExtractsFacts(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	item, err := e.RecordTurn(ctx, "owner-1", "Minha esposa se chama Ana", "Prazer em saber!", nil)
	require.NoError(t, err)

	owner := "owner-1"
	current, err := s.ListFacts(ctx, &store.FindFact{OwnerID: &owner, CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, "esposa", current[0].FactType)
	require.Equal(t, "Ana", current[0].Value)
	require.Equal(t, item.ID, current[0].SourceTurnID)
}

func TestRecordTurnRepeatIsIdempotentOnFacts(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	for range 3 {
		_, err := e.RecordTurn(ctx, "owner-1", "Minha esposa se chama Ana", "Entendi.", nil)
		require.NoError(t, err)
	}

	owner := "owner-1"
	all, err := s.ListFacts(ctx, &store.FindFact{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, all, 1, "re-extraction of the same value must not create versions")
	require.Equal(t, int32(1), all[0].Version)
}

func TestRecordTurnCorrectionCreatesNewVersion(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RecordTurn(ctx, "owner-1", "Minha esposa se chama Ana", "Certo.", nil)
	require.NoError(t, err)
	_, err = e.RecordTurn(ctx, "owner-1", "Na verdade minha esposa se chama Beatriz", "Anotado.", nil)
	require.NoError(t, err)

	owner := "owner-1"
	current, err := s.ListFacts(ctx, &store.FindFact{OwnerID: &owner, CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, "Beatriz", current[0].Value)
	require.Equal(t, int32(2), current[0].Version)

	all, err := s.ListFacts(ctx, &store.FindFact{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, all, 2, "the old value stays as history")
}

func TestRecordTurnCrossReferencesKnownNames(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := s.UpsertFact(ctx, &store.UpsertFact{
		OwnerID: "owner-1", Category: "relacionamento", FactType: "esposa",
		Attribute: "nome", Value: "Ana", Confidence: 0.9,
		Method: store.ExtractionMethodLLM,
	})
	require.NoError(t, err)

	// Lowercase mention, invisible to capitalization-based detection.
	item, err := e.RecordTurn(ctx, "owner-1", "hoje conversei com ana sobre a viagem", "Que legal!", nil)
	require.NoError(t, err)
	require.Contains(t, item.Entities, "Ana")
}

func TestEraseOwner(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RecordTurn(ctx, "owner-1", "Minha esposa se chama Ana", "Certo.", nil)
	require.NoError(t, err)
	_, err = e.RecordTurn(ctx, "owner-2", "Meu pai se chama Carlos", "Certo.", nil)
	require.NoError(t, err)

	require.NoError(t, e.EraseOwner(ctx, "owner-1"))

	count, err := s.CountMemoryItems(ctx, "owner-1")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = s.CountMemoryItems(ctx, "owner-2")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
