// Package memory is the write-side facade of the engine: recording turns
// with their retrieval metadata, and owner erasure.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/facts"
	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/store"
)

// TurnMeta carries the per-turn emotional scalars supplied by the dialogue
// component. All fields default to zero when the caller has nothing.
type TurnMeta struct {
	AffectiveCharge float32 // [0, 1]
	TensionLevel    float32 // [0, 1]
	Depth           float32 // [0, 1] reflective depth
	HasTension      bool    // unresolved internal conflict
}

// Engine records turns: fact extraction and memory storage run per turn,
// concurrently, both owner-scoped.
type Engine struct {
	store     *store.Store
	extractor *facts.Extractor
	embedding embedding.Service
	metrics   *metrics.Exporter
}

func NewEngine(s *store.Store, extractor *facts.Extractor, emb embedding.Service, exporter *metrics.Exporter) *Engine {
	return &Engine{
		store:     s,
		extractor: extractor,
		embedding: emb,
		metrics:   exporter,
	}
}

// RecordTurn stores one exchange and extracts facts from the user text.
// The memory write is the load-bearing half: extraction failures degrade
// to the rule path inside the extractor and upsert failures are logged
// per candidate, but neither fails the turn.
func (e *Engine) RecordTurn(ctx context.Context, ownerID, userText, agentText string, meta *TurnMeta) (*store.MemoryItem, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id required")
	}
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("user text required")
	}
	if meta == nil {
		meta = &TurnMeta{}
	}

	now := time.Now()
	item := e.buildItem(ctx, ownerID, userText, agentText, meta, now)

	// Extraction (slow LLM) runs concurrently with the embed-and-store
	// path; the upserts wait for both so candidates can reference the
	// stored turn id.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vector, err := e.embedding.Embed(gctx, item.Document())
		if err != nil {
			return fmt.Errorf("turn embedding failed: %w", err)
		}
		_, err = e.store.CreateMemoryItem(gctx, item, vector)
		return err
	})

	var extracted facts.Result
	g.Go(func() error {
		extracted = e.extractor.Extract(gctx, ownerID, userText)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.upsertCandidates(ctx, ownerID, extracted.Candidates, item.ID)

	if e.metrics != nil {
		e.metrics.TurnRecorded()
	}
	slog.InfoContext(ctx, "turn recorded",
		"owner_id", ownerID,
		"item_uid", item.UID,
		"topics", strings.Join(item.Topics, ","),
	)
	return item, nil
}

// buildItem computes the write-time metadata: temporal buckets, recency
// tier, emotional intensity, topics, and mentioned entities
// cross-referenced against known fact names.
func (e *Engine) buildItem(ctx context.Context, ownerID, userText, agentText string, meta *TurnMeta, now time.Time) *store.MemoryItem {
	text := userText + " " + agentText
	year, week := now.ISOWeek()

	return &store.MemoryItem{
		UID:           uuid.NewString(),
		OwnerID:       ownerID,
		UserInput:     userText,
		AgentResponse: agentText,
		CreatedTs:     now.Unix(),
		DayBucket:     now.Format("2006-01-02"),
		WeekBucket:    fmt.Sprintf("%d-W%02d", year, week),
		MonthBucket:   now.Format("2006-01"),
		RecencyTier:   store.RecencyTierRecent,
		Intensity:     meta.AffectiveCharge + meta.TensionLevel,
		Tension:       meta.TensionLevel,
		Depth:         meta.Depth,
		HasTension:    meta.HasTension,
		Topics:        textutil.DetectTopics(text),
		Entities:      e.mentionedEntities(ctx, ownerID, text),
	}
}

// mentionedEntities unions the names detected in the turn with known fact
// names that appear in the text, catching lowercase mentions of people
// the engine already knows about.
func (e *Engine) mentionedEntities(ctx context.Context, ownerID, text string) []string {
	entities := textutil.ExtractNames(text)
	seen := map[string]bool{}
	for _, name := range entities {
		seen[strings.ToLower(name)] = true
	}

	attribute := "nome"
	known, err := e.store.ListFacts(ctx, &store.FindFact{
		OwnerID:     &ownerID,
		Attribute:   &attribute,
		CurrentOnly: true,
		Limit:       100,
	})
	if err != nil {
		slog.WarnContext(ctx, "known-name lookup failed", "owner_id", ownerID, "error", err)
		return entities
	}

	lowerText := strings.ToLower(text)
	for _, f := range known {
		name := strings.TrimSpace(f.Value)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(name)) {
			seen[strings.ToLower(name)] = true
			entities = append(entities, name)
		}
	}
	return entities
}

// upsertCandidates persists extracted candidates. Failures here never
// fail the turn.
func (e *Engine) upsertCandidates(ctx context.Context, ownerID string, candidates []facts.Candidate, sourceTurnID int64) {
	for _, c := range candidates {
		_, err := e.store.UpsertFact(ctx, &store.UpsertFact{
			OwnerID:      ownerID,
			Category:     c.Category,
			FactType:     c.FactType,
			Attribute:    c.Attribute,
			Value:        c.Value,
			Confidence:   c.Confidence,
			Method:       c.Method,
			SourceTurnID: sourceTurnID,
		})
		if err != nil {
			slog.WarnContext(ctx, "fact upsert failed",
				"owner_id", ownerID,
				"category", c.Category,
				"fact_type", c.FactType,
				"error", err,
			)
			continue
		}
		if e.metrics != nil {
			e.metrics.FactUpserted(string(c.Method))
		}
	}
}

// EraseOwner hard-deletes everything stored for the owner. This is the
// right-to-erasure contract.
func (e *Engine) EraseOwner(ctx context.Context, ownerID string) error {
	if err := e.store.EraseOwner(ctx, ownerID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "owner erased", "owner_id", ownerID)
	return nil
}
