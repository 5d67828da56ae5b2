// Package consolidation implements the background batch job that folds
// clusters of related memories into topic summaries. Consolidation is
// additive: sources stay retrievable, the summary is preferred at rank
// time.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/core/llm"
	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/store"
)

const (
	// writeBuffer keeps items still being written out of the snapshot.
	writeBuffer = time.Hour

	// batchLimit bounds one owner's batch.
	batchLimit = 1000

	// ownerConcurrency bounds the cross-owner fan-out.
	ownerConcurrency = 4

	// llmRate throttles summary completions across the whole run.
	llmRate = rate.Limit(1) // one call per second
)

// Consolidator runs the periodic consolidation batches.
type Consolidator struct {
	store      *store.Store
	llm        llm.Service // nil forces the deterministic fallback text
	embedding  embedding.Service
	metrics    *metrics.Exporter
	lookback   time.Duration
	minCluster int
	limiter    *rate.Limiter
}

func NewConsolidator(s *store.Store, llmService llm.Service, emb embedding.Service, exporter *metrics.Exporter, lookbackDays, minCluster int) *Consolidator {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	if minCluster <= 0 {
		minCluster = 5
	}
	return &Consolidator{
		store:      s,
		llm:        llmService,
		embedding:  emb,
		metrics:    exporter,
		lookback:   time.Duration(lookbackDays) * 24 * time.Hour,
		minCluster: minCluster,
		limiter:    rate.NewLimiter(llmRate, 1),
	}
}

// ConsolidateAll runs one batch over every owner active inside the
// lookback window, with bounded concurrency. Per-owner failures are
// logged and do not abort the run.
func (c *Consolidator) ConsolidateAll(ctx context.Context) error {
	cutoff := time.Now().Add(-c.lookback).Unix()
	owners, err := c.store.ListActiveOwnerIDs(ctx, cutoff)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ConsolidationRun("error")
		}
		return fmt.Errorf("active owner listing failed: %w", err)
	}

	sem := semaphore.NewWeighted(ownerConcurrency)
	for _, ownerID := range owners {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		ownerID := ownerID
		go func() {
			defer sem.Release(1)
			if err := c.ConsolidateOwner(ctx, ownerID); err != nil {
				slog.ErrorContext(ctx, "owner consolidation failed", "owner_id", ownerID, "error", err)
			}
		}()
	}
	// Wait for all in-flight owners.
	if err := sem.Acquire(ctx, ownerConcurrency); err != nil {
		return err
	}
	sem.Release(ownerConcurrency)

	if c.metrics != nil {
		c.metrics.ConsolidationRun("ok")
	}
	return nil
}

// ConsolidateOwner runs one owner's batch: snapshot the lookback window
// minus the write buffer, cluster unconsolidated items by dominant topic,
// and summarize every cluster of at least minCluster items. Each group
// commits independently; one bad group never blocks the others.
func (c *Consolidator) ConsolidateOwner(ctx context.Context, ownerID string) error {
	now := time.Now()
	end := now.Add(-writeBuffer).Unix()
	start := now.Add(-c.lookback).Unix()

	items, err := c.store.ListMemoryItems(ctx, &store.FindMemoryItem{
		OwnerID:       &ownerID,
		CreatedAfter:  &start,
		CreatedBefore: &end,
		Limit:         batchLimit,
	})
	if err != nil {
		return fmt.Errorf("snapshot listing failed: %w", err)
	}

	groups := clusterByTopic(items)
	for topic, group := range groups {
		if len(group) < c.minCluster {
			continue
		}
		if err := c.consolidateGroup(ctx, ownerID, topic, group); err != nil {
			slog.WarnContext(ctx, "topic group consolidation failed, will retry next run",
				"owner_id", ownerID,
				"topic", topic,
				"group_size", len(group),
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.ConsolidationGroup("error")
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.ConsolidationGroup("ok")
		}
	}
	return nil
}

// clusterByTopic drops already-consolidated items and groups the rest by
// their dominant topic, oldest first within each group.
func clusterByTopic(items []*store.MemoryItem) map[string][]*store.MemoryItem {
	groups := map[string][]*store.MemoryItem{}
	for _, item := range items {
		if item.ConsolidatedID != nil {
			continue
		}
		groups[dominantTopic(item)] = append(groups[dominantTopic(item)], item)
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedTs < group[j].CreatedTs })
	}
	return groups
}

func dominantTopic(item *store.MemoryItem) string {
	if len(item.Topics) > 0 {
		return item.Topics[0]
	}
	return textutil.DominantTopic(textutil.Keywords(item.Document(), 10))
}

func (c *Consolidator) consolidateGroup(ctx context.Context, ownerID, topic string, group []*store.MemoryItem) error {
	summary := c.summarize(ctx, topic, group)

	vector, err := c.embedding.Embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("summary embedding failed: %w", err)
	}

	sourceIDs := make([]int64, len(group))
	var sumIntensity, sumTension, sumDepth float32
	for i, item := range group {
		sourceIDs[i] = item.ID
		sumIntensity += item.Intensity
		sumTension += item.Tension
		sumDepth += item.Depth
	}
	n := float32(len(group))

	_, err = c.store.CreateConsolidatedMemory(ctx, &store.ConsolidatedMemory{
		UID:           uuid.NewString(),
		OwnerID:       ownerID,
		Topic:         topic,
		PeriodStart:   group[0].CreatedTs,
		PeriodEnd:     group[len(group)-1].CreatedTs,
		SourceCount:   len(group),
		SourceItemIDs: sourceIDs,
		Summary:       summary,
		AvgIntensity:  sumIntensity / n,
		AvgTension:    sumTension / n,
		AvgDepth:      sumDepth / n,
		CreatedTs:     time.Now().Unix(),
	}, vector)
	if err != nil {
		return fmt.Errorf("consolidated memory write failed: %w", err)
	}

	slog.InfoContext(ctx, "topic group consolidated",
		"owner_id", ownerID,
		"topic", topic,
		"source_count", len(group),
	)
	return nil
}

// summarize asks the LLM for a structured summary of the group, degrading
// to deterministic fallback text when the LLM is absent, throttled out,
// or failing. The fallback is still a useful retrieval document.
func (c *Consolidator) summarize(ctx context.Context, topic string, group []*store.MemoryItem) string {
	if c.llm == nil {
		return fallbackSummary(topic, group)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fallbackSummary(topic, group)
	}

	started := time.Now()
	response, err := c.llm.Complete(ctx, summaryPrompt(topic, group), 512)
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.LLMCall("consolidation", outcome, time.Since(started).Seconds())
	}
	if err != nil || strings.TrimSpace(response) == "" {
		slog.WarnContext(ctx, "summary completion failed, using fallback text", "topic", topic, "error", err)
		return fallbackSummary(topic, group)
	}
	return strings.TrimSpace(response)
}

func summaryPrompt(topic string, group []*store.MemoryItem) string {
	var sb strings.Builder
	sb.WriteString("Resuma as conversas abaixo sobre o tema \"")
	sb.WriteString(topic)
	sb.WriteString("\" em um parágrafo estruturado: fatos recorrentes, padrão emocional e trajetória ao longo do período. Responda em português, sem preâmbulo.\n\n")
	for i, item := range group {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, textutil.Truncate(item.Document(), 300)))
	}
	return sb.String()
}

// fallbackSummary is the deterministic stand-in: topic, period, volume
// and recurring keywords, rendered as a plain retrieval document.
func fallbackSummary(topic string, group []*store.MemoryItem) string {
	start := time.Unix(group[0].CreatedTs, 0).Format("2006-01-02")
	end := time.Unix(group[len(group)-1].CreatedTs, 0).Format("2006-01-02")

	var all []string
	for _, item := range group {
		all = append(all, textutil.Keywords(item.UserInput, 5)...)
	}
	keywords := topKeywords(all, 8)

	return fmt.Sprintf("Resumo de %d conversas sobre %s entre %s e %s. Temas recorrentes: %s.",
		len(group), topic, start, end, strings.Join(keywords, ", "))
}

// topKeywords returns the most frequent keywords, ties broken
// alphabetically for determinism.
func topKeywords(keywords []string, max int) []string {
	counts := map[string]int{}
	for _, kw := range keywords {
		counts[kw]++
	}
	unique := make([]string, 0, len(counts))
	for kw := range counts {
		unique = append(unique, kw)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return unique[i] < unique[j]
	})
	if len(unique) > max {
		unique = unique[:max]
	}
	return unique
}
