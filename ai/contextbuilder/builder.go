// Package contextbuilder assembles the bounded context payload handed to
// the generation step: recent dialogue, relevant facts, tiered memories
// and behavioral patterns, in that priority order.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/core/retrieval"
	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/store"
)

const (
	// defaultTokenBudget bounds the assembled payload. Tokens are
	// estimated, not tokenizer-exact; the budget is a governance bound,
	// not a wire contract.
	defaultTokenBudget = 2000

	// patternMinConfidence filters the behavioral pattern layer.
	patternMinConfidence = 0.6
	patternLimit         = 5

	dialogueWindow = 10
)

// Payload is the assembled context.
type Payload struct {
	Text      string
	Truncated bool
}

// Builder assembles context payloads.
type Builder struct {
	store       *store.Store
	retriever   *retrieval.Retriever
	metrics     *metrics.Exporter
	tokenBudget int
}

func NewBuilder(s *store.Store, r *retrieval.Retriever, exporter *metrics.Exporter, tokenBudget int) *Builder {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	return &Builder{
		store:       s,
		retriever:   r,
		metrics:     exporter,
		tokenBudget: tokenBudget,
	}
}

// section is one context layer. Higher priority survives truncation
// longer; drop order is the reverse of priority.
type section struct {
	name     string
	priority int // higher survives longer
	text     string
}

// BuildContext assembles the layered payload for one owner and input.
// Retrieval degradation upstream never surfaces here as an error; the
// payload just gets sparser.
func (b *Builder) BuildContext(ctx context.Context, ownerID, currentInput string, recentDialogue []ai.Turn) (*Payload, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id required")
	}

	sections := []section{
		{name: "dialogue", priority: 6, text: b.dialogueSection(recentDialogue)},
		{name: "facts", priority: 5, text: b.factsSection(ctx, ownerID, currentInput)},
	}

	consolidated, recent, older := b.memorySections(ctx, ownerID, currentInput, recentDialogue)
	sections = append(sections,
		section{name: "memories_consolidated", priority: 4, text: consolidated},
		section{name: "memories_recent", priority: 3, text: recent},
		section{name: "memories_older", priority: 2, text: older},
		section{name: "patterns", priority: 1, text: b.patternsSection(ctx, ownerID)},
	)

	header := b.statsHeader(ctx, ownerID)

	payload, truncated := assemble(header, sections, b.tokenBudget)
	if truncated {
		slog.InfoContext(ctx, "context payload truncated to budget",
			"owner_id", ownerID,
			"budget_tokens", b.tokenBudget,
		)
		if b.metrics != nil {
			b.metrics.ContextTruncated()
		}
	}
	if b.metrics != nil {
		b.metrics.ContextBuilt()
	}

	return &Payload{Text: payload, Truncated: truncated}, nil
}

func (b *Builder) dialogueSection(recentDialogue []ai.Turn) string {
	turns := recentDialogue
	if len(turns) > dialogueWindow {
		turns = turns[len(turns)-dialogueWindow:]
	}
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Diálogo recente\n")
	for _, t := range turns {
		sb.WriteString(t.Role + ": " + t.Content + "\n")
	}
	return sb.String()
}

// factsSection renders current facts relevant to the input's entities and
// topics, grouped by category.
func (b *Builder) factsSection(ctx context.Context, ownerID, currentInput string) string {
	facts, err := b.store.ListFacts(ctx, &store.FindFact{
		OwnerID:     &ownerID,
		CurrentOnly: true,
		Limit:       200,
	})
	if err != nil {
		slog.WarnContext(ctx, "context fact lookup failed", "owner_id", ownerID, "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	names := textutil.ExtractNames(currentInput)
	topics := textutil.DetectTopics(currentInput)

	byCategory := map[string][]*store.Fact{}
	for _, f := range facts {
		if relevantFact(f, names, topics) {
			byCategory[f.Category] = append(byCategory[f.Category], f)
		}
	}
	if len(byCategory) == 0 {
		return ""
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("## Fatos conhecidos\n")
	for _, category := range categories {
		sb.WriteString("### " + category + "\n")
		for _, f := range byCategory[category] {
			sb.WriteString(fmt.Sprintf("- %s %s: %s\n", f.FactType, f.Attribute, f.Value))
		}
	}
	return sb.String()
}

// relevantFact keeps a fact when its value matches a detected name, or
// its category maps onto a detected topic. With neither signal in the
// input, family and relationship facts are kept as the safe default.
func relevantFact(f *store.Fact, names, topics []string) bool {
	for _, name := range names {
		if strings.EqualFold(f.Value, name) || strings.Contains(strings.ToLower(f.Value), strings.ToLower(name)) {
			return true
		}
	}
	for _, topic := range topics {
		switch topic {
		case "familia", "relacionamento":
			if f.Category == "relacionamento" {
				return true
			}
		case "trabalho", "saude":
			if f.Category == topic {
				return true
			}
		}
	}
	return len(names) == 0 && len(topics) == 0 && f.Category == "relacionamento"
}

// memorySections retrieves and splits reranked memories into the three
// display tiers.
func (b *Builder) memorySections(ctx context.Context, ownerID, currentInput string, recentDialogue []ai.Turn) (consolidated, recent, older string) {
	results, err := b.retriever.Retrieve(ctx, &retrieval.Options{
		OwnerID:        ownerID,
		RawQuery:       currentInput,
		RecentDialogue: recentDialogue,
	})
	if err != nil {
		slog.WarnContext(ctx, "context retrieval failed", "owner_id", ownerID, "error", err)
		return "", "", ""
	}

	var consolidatedLines, recentLines, olderLines []string
	now := time.Now().Unix()
	for _, r := range results {
		line := "- " + textutil.Truncate(strings.ReplaceAll(r.Document(), "\n", " "), 200)
		switch {
		case r.Consolidated != nil:
			consolidatedLines = append(consolidatedLines, line)
		case store.TierForAge(now-r.Item.CreatedTs) == store.RecencyTierRecent:
			recentLines = append(recentLines, line)
		default:
			olderLines = append(olderLines, line)
		}
	}

	return renderTier("## Memórias consolidadas", consolidatedLines),
		renderTier("## Memórias recentes", recentLines),
		renderTier("## Memórias antigas", olderLines)
}

func renderTier(title string, lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return title + "\n" + strings.Join(lines, "\n") + "\n"
}

func (b *Builder) patternsSection(ctx context.Context, ownerID string) string {
	patterns, err := b.store.ListPatterns(ctx, &store.FindPattern{
		OwnerID:       &ownerID,
		MinConfidence: patternMinConfidence,
		Limit:         patternLimit,
	})
	if err != nil {
		slog.WarnContext(ctx, "context pattern lookup failed", "owner_id", ownerID, "error", err)
		return ""
	}
	if len(patterns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Padrões observados\n")
	for _, p := range patterns {
		sb.WriteString(fmt.Sprintf("- %s (%.0f%%): %s\n", p.Name, p.Confidence*100, p.Description))
	}
	return sb.String()
}

// statsHeader summarizes the owner's history: total turns and first
// interaction date.
func (b *Builder) statsHeader(ctx context.Context, ownerID string) string {
	total, err := b.store.CountMemoryItems(ctx, ownerID)
	if err != nil || total == 0 {
		return ""
	}
	first, err := b.store.ListMemoryItems(ctx, &store.FindMemoryItem{
		OwnerID:   &ownerID,
		Ascending: true,
		Limit:     1,
	})
	if err != nil || len(first) == 0 {
		return fmt.Sprintf("Histórico: %d conversas.\n", total)
	}
	since := time.Unix(first[0].CreatedTs, 0).Format("2006-01-02")
	return fmt.Sprintf("Histórico: %d conversas desde %s.\n", total, since)
}

// estimateTokens approximates token count as ceil(runes / 4), good enough
// for budget governance.
func estimateTokens(s string) int {
	runes := len([]rune(s))
	return (runes + 3) / 4
}

// assemble joins non-empty sections under the budget. Layers are dropped
// lowest priority first; if the survivors still exceed budget, the lowest
// remaining layer is cut mid-text.
func assemble(header string, sections []section, budget int) (string, bool) {
	kept := make([]section, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.text) != "" {
			kept = append(kept, s)
		}
	}

	truncated := false
	for {
		total := estimateTokens(header)
		for _, s := range kept {
			total += estimateTokens(s.text)
		}
		if total <= budget || len(kept) == 0 {
			break
		}

		// Find the lowest-priority section.
		lowest := 0
		for i, s := range kept {
			if s.priority < kept[lowest].priority {
				lowest = i
			}
		}

		overflow := total - budget
		lowestTokens := estimateTokens(kept[lowest].text)
		if lowestTokens <= overflow {
			kept = append(kept[:lowest], kept[lowest+1:]...)
			truncated = true
			continue
		}
		// Cut the lowest survivor mid-text and stop; the ellipsis may
		// leave the estimate a token over, which is within tolerance.
		keepRunes := (lowestTokens - overflow) * 4
		kept[lowest].text = textutil.Truncate(kept[lowest].text, keepRunes)
		truncated = true
		break
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, s := range kept {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s.text)
	}
	return sb.String(), truncated
}
