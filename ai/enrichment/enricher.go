// Package enrichment expands short or pronoun-heavy queries with textual
// referents before embedding. Pure vector similarity under-weights "como
// está ela?"; injecting recent turns, known fact values and topic labels
// compensates.
package enrichment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/store"
)

// recentUserTurns bounds the dialogue window injected into the query.
const recentUserTurns = 5

// Enricher builds the enriched query text used for embedding.
type Enricher struct {
	store *store.Store
}

func NewEnricher(s *store.Store) *Enricher {
	return &Enricher{store: s}
}

// Enrich concatenates the raw query, the last user turns, fact values for
// names detected in the query, and detected topic labels. Fact lookups
// failing is not fatal; the query degrades to its textual parts.
func (e *Enricher) Enrich(ctx context.Context, ownerID, rawQuery string, recentDialogue []ai.Turn) string {
	var parts []string
	parts = append(parts, rawQuery)

	for _, t := range ai.UserTurns(recentDialogue, recentUserTurns) {
		parts = append(parts, t.Content)
	}

	if facts := e.relatedFactValues(ctx, ownerID, rawQuery); len(facts) > 0 {
		parts = append(parts, facts...)
	}

	if topics := textutil.DetectTopics(rawQuery); len(topics) > 0 {
		parts = append(parts, strings.Join(topics, " "))
	}

	return strings.Join(parts, "\n")
}

// relatedFactValues returns "type atributo: valor" lines for current facts
// whose value matches a name detected in the query, plus facts in the
// query's detected topics' home categories. Names are the strong signal;
// topic-category facts fill in when the query names nobody.
func (e *Enricher) relatedFactValues(ctx context.Context, ownerID, rawQuery string) []string {
	facts, err := e.store.ListFacts(ctx, &store.FindFact{
		OwnerID:     &ownerID,
		CurrentOnly: true,
		Limit:       100,
	})
	if err != nil {
		slog.WarnContext(ctx, "enrichment fact lookup failed", "owner_id", ownerID, "error", err)
		return nil
	}
	if len(facts) == 0 {
		return nil
	}

	names := textutil.ExtractNames(rawQuery)
	topics := textutil.DetectTopics(rawQuery)

	var lines []string
	for _, f := range facts {
		include := false
		for _, name := range names {
			if strings.EqualFold(f.Value, name) || strings.Contains(strings.ToLower(f.Value), strings.ToLower(name)) {
				include = true
				break
			}
		}
		if !include {
			for _, topic := range topics {
				if categoryForTopic(topic) == f.Category {
					include = true
					break
				}
			}
		}
		if include {
			lines = append(lines, f.FactType+" "+f.Attribute+": "+f.Value)
		}
	}
	return lines
}

// categoryForTopic maps retrieval topics onto fact categories where the
// taxonomies overlap.
func categoryForTopic(topic string) string {
	switch topic {
	case "familia", "relacionamento":
		return "relacionamento"
	case "trabalho":
		return "trabalho"
	case "saude":
		return "saude"
	default:
		return ""
	}
}
