// Package retrieval implements two-stage memory retrieval: a broad
// owner-scoped vector search followed by metadata-driven reranking with
// named multiplicative boosts. The result size adapts to query and
// history signals.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/enrichment"
	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/store"
)

// Result is one retrieved memory, best first. Exactly one of Item or
// Consolidated is set; a consolidated result stands in for the source
// items it covers.
type Result struct {
	Item         *store.MemoryItem
	Consolidated *store.ConsolidatedMemory
	Score        float32
}

// Document renders the retrievable text of the result.
func (r *Result) Document() string {
	if r.Consolidated != nil {
		return r.Consolidated.Summary
	}
	return r.Item.Document()
}

// Options tune one retrieval call.
type Options struct {
	OwnerID        string
	RawQuery       string
	RecentDialogue []ai.Turn
	KOverride      int // 0 means adaptive
}

// Retriever is the two-stage retriever/reranker.
type Retriever struct {
	store     *store.Store
	embedding embedding.Service
	enricher  *enrichment.Enricher
	metrics   *metrics.Exporter
	boostMode string // recency, balanced, archival
}

func NewRetriever(s *store.Store, emb embedding.Service, enr *enrichment.Enricher, exporter *metrics.Exporter, boostMode string) *Retriever {
	if boostMode == "" {
		boostMode = "balanced"
	}
	return &Retriever{
		store:     s,
		embedding: emb,
		enricher:  enr,
		metrics:   exporter,
		boostMode: boostMode,
	}
}

// Retrieve returns at most k memories for the query, reranked best first.
// Vector search failure degrades to keyword search over the relational
// mirror; the caller always gets a result set, possibly sparse.
func (r *Retriever) Retrieve(ctx context.Context, opts *Options) ([]*Result, error) {
	historySize, err := r.store.CountMemoryItems(ctx, opts.OwnerID)
	if err != nil {
		slog.WarnContext(ctx, "history size lookup failed", "owner_id", opts.OwnerID, "error", err)
		historySize = 0
	}

	k := opts.KOverride
	if k <= 0 {
		k = adaptiveK(opts.RawQuery, opts.RecentDialogue, historySize)
	}
	if r.metrics != nil {
		r.metrics.ObserveAdaptiveK(k)
	}

	candidates, summaries, vectorErr := r.vectorCandidates(ctx, opts, k)
	if vectorErr != nil {
		slog.WarnContext(ctx, "vector retrieval failed, falling back to keyword search",
			"owner_id", opts.OwnerID,
			"error", vectorErr,
		)
		if r.metrics != nil {
			r.metrics.RetrievalFallback()
		}
		return r.keywordFallback(ctx, opts, k)
	}

	q := &queryFeatures{
		topics:   textutil.DetectTopics(opts.RawQuery),
		entities: textutil.ExtractNames(opts.RawQuery),
		mode:     r.boostMode,
		now:      time.Now(),
	}

	results := r.rerank(ctx, opts.OwnerID, candidates, summaries, q)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// vectorCandidates runs stage 1: embed the enriched query once, then broad
// owner-scoped similarity search over items and over summary embeddings.
// A summary can therefore surface on its own similarity even when none of
// its source items make the pool.
func (r *Retriever) vectorCandidates(ctx context.Context, opts *Options, k int) ([]*store.MemoryItemWithScore, []*store.ConsolidatedMemoryWithScore, error) {
	enriched := r.enricher.Enrich(ctx, opts.OwnerID, opts.RawQuery, opts.RecentDialogue)

	vector, err := r.embedding.Embed(ctx, enriched)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := r.store.VectorSearch(ctx, &store.VectorSearchOptions{
		OwnerID: opts.OwnerID,
		Vector:  vector,
		Limit:   broadK(k),
	})
	if err != nil {
		return nil, nil, err
	}

	summaries, err := r.store.VectorSearchConsolidated(ctx, &store.VectorSearchOptions{
		OwnerID: opts.OwnerID,
		Vector:  vector,
		Limit:   k,
	})
	if err != nil {
		// Item candidates are already in hand; missing summaries only
		// narrows the result set.
		slog.WarnContext(ctx, "consolidated vector search failed",
			"owner_id", opts.OwnerID,
			"error", err,
		)
		summaries = nil
	}
	return candidates, summaries, nil
}

// rerank scores candidates with the boost chain and substitutes
// consolidated summaries for the source items they cover. Sources are
// never deleted, merely displaced from this result set when their summary
// is present. Direct summary hits from the consolidated index are merged
// in, one result per summary, at the better of the two scores.
func (r *Retriever) rerank(ctx context.Context, ownerID string, candidates []*store.MemoryItemWithScore, summaries []*store.ConsolidatedMemoryWithScore, q *queryFeatures) []*Result {
	var results []*Result
	bestBySummary := map[int64]float32{}

	for _, c := range candidates {
		score := rerankScore(c.Score, c.Item, q)
		if c.Item.ConsolidatedID != nil {
			id := *c.Item.ConsolidatedID
			if score > bestBySummary[id] {
				bestBySummary[id] = score
			}
			continue
		}
		results = append(results, &Result{Item: c.Item, Score: score})
	}

	for _, s := range summaries {
		score := s.Score * boostConsolidated
		if viaSource, ok := bestBySummary[s.Memory.ID]; ok {
			if viaSource*boostConsolidated > score {
				score = viaSource * boostConsolidated
			}
			delete(bestBySummary, s.Memory.ID)
		}
		results = append(results, &Result{Consolidated: s.Memory, Score: score})
	}

	for id, score := range bestBySummary {
		cm, err := r.lookupConsolidated(ctx, ownerID, id)
		if err != nil || cm == nil {
			slog.WarnContext(ctx, "consolidated lookup failed, keeping source items",
				"owner_id", ownerID,
				"consolidated_id", id,
				"error", err,
			)
			// Fall back to the raw sources for this summary.
			for _, c := range candidates {
				if c.Item.ConsolidatedID != nil && *c.Item.ConsolidatedID == id {
					results = append(results, &Result{Item: c.Item, Score: rerankScore(c.Score, c.Item, q)})
				}
			}
			continue
		}
		results = append(results, &Result{Consolidated: cm, Score: score * boostConsolidated})
	}

	return results
}

func (r *Retriever) lookupConsolidated(ctx context.Context, ownerID string, id int64) (*store.ConsolidatedMemory, error) {
	list, err := r.store.ListConsolidatedMemories(ctx, &store.FindConsolidatedMemory{
		ID:      &id,
		OwnerID: &ownerID,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// keywordFallback is the degraded path when the vector side is down:
// keyword matches over the relational mirror, recency ordered, flat score.
func (r *Retriever) keywordFallback(ctx context.Context, opts *Options, k int) ([]*Result, error) {
	// A single significant keyword keeps the LIKE pattern useful; a full
	// phrase would almost never match verbatim.
	query := opts.RawQuery
	if keywords := textutil.Keywords(opts.RawQuery, 1); len(keywords) > 0 {
		query = keywords[0]
	}

	matches, err := r.store.KeywordSearch(ctx, &store.KeywordSearchOptions{
		OwnerID: opts.OwnerID,
		Query:   query,
		Limit:   k,
	})
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, &Result{Item: m.Item, Score: m.Score})
	}
	return results, nil
}
