package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// ConsolidatedMemory is a synthesized summary spanning many memory items
// that share a topic and time window. Consolidation is additive: source
// items stay retrievable, the summary is merely preferred at rank time.
type ConsolidatedMemory struct {
	ID            int64
	UID           string
	OwnerID       string
	Topic         string
	PeriodStart   int64
	PeriodEnd     int64
	SourceCount   int
	SourceItemIDs []int64
	Summary       string
	AvgIntensity  float32
	AvgTension    float32
	AvgDepth      float32
	CreatedTs     int64
}

// ConsolidatedMemoryWithScore is a summary vector search result.
type ConsolidatedMemoryWithScore struct {
	Memory *ConsolidatedMemory
	Score  float32 // similarity (0-1, higher is more similar)
}

// FindConsolidatedMemory specifies the conditions for finding consolidated memories.
type FindConsolidatedMemory struct {
	ID      *int64
	OwnerID *string
	Topic   *string
	Limit   int
}

// CreateConsolidatedMemory writes one summary and back-links its sources in
// a single driver transaction. The driver rejects the write when any source
// item is already covered by another summary for the same (owner, topic,
// period) window, keeping source sets disjoint.
func (s *Store) CreateConsolidatedMemory(ctx context.Context, create *ConsolidatedMemory, embedding []float32) (*ConsolidatedMemory, error) {
	if create.OwnerID == "" {
		return nil, errors.New("owner id required")
	}
	if len(create.SourceItemIDs) == 0 {
		return nil, errors.New("consolidated memory requires source items")
	}
	if create.SourceCount == 0 {
		create.SourceCount = len(create.SourceItemIDs)
	}
	return s.driver.CreateConsolidatedMemory(ctx, create, embedding)
}

// ListConsolidatedMemories lists summaries for one owner.
func (s *Store) ListConsolidatedMemories(ctx context.Context, find *FindConsolidatedMemory) ([]*ConsolidatedMemory, error) {
	if find.OwnerID == nil || *find.OwnerID == "" {
		return nil, errors.New("owner id required for consolidated memory reads")
	}
	return s.driver.ListConsolidatedMemories(ctx, find)
}

// VectorSearchConsolidated performs owner-scoped similarity search over
// summary embeddings, so a summary can surface even when none of its
// source items make the candidate pool. Results get the same owner
// verification as item search.
func (s *Store) VectorSearchConsolidated(ctx context.Context, opts *VectorSearchOptions) ([]*ConsolidatedMemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	results, err := s.driver.VectorSearchConsolidated(ctx, opts)
	if err != nil {
		return nil, err
	}
	clean := results[:0]
	for _, r := range results {
		if r.Memory == nil {
			continue
		}
		if r.Memory.OwnerID != opts.OwnerID {
			slog.ErrorContext(ctx, "isolation violation: dropping mismatched-owner summary",
				"requested_owner", opts.OwnerID,
				"stored_owner", r.Memory.OwnerID,
				"consolidated_id", r.Memory.ID,
			)
			if s.metrics != nil {
				s.metrics.IsolationViolation()
			}
			continue
		}
		clean = append(clean, r)
	}
	return clean, nil
}
