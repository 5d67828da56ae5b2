package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// KeywordFallbackScore is the flat nominal score assigned to keyword
// fallback matches, which carry no real similarity signal.
const KeywordFallbackScore float32 = 0.5

// RecencyTier is a coarse age bucket used for temporal boosting.
type RecencyTier string

const (
	RecencyTierRecent       RecencyTier = "recent"       // <= 30 days
	RecencyTierMedium       RecencyTier = "medium"       // <= 90 days
	RecencyTierOld          RecencyTier = "old"          // older
	RecencyTierConsolidated RecencyTier = "consolidated" // synthesized summaries
)

// Recency tier age thresholds in seconds.
const (
	recentMaxAge int64 = 30 * 24 * 3600
	mediumMaxAge int64 = 90 * 24 * 3600
)

// TierForAge maps an age in seconds to its recency tier.
func TierForAge(ageSeconds int64) RecencyTier {
	switch {
	case ageSeconds <= recentMaxAge:
		return RecencyTierRecent
	case ageSeconds <= mediumMaxAge:
		return RecencyTierMedium
	default:
		return RecencyTierOld
	}
}

// MemoryItem is one stored conversational turn with retrieval metadata.
// Items are immutable after creation except for the consolidation
// back-link set when a summary later covers them.
type MemoryItem struct {
	ID             int64
	UID            string // stable identifier used as the vector index key
	OwnerID        string
	UserInput      string
	AgentResponse  string
	CreatedTs      int64
	DayBucket      string // e.g. "2026-08-28"
	WeekBucket     string // e.g. "2026-W35"
	MonthBucket    string // e.g. "2026-08"
	RecencyTier    RecencyTier
	Intensity      float32 // affective charge + tension, roughly [0, 2]
	Tension        float32
	Depth          float32 // reflective depth of the exchange
	HasTension     bool    // unresolved internal conflict flag
	Topics         []string
	Entities       []string // names mentioned, cross-referenced with fact names
	ConsolidatedID *int64   // back-link to the summary that covers this item
}

// Document renders the text that gets embedded and searched.
func (m *MemoryItem) Document() string {
	return "Input: " + m.UserInput + "\nResposta: " + m.AgentResponse
}

// FindMemoryItem specifies the conditions for finding memory items.
type FindMemoryItem struct {
	ID            *int64
	UID           *string
	OwnerID       *string
	CreatedAfter  *int64
	CreatedBefore *int64
	Topic         *string
	// Filter holds an optional CEL expression evaluated against row
	// metadata (topic, recency_tier, created_ts, intensity).
	Filter string
	// Ascending orders oldest first instead of the default newest first.
	Ascending bool
	Limit     int
	Offset    int
}

// MemoryItemWithScore is a vector search result with similarity score.
type MemoryItemWithScore struct {
	Item  *MemoryItem
	Score float32 // similarity (0-1, higher is more similar)
}

// VectorSearchOptions are the options for memory vector search.
type VectorSearchOptions struct {
	OwnerID      string
	Vector       []float32
	Limit        int
	CreatedAfter int64 // optional, unix seconds
}

// Validate validates the vector search options.
func (o *VectorSearchOptions) Validate() error {
	if o.OwnerID == "" {
		return errors.New("owner id required")
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 15
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// KeywordSearchOptions are the options for the relational fallback search.
type KeywordSearchOptions struct {
	OwnerID string
	Query   string
	Limit   int
}

// CreateMemoryItem stores one turn in the relational mirror and in the
// vector index (via the driver's embedding column).
func (s *Store) CreateMemoryItem(ctx context.Context, create *MemoryItem, embedding []float32) (*MemoryItem, error) {
	if create.OwnerID == "" {
		return nil, errors.New("owner id required")
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding required")
	}
	return s.driver.CreateMemoryItem(ctx, create, embedding)
}

// GetMemoryItem fetches one item by id, owner-scoped.
func (s *Store) GetMemoryItem(ctx context.Context, ownerID string, id int64) (*MemoryItem, error) {
	if ownerID == "" {
		return nil, errors.New("owner id required")
	}
	list, err := s.driver.ListMemoryItems(ctx, &FindMemoryItem{OwnerID: &ownerID, ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListMemoryItems lists items for one owner, optionally narrowed by a CEL
// metadata filter evaluated in-process over the candidate rows.
func (s *Store) ListMemoryItems(ctx context.Context, find *FindMemoryItem) ([]*MemoryItem, error) {
	if find.OwnerID == nil || *find.OwnerID == "" {
		return nil, errors.New("owner id required for memory reads")
	}
	items, err := s.driver.ListMemoryItems(ctx, find)
	if err != nil {
		return nil, err
	}
	if find.Filter == "" {
		return items, nil
	}
	program, err := CompileMemoryFilter(find.Filter)
	if err != nil {
		return nil, err
	}
	filtered := make([]*MemoryItem, 0, len(items))
	for _, item := range items {
		ok, err := program.Match(item)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// VectorSearch performs owner-scoped similarity search. The owner filter is
// applied by the driver at the storage layer; results are verified again
// here and any mismatching row is dropped and counted as an isolation
// violation rather than returned.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryItemWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	results, err := s.driver.VectorSearch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.enforceOwner(ctx, opts.OwnerID, results), nil
}

// KeywordSearch is the degraded fallback over the relational mirror,
// scoped to one owner and ordered by recency.
func (s *Store) KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*MemoryItemWithScore, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("owner id required")
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	results, err := s.driver.KeywordSearch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.enforceOwner(ctx, opts.OwnerID, results), nil
}

// enforceOwner drops any result whose stored owner does not match the
// requested owner. Such a row indicates a storage-layer defect; it is
// logged loudly and surfaced on the isolation violation counter, never
// returned to the caller.
func (s *Store) enforceOwner(ctx context.Context, ownerID string, results []*MemoryItemWithScore) []*MemoryItemWithScore {
	clean := results[:0]
	for _, r := range results {
		if r.Item == nil {
			continue
		}
		if r.Item.OwnerID != ownerID {
			slog.ErrorContext(ctx, "isolation violation: dropping mismatched-owner result",
				"requested_owner", ownerID,
				"stored_owner", r.Item.OwnerID,
				"item_id", r.Item.ID,
			)
			if s.metrics != nil {
				s.metrics.IsolationViolation()
			}
			continue
		}
		clean = append(clean, r)
	}
	return clean
}

// LinkConsolidated sets the consolidation back-link on source items.
// This is the only mutation a memory item ever receives.
func (s *Store) LinkConsolidated(ctx context.Context, ownerID string, itemIDs []int64, consolidatedID int64) error {
	if ownerID == "" {
		return errors.New("owner id required")
	}
	return s.driver.LinkConsolidated(ctx, ownerID, itemIDs, consolidatedID)
}

// CountMemoryItems counts stored turns for one owner.
func (s *Store) CountMemoryItems(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, errors.New("owner id required")
	}
	return s.driver.CountMemoryItems(ctx, ownerID)
}

// ListActiveOwnerIDs returns owners with at least one turn since cutoff.
func (s *Store) ListActiveOwnerIDs(ctx context.Context, cutoffTs int64) ([]string, error) {
	return s.driver.ListActiveOwnerIDs(ctx, cutoffTs)
}
