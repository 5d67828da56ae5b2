package store

import "context"

// Driver is the storage backend interface. Implementations live under
// store/db and must apply owner filters in SQL, never in application code.
type Driver interface {
	// Facts
	UpsertFact(ctx context.Context, upsert *UpsertFact) (*Fact, error)
	ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error)

	// Memory items
	CreateMemoryItem(ctx context.Context, create *MemoryItem, embedding []float32) (*MemoryItem, error)
	ListMemoryItems(ctx context.Context, find *FindMemoryItem) ([]*MemoryItem, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryItemWithScore, error)
	KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*MemoryItemWithScore, error)
	LinkConsolidated(ctx context.Context, ownerID string, itemIDs []int64, consolidatedID int64) error
	CountMemoryItems(ctx context.Context, ownerID string) (int, error)
	ListActiveOwnerIDs(ctx context.Context, cutoffTs int64) ([]string, error)

	// Consolidated memories
	CreateConsolidatedMemory(ctx context.Context, create *ConsolidatedMemory, embedding []float32) (*ConsolidatedMemory, error)
	ListConsolidatedMemories(ctx context.Context, find *FindConsolidatedMemory) ([]*ConsolidatedMemory, error)
	VectorSearchConsolidated(ctx context.Context, opts *VectorSearchOptions) ([]*ConsolidatedMemoryWithScore, error)

	// Patterns (read-only, produced externally)
	ListPatterns(ctx context.Context, find *FindPattern) ([]*Pattern, error)

	// Owner lifecycle
	EraseOwner(ctx context.Context, ownerID string) error

	Migrate(ctx context.Context) error
	Close() error
}
