package store

import (
	"context"

	"github.com/pkg/errors"
)

// Pattern is a precomputed behavioral signal produced outside this engine.
// The context assembler consumes patterns read-only; nothing here creates
// or scores them.
type Pattern struct {
	ID          int64
	OwnerID     string
	Name        string
	Description string
	Frequency   int
	Confidence  float32
	UpdatedTs   int64
}

// FindPattern specifies the conditions for finding patterns.
type FindPattern struct {
	OwnerID       *string
	MinConfidence float32
	Limit         int
}

// ListPatterns lists behavioral patterns for one owner, highest confidence
// first.
func (s *Store) ListPatterns(ctx context.Context, find *FindPattern) ([]*Pattern, error) {
	if find.OwnerID == nil || *find.OwnerID == "" {
		return nil, errors.New("owner id required for pattern reads")
	}
	return s.driver.ListPatterns(ctx, find)
}
