package store

import (
	"context"

	"github.com/pkg/errors"
)

// ExtractionMethod records which pipeline produced a fact.
type ExtractionMethod string

const (
	ExtractionMethodLLM  ExtractionMethod = "llm"
	ExtractionMethodRule ExtractionMethod = "rule"
)

// Fact is one versioned statement about an owner, keyed hierarchically by
// (category, fact type, attribute). Updates never overwrite in place: a new
// version is inserted and the old row's current flag is flipped, preserving
// the full history.
type Fact struct {
	ID           int64
	OwnerID      string
	Category     string // coarse domain, e.g. "relacionamento", "trabalho"
	FactType     string // concrete instance, e.g. "esposa", "filho#1"
	Attribute    string // e.g. "nome", "aniversario"
	Value        string
	Confidence   float32
	Method       ExtractionMethod
	SourceTurnID int64
	Version      int32
	Current      bool
	SupersededBy *int64
	CreatedTs    int64
	UpdatedTs    int64
}

// FindFact specifies the conditions for finding facts.
type FindFact struct {
	ID          *int64
	OwnerID     *string
	Category    *string
	FactType    *string
	Attribute   *string
	CurrentOnly bool
	Version     *int32
	Limit       int
}

// UpsertFact is the request for a versioned fact write.
type UpsertFact struct {
	OwnerID      string
	Category     string
	FactType     string
	Attribute    string
	Value        string
	Confidence   float32
	Method       ExtractionMethod
	SourceTurnID int64
}

// Validate checks the upsert request.
func (u *UpsertFact) Validate() error {
	if u.OwnerID == "" {
		return errors.New("owner id required")
	}
	if u.Category == "" || u.FactType == "" || u.Attribute == "" {
		return errors.Errorf("incomplete fact key: category=%q type=%q attribute=%q", u.Category, u.FactType, u.Attribute)
	}
	if u.Value == "" {
		return errors.New("fact value required")
	}
	if u.Confidence < 0 || u.Confidence > 1 {
		return errors.Errorf("confidence out of range: %f", u.Confidence)
	}
	return nil
}

// UpsertFact writes a fact with versioning semantics. Concurrent upserts
// for the same (owner, category, type, attribute) key are serialized here
// so that exactly one current row can exist per key; the driver performs
// the flip-old-insert-new sequence inside a single transaction.
func (s *Store) UpsertFact(ctx context.Context, upsert *UpsertFact) (*Fact, error) {
	if err := upsert.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lockFactKey(upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute)
	defer unlock()

	return s.driver.UpsertFact(ctx, upsert)
}

// ListFacts lists facts matching the find conditions. A nil OwnerID is
// rejected: every fact read is owner-scoped.
func (s *Store) ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error) {
	if find.OwnerID == nil || *find.OwnerID == "" {
		return nil, errors.New("owner id required for fact reads")
	}
	return s.driver.ListFacts(ctx, find)
}
