// Package storetest provides an in-memory Driver for tests. Semantics
// mirror the SQL drivers: versioned fact upserts, owner-scoped searches,
// disjoint consolidation sources.
package storetest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

type FakeDriver struct {
	mu sync.Mutex

	nextID                 int64
	facts                  []*store.Fact
	items                  []*store.MemoryItem
	embeddings             map[int64][]float32
	consolidated           []*store.ConsolidatedMemory
	consolidatedEmbeddings map[int64][]float32
	patterns               []*store.Pattern

	// VectorSearchErr forces the vector path to fail, for fallback tests.
	VectorSearchErr error
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		embeddings:             map[int64][]float32{},
		consolidatedEmbeddings: map[int64][]float32{},
	}
}

func (d *FakeDriver) Migrate(context.Context) error { return nil }
func (d *FakeDriver) Close() error                  { return nil }

func (d *FakeDriver) id() int64 {
	d.nextID++
	return d.nextID
}

// AddPattern seeds a behavioral pattern.
func (d *FakeDriver) AddPattern(p *store.Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.ID = d.id()
	d.patterns = append(d.patterns, p)
}

func (d *FakeDriver) UpsertFact(_ context.Context, upsert *store.UpsertFact) (*store.Fact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	var cur *store.Fact
	for _, f := range d.facts {
		if f.Current && f.OwnerID == upsert.OwnerID && f.Category == upsert.Category &&
			f.FactType == upsert.FactType && f.Attribute == upsert.Attribute {
			cur = f
			break
		}
	}

	switch {
	case cur == nil:
		f := &store.Fact{
			ID: d.id(), OwnerID: upsert.OwnerID, Category: upsert.Category,
			FactType: upsert.FactType, Attribute: upsert.Attribute, Value: upsert.Value,
			Confidence: upsert.Confidence, Method: upsert.Method,
			SourceTurnID: upsert.SourceTurnID, Version: 1, Current: true,
			CreatedTs: now, UpdatedTs: now,
		}
		d.facts = append(d.facts, f)
		return f, nil

	case strings.EqualFold(strings.TrimSpace(cur.Value), strings.TrimSpace(upsert.Value)):
		if upsert.Confidence > cur.Confidence {
			cur.Confidence = upsert.Confidence
		}
		cur.UpdatedTs = now
		cur.SourceTurnID = upsert.SourceTurnID
		return cur, nil

	default:
		f := &store.Fact{
			ID: d.id(), OwnerID: upsert.OwnerID, Category: upsert.Category,
			FactType: upsert.FactType, Attribute: upsert.Attribute, Value: upsert.Value,
			Confidence: upsert.Confidence, Method: upsert.Method,
			SourceTurnID: upsert.SourceTurnID, Version: cur.Version + 1, Current: true,
			CreatedTs: now, UpdatedTs: now,
		}
		cur.Current = false
		cur.SupersededBy = &f.ID
		cur.UpdatedTs = now
		d.facts = append(d.facts, f)
		return f, nil
	}
}

func (d *FakeDriver) ListFacts(_ context.Context, find *store.FindFact) ([]*store.Fact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var list []*store.Fact
	for _, f := range d.facts {
		if find.ID != nil && f.ID != *find.ID {
			continue
		}
		if find.OwnerID != nil && f.OwnerID != *find.OwnerID {
			continue
		}
		if find.Category != nil && f.Category != *find.Category {
			continue
		}
		if find.FactType != nil && f.FactType != *find.FactType {
			continue
		}
		if find.Attribute != nil && f.Attribute != *find.Attribute {
			continue
		}
		if find.Version != nil && f.Version != *find.Version {
			continue
		}
		if find.CurrentOnly && !f.Current {
			continue
		}
		copied := *f
		list = append(list, &copied)
		if find.Limit > 0 && len(list) >= find.Limit {
			break
		}
	}
	return list, nil
}

func (d *FakeDriver) CreateMemoryItem(_ context.Context, create *store.MemoryItem, embedding []float32) (*store.MemoryItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	create.ID = d.id()
	d.items = append(d.items, create)
	d.embeddings[create.ID] = embedding
	return create, nil
}

func (d *FakeDriver) ListMemoryItems(_ context.Context, find *store.FindMemoryItem) ([]*store.MemoryItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var list []*store.MemoryItem
	for _, item := range d.items {
		if find.ID != nil && item.ID != *find.ID {
			continue
		}
		if find.UID != nil && item.UID != *find.UID {
			continue
		}
		if find.OwnerID != nil && item.OwnerID != *find.OwnerID {
			continue
		}
		if find.CreatedAfter != nil && item.CreatedTs < *find.CreatedAfter {
			continue
		}
		if find.CreatedBefore != nil && item.CreatedTs >= *find.CreatedBefore {
			continue
		}
		if find.Topic != nil && !containsString(item.Topics, *find.Topic) {
			continue
		}
		list = append(list, item)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if find.Ascending {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].CreatedTs > list[j].CreatedTs
	})
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *FakeDriver) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryItemWithScore, error) {
	if d.VectorSearchErr != nil {
		return nil, d.VectorSearchErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var results []*store.MemoryItemWithScore
	for _, item := range d.items {
		if item.OwnerID != opts.OwnerID {
			continue
		}
		if opts.CreatedAfter > 0 && item.CreatedTs < opts.CreatedAfter {
			continue
		}
		results = append(results, &store.MemoryItemWithScore{
			Item:  item,
			Score: cosine(opts.Vector, d.embeddings[item.ID]),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *FakeDriver) KeywordSearch(_ context.Context, opts *store.KeywordSearchOptions) ([]*store.MemoryItemWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := strings.ToLower(opts.Query)
	var results []*store.MemoryItemWithScore
	for _, item := range d.items {
		if item.OwnerID != opts.OwnerID {
			continue
		}
		if !strings.Contains(strings.ToLower(item.UserInput), query) &&
			!strings.Contains(strings.ToLower(item.AgentResponse), query) {
			continue
		}
		results = append(results, &store.MemoryItemWithScore{Item: item, Score: store.KeywordFallbackScore})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Item.CreatedTs > results[j].Item.CreatedTs })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *FakeDriver) LinkConsolidated(_ context.Context, ownerID string, itemIDs []int64, consolidatedID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkLocked(ownerID, itemIDs, consolidatedID)
	return nil
}

func (d *FakeDriver) linkLocked(ownerID string, itemIDs []int64, consolidatedID int64) {
	ids := map[int64]bool{}
	for _, id := range itemIDs {
		ids[id] = true
	}
	for _, item := range d.items {
		if item.OwnerID == ownerID && ids[item.ID] {
			id := consolidatedID
			item.ConsolidatedID = &id
		}
	}
}

func (d *FakeDriver) CountMemoryItems(_ context.Context, ownerID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, item := range d.items {
		if item.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (d *FakeDriver) ListActiveOwnerIDs(_ context.Context, cutoffTs int64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[string]bool{}
	var owners []string
	for _, item := range d.items {
		if item.CreatedTs >= cutoffTs && !seen[item.OwnerID] {
			seen[item.OwnerID] = true
			owners = append(owners, item.OwnerID)
		}
	}
	return owners, nil
}

func (d *FakeDriver) CreateConsolidatedMemory(_ context.Context, create *store.ConsolidatedMemory, embedding []float32) (*store.ConsolidatedMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := map[int64]bool{}
	for _, id := range create.SourceItemIDs {
		ids[id] = true
	}
	for _, item := range d.items {
		if item.OwnerID == create.OwnerID && ids[item.ID] && item.ConsolidatedID != nil {
			return nil, errors.Errorf("source item %d already consolidated", item.ID)
		}
	}

	create.ID = d.id()
	d.consolidated = append(d.consolidated, create)
	d.consolidatedEmbeddings[create.ID] = embedding
	d.linkLocked(create.OwnerID, create.SourceItemIDs, create.ID)
	return create, nil
}

func (d *FakeDriver) VectorSearchConsolidated(_ context.Context, opts *store.VectorSearchOptions) ([]*store.ConsolidatedMemoryWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var results []*store.ConsolidatedMemoryWithScore
	for _, cm := range d.consolidated {
		if cm.OwnerID != opts.OwnerID {
			continue
		}
		results = append(results, &store.ConsolidatedMemoryWithScore{
			Memory: cm,
			Score:  cosine(opts.Vector, d.consolidatedEmbeddings[cm.ID]),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *FakeDriver) ListConsolidatedMemories(_ context.Context, find *store.FindConsolidatedMemory) ([]*store.ConsolidatedMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var list []*store.ConsolidatedMemory
	for _, cm := range d.consolidated {
		if find.ID != nil && cm.ID != *find.ID {
			continue
		}
		if find.OwnerID != nil && cm.OwnerID != *find.OwnerID {
			continue
		}
		if find.Topic != nil && cm.Topic != *find.Topic {
			continue
		}
		list = append(list, cm)
		if find.Limit > 0 && len(list) >= find.Limit {
			break
		}
	}
	return list, nil
}

func (d *FakeDriver) ListPatterns(_ context.Context, find *store.FindPattern) ([]*store.Pattern, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var list []*store.Pattern
	for _, p := range d.patterns {
		if find.OwnerID != nil && p.OwnerID != *find.OwnerID {
			continue
		}
		if find.MinConfidence > 0 && p.Confidence < find.MinConfidence {
			continue
		}
		list = append(list, p)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Confidence != list[j].Confidence {
			return list[i].Confidence > list[j].Confidence
		}
		return list[i].Frequency > list[j].Frequency
	})
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *FakeDriver) EraseOwner(_ context.Context, ownerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	facts := d.facts[:0]
	for _, f := range d.facts {
		if f.OwnerID != ownerID {
			facts = append(facts, f)
		}
	}
	d.facts = facts

	items := d.items[:0]
	for _, item := range d.items {
		if item.OwnerID != ownerID {
			items = append(items, item)
		} else {
			delete(d.embeddings, item.ID)
		}
	}
	d.items = items

	consolidated := d.consolidated[:0]
	for _, cm := range d.consolidated {
		if cm.OwnerID != ownerID {
			consolidated = append(consolidated, cm)
		} else {
			delete(d.consolidatedEmbeddings, cm.ID)
		}
	}
	d.consolidated = consolidated

	patterns := d.patterns[:0]
	for _, p := range d.patterns {
		if p.OwnerID != ownerID {
			patterns = append(patterns, p)
		}
	}
	d.patterns = patterns
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
