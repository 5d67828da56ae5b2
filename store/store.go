package store

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
)

// factLockShards bounds the number of key mutexes; collisions only cost
// extra serialization, never correctness.
const factLockShards = 256

// Store provides database access to all raw objects, and owns the
// cross-cutting invariants the drivers cannot express alone: per-key
// serialization of fact upserts and owner-match verification of search
// results.
type Store struct {
	profile *profile.Profile
	driver  Driver
	metrics *metrics.Exporter

	factLocks [factLockShards]sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile, exporter *metrics.Exporter) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		metrics: exporter,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// EraseOwner hard-deletes all facts, memory items and consolidated
// memories for one owner. This is the right-to-erasure contract; there is
// no soft-delete variant.
func (s *Store) EraseOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("owner id required")
	}
	return s.driver.EraseOwner(ctx, ownerID)
}

// lockFactKey serializes writers of one (owner, category, type, attribute)
// key. Returns the unlock function.
func (s *Store) lockFactKey(ownerID, category, factType, attribute string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(category))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(factType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(attribute))
	mu := &s.factLocks[h.Sum32()%factLockShards]
	mu.Lock()
	return mu.Unlock
}
