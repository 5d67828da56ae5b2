package retrieval

import (
	"time"

	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/store"
)

// Boost magnitudes. Entity overlap is deliberately the strongest factor:
// a name match is the most reliable signal of relevance, so it must
// outweigh every other boost.
const (
	boostTemporalRecent  float32 = 1.2
	boostTemporalMedium  float32 = 1.0
	boostTemporalOld     float32 = 0.9
	boostConsolidated    float32 = 1.25
	boostEmotionalMild   float32 = 1.15
	boostEmotionalStrong float32 = 1.3
	boostTopic           float32 = 1.2
	boostEntity          float32 = 1.5
	boostDepth           float32 = 1.1
	boostTension         float32 = 1.1

	emotionalMildThreshold   float32 = 0.6
	emotionalStrongThreshold float32 = 1.0
	depthThreshold           float32 = 0.7

	// Every factor stays inside these bounds regardless of mode.
	boostFloor   float32 = 0.5
	boostCeiling float32 = 1.5
)

// queryFeatures is what the boosts read from the query. Boosts never
// re-parse raw text; everything is precomputed once.
type queryFeatures struct {
	topics   []string
	entities []string
	mode     string // recency, balanced, archival
	now      time.Time
}

// boostFunc is one independent, named, clamped multiplier.
type boostFunc func(item *store.MemoryItem, q *queryFeatures) float32

// boosts is the ordered list folded over the base similarity score.
var boosts = []boostFunc{
	temporalBoost,
	emotionalBoost,
	topicBoost,
	entityBoost,
	depthBoost,
	tensionBoost,
}

// rerankScore folds every boost over the base similarity.
func rerankScore(base float32, item *store.MemoryItem, q *queryFeatures) float32 {
	score := base
	for _, boost := range boosts {
		score *= clampBoost(boost(item, q))
	}
	return score
}

func clampBoost(factor float32) float32 {
	if factor < boostFloor {
		return boostFloor
	}
	if factor > boostCeiling {
		return boostCeiling
	}
	return factor
}

// temporalBoost weighs item age by tier and mode. Consolidated summaries
// get their own factor so they outrank the sources they cover.
func temporalBoost(item *store.MemoryItem, q *queryFeatures) float32 {
	tier := item.RecencyTier
	if tier != store.RecencyTierConsolidated {
		// Tiers are computed at write time and go stale; recompute from
		// age so an item stored 4 months ago ranks by what it is now.
		tier = store.TierForAge(q.now.Unix() - item.CreatedTs)
	}

	switch q.mode {
	case "recency":
		switch tier {
		case store.RecencyTierConsolidated:
			return boostConsolidated
		case store.RecencyTierRecent:
			return 1.5
		case store.RecencyTierMedium:
			return 1.0
		default:
			return 0.7
		}
	case "archival":
		switch tier {
		case store.RecencyTierConsolidated:
			return boostConsolidated
		case store.RecencyTierRecent:
			return 0.9
		case store.RecencyTierMedium:
			return 1.0
		default:
			return 1.2
		}
	default: // balanced
		switch tier {
		case store.RecencyTierConsolidated:
			return boostConsolidated
		case store.RecencyTierRecent:
			return boostTemporalRecent
		case store.RecencyTierMedium:
			return boostTemporalMedium
		default:
			return boostTemporalOld
		}
	}
}

func emotionalBoost(item *store.MemoryItem, _ *queryFeatures) float32 {
	switch {
	case item.Intensity > emotionalStrongThreshold:
		return boostEmotionalStrong
	case item.Intensity > emotionalMildThreshold:
		return boostEmotionalMild
	default:
		return 1.0
	}
}

func topicBoost(item *store.MemoryItem, q *queryFeatures) float32 {
	if textutil.Intersects(q.topics, item.Topics) {
		return boostTopic
	}
	return 1.0
}

func entityBoost(item *store.MemoryItem, q *queryFeatures) float32 {
	if textutil.Intersects(q.entities, item.Entities) {
		return boostEntity
	}
	return 1.0
}

func depthBoost(item *store.MemoryItem, _ *queryFeatures) float32 {
	if item.Depth > depthThreshold {
		return boostDepth
	}
	return 1.0
}

func tensionBoost(item *store.MemoryItem, _ *queryFeatures) float32 {
	if item.HasTension {
		return boostTension
	}
	return 1.0
}
