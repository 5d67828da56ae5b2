package retrieval

import (
	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/internal/textutil"
)

// Adaptive k policy bounds.
const (
	kBase = 5
	kMin  = 3
	kMax  = 12

	// broadMultiplier and broadFloor size the stage-1 candidate pool.
	broadMultiplier = 3
	broadFloor      = 15

	// smallHistoryTurns marks owners with too little history for a large k.
	smallHistoryTurns = 20
)

// adaptiveK sizes the final result set from query and history signals.
// Longer dialogues and wordier, name-heavy queries earn a larger k; short
// queries shrink it, and owners with a sparse history never grow past the
// base. The result always lands in [kMin, kMax].
func adaptiveK(rawQuery string, recentDialogue []ai.Turn, ownerHistorySize int) int {
	k := kBase

	if len(recentDialogue) > 10 {
		k += 2
	}

	words := textutil.WordCount(rawQuery)
	switch {
	case words > 20:
		k += 2
	case words < 5:
		k--
	}

	if entities := textutil.ExtractNames(rawQuery); len(entities) > 1 {
		k += len(entities) - 1
	}

	// A sparse history cannot fill a large result set with distinct,
	// relevant memories; hold such owners at the base size.
	if ownerHistorySize < smallHistoryTurns && k > kBase {
		k = kBase
	}

	if k < kMin {
		k = kMin
	}
	if k > kMax {
		k = kMax
	}
	return k
}

// broadK sizes the stage-1 candidate pool from the final k.
func broadK(k int) int {
	if b := broadMultiplier * k; b > broadFloor {
		return b
	}
	return broadFloor
}
