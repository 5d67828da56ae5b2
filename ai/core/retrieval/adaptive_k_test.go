package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai"
)

func turns(n int) []ai.Turn {
	out := make([]ai.Turn, n)
	for i := range out {
		out[i] = ai.Turn{Role: "user", Content: "oi"}
	}
	return out
}

func TestAdaptiveK(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		dialogue []ai.Turn
		history  int
		want     int
	}{
		{"base", "como foi meu dia no trabalho", nil, 100, 5},
		{"short query shrinks", "oi", nil, 100, 4},
		{"long dialogue grows", "como foi meu dia no trabalho", turns(12), 100, 7},
		{"wordy query grows", strings.Repeat("palavra ", 25), nil, 100, 7},
		{"entities grow", "como estão João e Maria e Pedro hoje em dia", nil, 100, 7},
		{"everything maxes out", "Conte tudo sobre João e Maria e Pedro e Carla e " + strings.Repeat("mais detalhes ", 10), turns(15), 100, 12},
		{"small history caps growth", strings.Repeat("palavra ", 25), turns(12), 5, 5},
		{"small history keeps shrink", "oi", nil, 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, adaptiveK(tt.query, tt.dialogue, tt.history))
		})
	}
}

// The bound holds for arbitrary inputs, not just the table above.
func TestAdaptiveKBounds(t *testing.T) {
	queries := []string{
		"",
		"a",
		strings.Repeat("João Maria Pedro Carla Bruno Diana ", 20),
		strings.Repeat("palavra ", 200),
	}
	for _, q := range queries {
		for _, dialogue := range [][]ai.Turn{nil, turns(5), turns(50)} {
			for _, history := range []int{0, 10, 10000} {
				k := adaptiveK(q, dialogue, history)
				require.GreaterOrEqual(t, k, kMin)
				require.LessOrEqual(t, k, kMax)
			}
		}
	}
}

func TestBroadK(t *testing.T) {
	require.Equal(t, 15, broadK(3))
	require.Equal(t, 15, broadK(5))
	require.Equal(t, 18, broadK(6))
	require.Equal(t, 36, broadK(12))
}
