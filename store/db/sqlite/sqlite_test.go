package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 0.25, 0}
	blob, err := embeddingToBlob(vec)
	require.NoError(t, err)

	decoded, err := blobToEmbedding(blob)
	require.NoError(t, err)
	require.Equal(t, vec, decoded)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"dimension mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestListRoundTrip(t *testing.T) {
	require.Equal(t, "a,b,c", joinList([]string{"a", "b", "c"}))
	require.Equal(t, []string{"a", "b", "c"}, splitList("a,b,c"))
	require.Nil(t, splitList(""))
}

func TestIDsRoundTrip(t *testing.T) {
	encoded, err := joinIDs([]int64{1, 42, 9000})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 42, 9000}, splitIDs(encoded))
	require.Nil(t, splitIDs(""))
	require.Nil(t, splitIDs("not json"))
}
