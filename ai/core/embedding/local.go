package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// localService is a deterministic bag-of-words embedder for development
// and tests: tokens hash into buckets, the vector is L2-normalized.
// Retrieval quality is keyword-grade, which is exactly the degraded
// behavior a keyless instance should have.
type localService struct {
	dims int
}

// NewLocalService creates the offline embedder used when no embedding
// provider is configured.
func NewLocalService(dims int) Service {
	if dims <= 0 {
		dims = 1024
	}
	return &localService{dims: dims}
}

func (s *localService) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)
	for _, token := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(token) < 2 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%uint32(s.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (s *localService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *localService) Dimensions() int {
	return s.dims
}
