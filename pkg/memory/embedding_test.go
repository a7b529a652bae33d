package memory

import (
	"context"
	"hash/fnv"
)

// mockEmbeddingProvider generates deterministic embeddings: a fixed bias
// component keeps all pairs positively correlated while rune-bigram buckets
// pull texts sharing substrings closer together.
type mockEmbeddingProvider struct {
	dimension int
	available bool
	calls     int
}

func newMockEmbeddingProvider(dimension int) *mockEmbeddingProvider {
	return &mockEmbeddingProvider{dimension: dimension, available: true}
}

func (p *mockEmbeddingProvider) Dimension() int {
	return p.dimension
}

func (p *mockEmbeddingProvider) IsAvailable() bool {
	return p.available
}

func (p *mockEmbeddingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.calls++

	embedding := make([]float32, p.dimension)
	embedding[0] = 4.0

	runes := []rune(text)
	for i := 0; i+1 < len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+2])))
		bucket := int(h.Sum32())%(p.dimension-1) + 1
		embedding[bucket]++
	}
	return embedding, nil
}
