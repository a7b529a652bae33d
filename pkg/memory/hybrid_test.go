package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestFuseResults_WeightLaw(t *testing.T) {
	vectorHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "both"}, Score: 1.0, VectorScore: ptr(1.0)},
	}
	textHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "both"}, Score: 1.0, TextScore: ptr(1.0)},
	}

	fused := fuseResults(vectorHits, textHits, DefaultVectorWeight, DefaultTextWeight)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
}

func TestFuseResults_OneSided(t *testing.T) {
	vectorHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "v"}, Score: 0.8, VectorScore: ptr(0.8)},
	}
	textHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "t"}, Score: 0.5, TextScore: ptr(0.5), Snippet: "snip"},
	}

	fused := fuseResults(vectorHits, textHits, DefaultVectorWeight, DefaultTextWeight)
	require.Len(t, fused, 2)

	byID := map[string]SearchResult{}
	for _, r := range fused {
		byID[r.Chunk.ID] = r
	}
	assert.InDelta(t, 0.8*0.7, byID["v"].Score, 1e-9)
	assert.InDelta(t, 0.5*0.3, byID["t"].Score, 1e-9)
	assert.Equal(t, "snip", byID["t"].Snippet)

	// Sorted descending by fused score.
	assert.Equal(t, "v", fused[0].Chunk.ID)
}

func TestFuseResults_KeepsSnippetFromTextHit(t *testing.T) {
	vectorHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "both"}, Score: 0.9, VectorScore: ptr(0.9)},
	}
	textHits := []SearchResult{
		{Chunk: MemoryChunk{ID: "both"}, Score: 0.4, TextScore: ptr(0.4), Snippet: "window"},
	}

	fused := fuseResults(vectorHits, textHits, DefaultVectorWeight, DefaultTextWeight)
	require.Len(t, fused, 1)
	assert.Equal(t, "window", fused[0].Snippet)
	assert.NotNil(t, fused[0].VectorScore)
	assert.NotNil(t, fused[0].TextScore)
}

func TestSearchHybrid_ProviderUnavailable(t *testing.T) {
	m, provider, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	_, err := m.Add(ctx, AddParams{OwnerID: "a1", Content: "我喜欢咖啡"})
	require.NoError(t, err)
	_, err = m.Add(ctx, AddParams{OwnerID: "a1", Content: "weather is nice"})
	require.NoError(t, err)

	// A chunk that never received an embedding: inserted around the manager,
	// indexed lexically only.
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO memory_chunks (id, owner_id, session_key, content, embedding, source, created_at)
		VALUES ('raw-1', 'a1', '', '手冲咖啡很香', NULL, '', 0)`)
	require.NoError(t, err)
	require.NoError(t, m.text.upsert(ctx, MemoryChunk{ID: "raw-1", OwnerID: "a1", Content: "手冲咖啡很香"}))

	provider.available = false

	results, err := m.SearchHybrid(ctx, "a1", "咖啡", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, r.Chunk.Content, "咖啡")
		assert.Nil(t, r.VectorScore)
		assert.NotNil(t, r.TextScore)
	}
}

func TestSearchHybrid_MinScoreFilter(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	_, err := m.Add(ctx, AddParams{OwnerID: "a1", Content: "coffee brewing notes"})
	require.NoError(t, err)

	results, err := m.SearchHybrid(ctx, "a1", "coffee", &SearchOptions{MinScore: ptr(0.99)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchHybrid_ZeroMinScoreDisablesFloor(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	_, err := m.Add(ctx, AddParams{OwnerID: "a1", Content: "coffee brewing notes"})
	require.NoError(t, err)

	// Tiny weights squash every fused score well under the default floor.
	opts := SearchOptions{VectorWeight: 0.001, TextWeight: 0.001}

	results, err := m.SearchHybrid(ctx, "a1", "coffee", &opts)
	require.NoError(t, err)
	assert.Empty(t, results, "default floor should drop squashed scores")

	opts.MinScore = ptr(0)
	results, err = m.SearchHybrid(ctx, "a1", "coffee", &opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Less(t, results[0].Score, DefaultMinScore)
}

func TestSearchHybrid_EmptyQuery(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	results, err := m.SearchHybrid(context.Background(), "a1", "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
