package memory

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}
	neg := make([]float32, len(v))
	for i, x := range v {
		neg[i] = -x
	}

	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity(v, neg), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0, 0}, v))
	assert.Equal(t, 0.0, cosineSimilarity(nil, v))
	assert.Equal(t, 0.0, cosineSimilarity(v, nil))
}

func TestCosineSimilarity_LengthMismatch(t *testing.T) {
	a := []float32{1, 0, 5, 5}
	b := []float32{1, 0}

	// Comparison uses the shorter of the two vectors.
	assert.InDelta(t, 1.0, cosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 1.0, cosineSimilarity(b, a), 1e-9)
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	v := []float32{0, 1, -1, 3.14159, -2.71828, 1e-8, 1e8}

	got, err := parseEmbedding(vectorToBlob(v))
	require.NoError(t, err)
	require.Len(t, got, len(v))
	for i := range v {
		assert.InDelta(t, float64(v[i]), float64(got[i]), 1e-12)
	}
}

func TestParseEmbedding_InvalidLength(t *testing.T) {
	_, err := parseEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)

	got, err := parseEmbedding(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorSearch_FallbackMatchesBruteForce(t *testing.T) {
	m, provider, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	contents := []string{
		"我喜欢喝咖啡",
		"I prefer tea over coffee",
		"今天天气很好",
		"the quick brown fox",
		"espresso machines and grinders",
	}
	for _, c := range contents {
		_, err := m.Add(ctx, AddParams{OwnerID: "a1", Content: c})
		require.NoError(t, err)
	}

	queryEmbedding, err := provider.Embed(ctx, "咖啡")
	require.NoError(t, err)

	// Brute-force ranking over the same candidate set.
	chunks, err := m.List(ctx, "a1", "", 100)
	require.NoError(t, err)
	require.Len(t, chunks, len(contents))

	type scored struct {
		id    string
		score float64
	}
	var expected []scored
	for _, c := range chunks {
		expected = append(expected, scored{c.ID, cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i].score > expected[j].score })

	m.vectors.accelerated = false
	results, err := m.vectors.search(ctx, "a1", "", queryEmbedding, len(contents))
	require.NoError(t, err)
	require.Len(t, results, len(expected))

	for i, r := range results {
		assert.Equal(t, expected[i].id, r.Chunk.ID)
		assert.InDelta(t, expected[i].score, r.Score, 1e-9)
		assert.False(t, math.IsNaN(r.Score))
	}
}

func TestVectorSearch_SessionFilter(t *testing.T) {
	m, provider, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	_, err := m.Add(ctx, AddParams{OwnerID: "a1", SessionKey: "s1", Content: "coffee notes"})
	require.NoError(t, err)
	_, err = m.Add(ctx, AddParams{OwnerID: "a1", SessionKey: "s2", Content: "coffee notes again"})
	require.NoError(t, err)

	queryEmbedding, err := provider.Embed(ctx, "coffee")
	require.NoError(t, err)

	results, err := m.vectors.search(ctx, "a1", "s1", queryEmbedding, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].Chunk.SessionKey)
}

func TestVectorRepair(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	id, err := m.Add(ctx, AddParams{OwnerID: "a1", Content: "repair target"})
	require.NoError(t, err)

	if !m.vectors.accelerated {
		repaired, err := m.vectors.repair(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, repaired)
		return
	}

	// A missing vector record for a chunk with an embedding is a repairable
	// inconsistency.
	_, err = m.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE chunk_id = ?", id)
	require.NoError(t, err)

	repaired, err := m.vectors.repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	n, err := m.vectors.count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorRepair_SkipsCorruptRowsWithoutStopping(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	if !m.vectors.accelerated {
		t.Skip("vector acceleration inactive")
	}

	valid := make([]float32, m.vectors.dimension)
	valid[0] = 1

	// Three chunks missing vector records; the first sorts ahead of the
	// others and carries an unparseable embedding blob.
	insert := `
		INSERT INTO memory_chunks (id, owner_id, session_key, content, embedding, source, created_at)
		VALUES (?, 'a1', '', ?, ?, '', 0)`
	_, err := m.db.ExecContext(ctx, insert, "m1", "corrupt row", []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, insert, "m2", "valid row two", vectorToBlob(valid))
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, insert, "m3", "valid row three", vectorToBlob(valid))
	require.NoError(t, err)

	// Small pages put the corrupt row and a valid one in the same page, so
	// repair must page past the skip rather than treat the short parse as
	// the end of the scan.
	m.vectors.repairBatch = 2

	repaired, err := m.vectors.repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	n, err := m.vectors.count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVectorMaintenance_NoOpWithoutAcceleration(t *testing.T) {
	m, _, cleanup := createTestManager(t)
	defer cleanup()

	ctx := context.Background()
	m.vectors.accelerated = false

	require.NoError(t, m.vectors.upsertVectors(ctx, []MemoryChunk{{ID: "x", Embedding: []float32{1}}}))
	require.NoError(t, m.vectors.deleteVector(ctx, "x"))

	n, err := m.vectors.count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
