package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Default fusion parameters. Semantic similarity is primary, lexical match
// disambiguates.
const (
	DefaultVectorWeight = 0.7
	DefaultTextWeight   = 0.3
	DefaultMinScore     = 0.1
	DefaultLimit        = 10
)

// SearchOptions configures hybrid search. Zero values take the defaults
// above. MinScore is a pointer so an explicit zero disables the score floor
// instead of reading as unset; nil applies DefaultMinScore.
type SearchOptions struct {
	Limit        int      `json:"limit"`
	MinScore     *float64 `json:"min_score,omitempty"`
	SessionKey   string   `json:"session_key"`
	VectorWeight float64  `json:"vector_weight"`
	TextWeight   float64  `json:"text_weight"`
}

func (o *SearchOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.MinScore == nil {
		floor := DefaultMinScore
		o.MinScore = &floor
	}
	if o.VectorWeight == 0 && o.TextWeight == 0 {
		o.VectorWeight = DefaultVectorWeight
		o.TextWeight = DefaultTextWeight
	}
}

// Status reports operational health of the index pair.
type Status struct {
	AccelerationActive bool `json:"acceleration_active"`
	LexicalRecords     int  `json:"lexical_records"`
	TotalChunks        int  `json:"total_chunks"`
}

// hybridEngine fans a query out to the vector and lexical engines
// concurrently and fuses their rankings into one list.
type hybridEngine struct {
	vectors  *vectorEngine
	text     *fullTextEngine
	provider EmbeddingProvider
	logger   zerolog.Logger
}

func newHybridEngine(vectors *vectorEngine, text *fullTextEngine, provider EmbeddingProvider, logger zerolog.Logger) *hybridEngine {
	return &hybridEngine{vectors: vectors, text: text, provider: provider, logger: logger}
}

// search runs the fused query. When the embedding provider is unavailable the
// engine degrades to lexical-only ranking: no score floor is applied because
// small corpora collapse lexical scores toward zero, so rank order is what
// matters.
func (e *hybridEngine) search(ctx context.Context, ownerID, query string, opts SearchOptions) ([]SearchResult, error) {
	opts.applyDefaults()

	if e.provider == nil || !e.provider.IsAvailable() {
		return e.searchTextOnly(ctx, ownerID, query, opts)
	}

	queryEmbedding, err := e.provider.Embed(ctx, query)
	if err != nil {
		e.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Query embedding failed, degrading to lexical search")
		return e.searchTextOnly(ctx, ownerID, query, opts)
	}

	pool := opts.Limit * 3
	if pool < 200 {
		pool = 200
	}

	var (
		wg         sync.WaitGroup
		vectorHits []SearchResult
		textHits   []SearchResult
		vectorErr  error
		textErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = e.vectors.search(ctx, ownerID, opts.SessionKey, queryEmbedding, pool)
	}()
	go func() {
		defer wg.Done()
		textHits, textErr = e.text.search(ctx, ownerID, opts.SessionKey, query, pool)
	}()
	wg.Wait()

	if vectorErr != nil && textErr != nil {
		return nil, fmt.Errorf("both search engines failed: %w", vectorErr)
	}
	if vectorErr != nil {
		e.logger.Warn().Err(vectorErr).Msg("Vector search failed, fusing lexical results only")
	}
	if textErr != nil {
		e.logger.Warn().Err(textErr).Msg("Lexical search failed, fusing vector results only")
	}

	fused := fuseResults(vectorHits, textHits, opts.VectorWeight, opts.TextWeight)

	filtered := fused[:0]
	for _, r := range fused {
		if r.Score >= *opts.MinScore {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

func (e *hybridEngine) searchTextOnly(ctx context.Context, ownerID, query string, opts SearchOptions) ([]SearchResult, error) {
	pool := opts.Limit * 5
	if pool < 50 {
		pool = 50
	}
	results, err := e.text.search(ctx, ownerID, opts.SessionKey, query, pool)
	if err != nil {
		return nil, err
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// fuseResults merges the two rankings by chunk id. A result present in only
// one list contributes its own weighted component; one present in both sums
// the weighted component scores. Output is sorted descending by fused score.
func fuseResults(vectorHits, textHits []SearchResult, vectorWeight, textWeight float64) []SearchResult {
	merged := make(map[string]*SearchResult, len(vectorHits)+len(textHits))

	for i := range vectorHits {
		hit := vectorHits[i]
		merged[hit.Chunk.ID] = &hit
	}
	for i := range textHits {
		hit := textHits[i]
		if existing, ok := merged[hit.Chunk.ID]; ok {
			existing.TextScore = hit.TextScore
			if existing.Snippet == "" {
				existing.Snippet = hit.Snippet
			}
			continue
		}
		merged[hit.Chunk.ID] = &hit
	}

	fused := make([]SearchResult, 0, len(merged))
	for _, r := range merged {
		var vectorScore, textScore float64
		if r.VectorScore != nil {
			vectorScore = *r.VectorScore
		}
		if r.TextScore != nil {
			textScore = *r.TextScore
		}
		r.Score = vectorScore*vectorWeight + textScore*textWeight
		fused = append(fused, *r)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score == fused[j].Score {
			return fused[i].Chunk.CreatedAt.After(fused[j].Chunk.CreatedAt)
		}
		return fused[i].Score > fused[j].Score
	})
	return fused
}

// indexChunk mirrors a chunk into both sub-indexes. Callers never touch the
// sub-indexes directly.
func (e *hybridEngine) indexChunk(ctx context.Context, c MemoryChunk) error {
	if err := e.text.upsert(ctx, c); err != nil {
		return fmt.Errorf("index lexical record: %w", err)
	}
	if err := e.vectors.upsertVectors(ctx, []MemoryChunk{c}); err != nil {
		return fmt.Errorf("index vector record: %w", err)
	}
	return nil
}

// removeFromIndex removes a chunk from both sub-indexes.
func (e *hybridEngine) removeFromIndex(ctx context.Context, id string) error {
	if err := e.text.delete(ctx, id); err != nil {
		return fmt.Errorf("remove lexical record: %w", err)
	}
	if err := e.vectors.deleteVector(ctx, id); err != nil {
		return fmt.Errorf("remove vector record: %w", err)
	}
	return nil
}

// status aggregates counts from both sub-indexes.
func (e *hybridEngine) status(ctx context.Context, totalChunks int) (Status, error) {
	lexical, err := e.text.count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count lexical records: %w", err)
	}
	return Status{
		AccelerationActive: e.vectors.accelerated,
		LexicalRecords:     lexical,
		TotalChunks:        totalChunks,
	}, nil
}
