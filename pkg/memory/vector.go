package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

const (
	// fallbackCandidateLimit bounds the in-process scoring path to the most
	// recent rows matching the filters.
	fallbackCandidateLimit = 1000

	// repairBatchSize bounds each backfill round of RepairVectorIndex.
	repairBatchSize = 1000
)

// vectorEngine ranks chunks by cosine similarity to a query embedding. When
// the vec0 extension is present, distance computation is delegated to the
// storage engine; otherwise candidates are scored in-process.
type vectorEngine struct {
	db          *sql.DB
	logger      zerolog.Logger
	dimension   int
	accelerated bool
	repairBatch int
}

// newVectorEngine probes for native vector acceleration exactly once by
// attempting to create the vec0 side-table. The cached result drives all
// subsequent dispatch.
func newVectorEngine(db *sql.DB, logger zerolog.Logger, dimension int) *vectorEngine {
	e := &vectorEngine{db: db, logger: logger, dimension: dimension, repairBatch: repairBatchSize}

	if dimension <= 0 {
		logger.Info().Msg("No embedding dimension configured, vector acceleration inactive")
		return e
	}

	ddl := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)`, dimension)
	if _, err := db.Exec(ddl); err != nil {
		logger.Info().Err(err).Msg("Vector acceleration unavailable, using fallback path")
		return e
	}

	e.accelerated = true
	logger.Info().Int("dimension", dimension).Msg("Vector acceleration active")
	return e
}

// search returns up to limit chunks ordered by descending cosine similarity
// to query, filtered by owner and optionally session. A native-path failure
// at query time is retried via the fallback path instead of propagating.
func (e *vectorEngine) search(ctx context.Context, ownerID, sessionKey string, query []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	if e.accelerated {
		results, err := e.searchNative(ctx, ownerID, sessionKey, query, limit)
		if err == nil {
			return results, nil
		}
		e.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Native vector search failed, retrying via fallback")
	}

	return e.searchFallback(ctx, ownerID, sessionKey, query, limit)
}

func (e *vectorEngine) searchNative(ctx context.Context, ownerID, sessionKey string, query []float32, limit int) ([]SearchResult, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query embedding: %w", err)
	}

	stmt := `
		SELECT c.id, c.owner_id, c.session_key, c.content, c.embedding, c.source, c.created_at,
		       1.0 - vec_distance_cosine(v.embedding, ?) AS similarity
		FROM memory_vectors v
		JOIN memory_chunks c ON c.id = v.chunk_id
		WHERE c.owner_id = ?`
	args := []any{string(queryJSON), ownerID}
	if sessionKey != "" {
		stmt += " AND c.session_key = ?"
		args = append(args, sessionKey)
	}
	stmt += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			c          MemoryChunk
			blob       []byte
			createdAt  int64
			similarity float64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.SessionKey, &c.Content, &blob, &c.Source, &createdAt, &similarity); err != nil {
			return nil, err
		}
		if embedding, err := parseEmbedding(blob); err == nil {
			c.Embedding = embedding
		}
		c.CreatedAt = unixTime(createdAt)

		score := similarity
		results = append(results, SearchResult{Chunk: c, Score: score, VectorScore: &score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchFallback scores the most recent candidates in-process. Rows with
// corrupt embeddings or non-finite scores are skipped, not fatal.
func (e *vectorEngine) searchFallback(ctx context.Context, ownerID, sessionKey string, query []float32, limit int) ([]SearchResult, error) {
	stmt := `
		SELECT id, owner_id, session_key, content, embedding, source, created_at
		FROM memory_chunks
		WHERE owner_id = ? AND embedding IS NOT NULL`
	args := []any{ownerID}
	if sessionKey != "" {
		stmt += " AND session_key = ?"
		args = append(args, sessionKey)
	}
	stmt += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, fallbackCandidateLimit)

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Skipping unreadable chunk in fallback search")
			continue
		}
		score := cosineSimilarity(query, c.Embedding)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		s := score
		results = append(results, SearchResult{Chunk: c, Score: s, VectorScore: &s})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// upsertVectors mirrors chunk embeddings into the vec0 side-table. It is a
// no-op when acceleration is inactive.
func (e *vectorEngine) upsertVectors(ctx context.Context, chunks []MemoryChunk) error {
	if !e.accelerated || len(chunks) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM memory_vectors WHERE chunk_id = ?", c.ID); err != nil {
			return fmt.Errorf("replace vector %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_vectors (chunk_id, embedding) VALUES (?, ?)",
			c.ID, vectorToBlob(c.Embedding)); err != nil {
			return fmt.Errorf("insert vector %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// deleteVector removes one vector record. No-op when acceleration is inactive.
func (e *vectorEngine) deleteVector(ctx context.Context, id string) error {
	if !e.accelerated {
		return nil
	}
	_, err := e.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE chunk_id = ?", id)
	return err
}

// repair backfills vector records for chunks that have an embedding but no
// side-table row, paging by id in bounded batches. Chunks whose stored
// embedding fails to parse are logged and paged past, never backfilled.
// Available only under acceleration.
func (e *vectorEngine) repair(ctx context.Context) (int, error) {
	if !e.accelerated {
		return 0, nil
	}

	repaired := 0
	afterID := ""
	for {
		batch, fetched, lastID, err := e.missingVectors(ctx, afterID, e.repairBatch)
		if err != nil {
			return repaired, err
		}
		if len(batch) > 0 {
			if err := e.upsertVectors(ctx, batch); err != nil {
				return repaired, fmt.Errorf("backfill batch: %w", err)
			}
			repaired += len(batch)
		}
		if fetched < e.repairBatch {
			return repaired, nil
		}
		afterID = lastID
	}
}

// missingVectors pages through chunks lacking a vector record, keyed on id so
// rows skipped for corrupt embeddings are not refetched. It reports how many
// rows the page held alongside the parsed chunks, since the two counts
// diverge when rows are skipped.
func (e *vectorEngine) missingVectors(ctx context.Context, afterID string, limit int) ([]MemoryChunk, int, string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT c.id, c.embedding
		FROM memory_chunks c
		WHERE c.embedding IS NOT NULL
		  AND c.id > ?
		  AND NOT EXISTS (SELECT 1 FROM memory_vectors v WHERE v.chunk_id = c.id)
		ORDER BY c.id
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, 0, "", err
	}
	defer rows.Close()

	var (
		chunks  []MemoryChunk
		fetched int
		lastID  string
	)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fetched, lastID, err
		}
		fetched++
		lastID = id
		embedding, err := parseEmbedding(blob)
		if err != nil {
			e.logger.Warn().Err(err).Str("chunk_id", id).Msg("Skipping chunk with corrupt embedding during repair")
			continue
		}
		chunks = append(chunks, MemoryChunk{ID: id, Embedding: embedding})
	}
	return chunks, fetched, lastID, rows.Err()
}

// count returns the number of vector records, zero when inactive.
func (e *vectorEngine) count(ctx context.Context) (int, error) {
	if !e.accelerated {
		return 0, nil
	}
	var n int
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_vectors").Scan(&n)
	return n, err
}

// cosineSimilarity computes dot(a,b)/(|a|*|b|) over the shorter of the two
// vectors, returning 0 for empty or zero-magnitude input.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// vectorToBlob packs a vector as contiguous little-endian float32 values.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// parseEmbedding is the exact inverse of vectorToBlob.
func parseEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
