package memory

import (
	"fmt"
	"time"
)

// MemoryChunk is one stored unit of memory content. Chunks are immutable:
// there is no update operation, replacement means delete plus re-add.
type MemoryChunk struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	SessionKey string    `json:"session_key,omitempty"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult pairs a chunk with its relevance score. Component scores are
// set only when the corresponding engine contributed to the result.
type SearchResult struct {
	Chunk       MemoryChunk `json:"chunk"`
	Score       float64     `json:"score"`
	VectorScore *float64    `json:"vector_score,omitempty"`
	TextScore   *float64    `json:"text_score,omitempty"`
	Snippet     string      `json:"snippet,omitempty"`
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanChunk is the single typed conversion point between raw storage rows and
// MemoryChunk. Column order: id, owner_id, session_key, content, embedding,
// source, created_at (unix seconds).
func scanChunk(row rowScanner) (MemoryChunk, error) {
	var (
		c         MemoryChunk
		blob      []byte
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.SessionKey, &c.Content, &blob, &c.Source, &createdAt); err != nil {
		return MemoryChunk{}, err
	}
	if len(blob) > 0 {
		embedding, err := parseEmbedding(blob)
		if err != nil {
			return MemoryChunk{}, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		c.Embedding = embedding
	}
	c.CreatedAt = unixTime(createdAt)
	return c, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
