package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Config holds memory manager configuration.
type Config struct {
	DBPath            string
	Logger            zerolog.Logger
	EmbeddingProvider EmbeddingProvider // optional; nil degrades search to lexical-only
	FullText          FullTextOptions
}

// Manager owns the datastore and orchestrates the vector, full-text and
// fusion engines. Construct one instance at process start and pass it by
// reference into the orchestration layer.
type Manager struct {
	db       *sql.DB
	logger   zerolog.Logger
	provider EmbeddingProvider
	vectors  *vectorEngine
	text     *fullTextEngine
	hybrid   *hybridEngine
}

// AddParams describes one chunk to store. CreatedAt defaults to now.
type AddParams struct {
	OwnerID    string
	SessionKey string
	Content    string
	Source     string
	CreatedAt  time.Time
}

// NewManager opens the datastore, initializes the schema and probes vector
// acceleration once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ctx := context.Background()
	if err := initializeSchema(ctx, db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	dimension := 0
	if cfg.EmbeddingProvider != nil {
		dimension = cfg.EmbeddingProvider.Dimension()
	}

	m := &Manager{
		db:       db,
		logger:   cfg.Logger,
		provider: cfg.EmbeddingProvider,
	}
	m.vectors = newVectorEngine(db, cfg.Logger, dimension)
	m.text = newFullTextEngine(db, cfg.Logger, cfg.FullText)
	m.hybrid = newHybridEngine(m.vectors, m.text, cfg.EmbeddingProvider, cfg.Logger)

	cfg.Logger.Info().Str("db_path", cfg.DBPath).Bool("accelerated", m.vectors.accelerated).Msg("Memory manager initialized")
	return m, nil
}

// Add embeds and stores one chunk, mirroring it into both sub-indexes, and
// returns the assigned id. An embedding failure is a hard failure: there is
// no embedding-less insert path.
func (m *Manager) Add(ctx context.Context, params AddParams) (string, error) {
	if params.OwnerID == "" {
		return "", errors.New("owner id is required")
	}
	if strings.TrimSpace(params.Content) == "" {
		return "", errors.New("content is required")
	}

	if m.provider == nil || !m.provider.IsAvailable() {
		return "", ErrEmbeddingUnavailable
	}
	embedding, err := m.provider.Embed(ctx, params.Content)
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	chunk := MemoryChunk{
		ID:         uuid.NewString(),
		OwnerID:    params.OwnerID,
		SessionKey: params.SessionKey,
		Content:    params.Content,
		Embedding:  embedding,
		Source:     params.Source,
		CreatedAt:  createdAt,
	}

	if _, err := m.db.ExecContext(ctx, `
		INSERT INTO memory_chunks (id, owner_id, session_key, content, embedding, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.OwnerID, chunk.SessionKey, chunk.Content,
		vectorToBlob(chunk.Embedding), chunk.Source, chunk.CreatedAt.Unix()); err != nil {
		return "", fmt.Errorf("persist chunk: %w", err)
	}

	if err := m.hybrid.indexChunk(ctx, chunk); err != nil {
		return "", fmt.Errorf("index chunk %s: %w", chunk.ID, err)
	}

	m.logger.Debug().Str("chunk_id", chunk.ID).Str("owner_id", chunk.OwnerID).Msg("Chunk stored")
	return chunk.ID, nil
}

// SearchHybrid returns the fused vector + lexical ranking for query.
func (m *Manager) SearchHybrid(ctx context.Context, ownerID, query string, opts *SearchOptions) ([]SearchResult, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}

	o := SearchOptions{}
	if opts != nil {
		o = *opts
	}

	results, err := m.hybrid.search(ctx, ownerID, query, o)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Str("owner_id", ownerID).Int("results", len(results)).Msg("Hybrid search completed")
	return results, nil
}

// Search returns a vector-only ranking for query. Unlike SearchHybrid it
// requires an available embedding provider.
func (m *Manager) Search(ctx context.Context, ownerID, query string, limit int, sessionKey string) ([]SearchResult, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if m.provider == nil || !m.provider.IsAvailable() {
		return nil, ErrEmbeddingUnavailable
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryEmbedding, err := m.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.vectors.search(ctx, ownerID, sessionKey, queryEmbedding, limit)
}

// Get returns one chunk by id, or nil when absent.
func (m *Manager) Get(ctx context.Context, id string) (*MemoryChunk, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, owner_id, session_key, content, embedding, source, created_at
		FROM memory_chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// List returns up to limit chunks for an owner, newest first, optionally
// scoped to a session.
func (m *Manager) List(ctx context.Context, ownerID, sessionKey string, limit int) ([]MemoryChunk, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	stmt := `
		SELECT id, owner_id, session_key, content, embedding, source, created_at
		FROM memory_chunks WHERE owner_id = ?`
	args := []any{ownerID}
	if sessionKey != "" {
		stmt += " AND session_key = ?"
		args = append(args, sessionKey)
	}
	stmt += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []MemoryChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Skipping unreadable chunk in list")
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteBySession removes every chunk for the owner under sessionKey, along
// with both sub-index records. Chunks under other sessions are untouched.
func (m *Manager) DeleteBySession(ctx context.Context, ownerID, sessionKey string) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	return m.deleteWhere(ctx, "owner_id = ? AND session_key = ?", ownerID, sessionKey)
}

// DeleteByAgent removes every chunk for the owner across all sessions.
func (m *Manager) DeleteByAgent(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	return m.deleteWhere(ctx, "owner_id = ?", ownerID)
}

func (m *Manager) deleteWhere(ctx context.Context, where string, args ...any) error {
	rows, err := m.db.QueryContext(ctx, "SELECT id FROM memory_chunks WHERE "+where, args...)
	if err != nil {
		return fmt.Errorf("select chunks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, "DELETE FROM memory_chunks WHERE "+where, args...); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, id := range ids {
		if err := m.hybrid.removeFromIndex(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("chunk_id", id).Msg("Failed to remove chunk from sub-indexes")
		}
	}

	m.logger.Info().Int("deleted", len(ids)).Msg("Chunks deleted")
	return nil
}

// RebuildIndexes rebuilds the lexical index from the primary table and, when
// acceleration is active, backfills missing vector records.
func (m *Manager) RebuildIndexes(ctx context.Context) (RebuildReport, error) {
	report, err := m.text.rebuild(ctx)
	if err != nil {
		return report, fmt.Errorf("rebuild lexical index: %w", err)
	}

	repaired, err := m.vectors.repair(ctx)
	if err != nil {
		return report, fmt.Errorf("repair vector index: %w", err)
	}

	m.logger.Info().Int("rebuilt", report.Rebuilt).Int("errors", report.Errors).
		Int("vectors_repaired", repaired).Msg("Indexes rebuilt")
	return report, nil
}

// Status reports acceleration state and aggregate index counts.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var total int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_chunks").Scan(&total); err != nil {
		return Status{}, fmt.Errorf("count chunks: %w", err)
	}
	return m.hybrid.status(ctx, total)
}

// Close releases the datastore.
func (m *Manager) Close() error {
	return m.db.Close()
}
