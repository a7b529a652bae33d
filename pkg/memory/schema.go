package memory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

const chunkSchema = `
	CREATE TABLE IF NOT EXISTS memory_chunks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		session_key TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		embedding BLOB,
		source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_owner ON memory_chunks(owner_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_owner_session ON memory_chunks(owner_id, session_key);
	CREATE INDEX IF NOT EXISTS idx_chunks_created ON memory_chunks(created_at);
`

// chunk_id is an explicit UNINDEXED column rather than the implicit rowid so
// joins against memory_chunks survive FTS internals across rebuilds.
const ftsSchema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
		content,
		chunk_id UNINDEXED,
		owner_id UNINDEXED,
		session_key UNINDEXED,
		tokenize='unicode61'
	);
`

// initializeSchema creates the chunk table and the lexical index, migrating a
// legacy lexical layout in place. It is idempotent and safe to retry: the
// migration only ever touches memory_fts, never memory_chunks.
func initializeSchema(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, chunkSchema); err != nil {
		return fmt.Errorf("create chunk table: %w", err)
	}

	exists, legacy, err := inspectLexicalIndex(ctx, db)
	if err != nil {
		return fmt.Errorf("inspect lexical index: %w", err)
	}

	if !exists {
		if _, err := db.ExecContext(ctx, ftsSchema); err != nil {
			return fmt.Errorf("create lexical index: %w", err)
		}
		return nil
	}

	if legacy {
		logger.Info().Msg("Legacy lexical index detected, migrating")
		if err := migrateLexicalIndex(ctx, db); err != nil {
			logger.Error().Err(err).Msg("Lexical index migration failed, retry on next start")
			return fmt.Errorf("migrate lexical index: %w", err)
		}
		logger.Info().Msg("Lexical index migrated")
	}

	return nil
}

// inspectLexicalIndex reports whether memory_fts exists and, if so, whether it
// is a legacy layout missing the explicit chunk_id column.
func inspectLexicalIndex(ctx context.Context, db *sql.DB) (exists, legacy bool, err error) {
	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'memory_fts'").Scan(&name)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	if _, err := db.ExecContext(ctx, "SELECT chunk_id FROM memory_fts LIMIT 1"); err != nil {
		return true, true, nil
	}
	return true, false, nil
}

// migrateLexicalIndex drops the legacy index, recreates it with the chunk_id
// column and backfills it from the primary table in one transaction.
func migrateLexicalIndex(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS memory_fts"); err != nil {
		return fmt.Errorf("drop legacy index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ftsSchema); err != nil {
		return fmt.Errorf("recreate index: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, owner_id, session_key, content FROM memory_chunks WHERE content != ''")
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}
	defer rows.Close()

	type lexicalRow struct {
		id, ownerID, sessionKey, content string
	}
	var backfill []lexicalRow
	for rows.Next() {
		var r lexicalRow
		if err := rows.Scan(&r.id, &r.ownerID, &r.sessionKey, &r.content); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		backfill = append(backfill, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range backfill {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_fts (content, chunk_id, owner_id, session_key) VALUES (?, ?, ?, ?)",
			spaceCJK(r.content), r.id, r.ownerID, r.sessionKey); err != nil {
			return fmt.Errorf("backfill chunk %s: %w", r.id, err)
		}
	}

	return tx.Commit()
}
