package memory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	// DefaultBM25Saturation maps the positive BM25 strength r to (0,1) via
	// r/(r+saturation): r=10 scores 0.5, r=30 scores 0.75. Empirical tuning
	// constant; override through FullTextOptions.
	DefaultBM25Saturation = 10.0

	// snippetWindow is the rune width of the context window extracted around
	// the earliest keyword hit.
	snippetWindow = 200

	// rebuildBatchSize bounds each insert transaction during a full rebuild.
	rebuildBatchSize = 100
)

var latinTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// FullTextOptions tunes the lexical engine.
type FullTextOptions struct {
	// BM25Saturation overrides DefaultBM25Saturation when > 0.
	BM25Saturation float64
}

// RebuildReport summarizes a full lexical-index rebuild.
type RebuildReport struct {
	Rebuilt int `json:"rebuilt"`
	Errors  int `json:"errors"`
}

// fullTextEngine provides BM25-ranked lexical search tolerant of mixed
// Latin/CJK text.
type fullTextEngine struct {
	db         *sql.DB
	logger     zerolog.Logger
	saturation float64
}

func newFullTextEngine(db *sql.DB, logger zerolog.Logger, opts FullTextOptions) *fullTextEngine {
	saturation := opts.BM25Saturation
	if saturation <= 0 {
		saturation = DefaultBM25Saturation
	}
	return &fullTextEngine{db: db, logger: logger, saturation: saturation}
}

// search returns up to limit chunks ranked by normalized BM25 relevance,
// filtered by owner and optionally session. An unparseable query yields an
// empty result, never an error.
func (e *fullTextEngine) search(ctx context.Context, ownerID, sessionKey, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	match := buildMatchQuery(query)
	if match == "" {
		return []SearchResult{}, nil
	}

	stmt := `
		SELECT c.id, c.owner_id, c.session_key, c.content, c.embedding, c.source, c.created_at,
		       bm25(memory_fts) AS rank
		FROM memory_fts
		JOIN memory_chunks c ON c.id = memory_fts.chunk_id
		WHERE memory_fts MATCH ? AND memory_fts.owner_id = ?`
	args := []any{match, ownerID}
	if sessionKey != "" {
		stmt += " AND memory_fts.session_key = ?"
		args = append(args, sessionKey)
	}
	// Over-fetch so content dedupe below cannot shrink the page under limit.
	stmt += " ORDER BY rank ASC LIMIT ?"
	args = append(args, limit*2)

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	keywords := queryKeywords(query)

	var results []SearchResult
	for rows.Next() {
		var (
			c         MemoryChunk
			blob      []byte
			createdAt int64
			rank      float64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.SessionKey, &c.Content, &blob, &c.Source, &createdAt, &rank); err != nil {
			return nil, err
		}
		if embedding, err := parseEmbedding(blob); err == nil {
			c.Embedding = embedding
		}
		c.CreatedAt = unixTime(createdAt)

		score := e.normalizeRank(rank)
		results = append(results, SearchResult{
			Chunk:     c,
			Score:     score,
			TextScore: &score,
			Snippet:   makeSnippet(c.Content, keywords),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deduped := dedupeByContent(results)
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

// normalizeRank maps a raw BM25 rank (more negative = more relevant) into
// (0,1) so lexical scores are comparable with cosine similarity.
func (e *fullTextEngine) normalizeRank(rank float64) float64 {
	strength := -rank
	if strength <= 0 {
		return 0
	}
	return strength / (strength + e.saturation)
}

// upsert inserts or replaces the lexical record for one chunk.
func (e *fullTextEngine) upsert(ctx context.Context, c MemoryChunk) error {
	return e.upsertBatch(ctx, []MemoryChunk{c})
}

// upsertBatch inserts or replaces lexical records inside one transaction.
func (e *fullTextEngine) upsertBatch(ctx context.Context, chunks []MemoryChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, "DELETE FROM memory_fts WHERE chunk_id = ?", c.ID); err != nil {
			return fmt.Errorf("replace lexical record %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_fts (content, chunk_id, owner_id, session_key) VALUES (?, ?, ?, ?)",
			spaceCJK(c.Content), c.ID, c.OwnerID, c.SessionKey); err != nil {
			return fmt.Errorf("insert lexical record %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// delete removes the lexical record for one chunk.
func (e *fullTextEngine) delete(ctx context.Context, id string) error {
	_, err := e.db.ExecContext(ctx, "DELETE FROM memory_fts WHERE chunk_id = ?", id)
	return err
}

// rebuild clears the lexical index and re-inserts every chunk with non-empty
// content in fixed batches, reporting per-row failures instead of aborting.
func (e *fullTextEngine) rebuild(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport

	if _, err := e.db.ExecContext(ctx, "DELETE FROM memory_fts"); err != nil {
		return report, fmt.Errorf("clear lexical index: %w", err)
	}

	rows, err := e.db.QueryContext(ctx,
		"SELECT id, owner_id, session_key, content FROM memory_chunks WHERE content != '' ORDER BY created_at")
	if err != nil {
		return report, fmt.Errorf("read chunks: %w", err)
	}
	defer rows.Close()

	var pending []MemoryChunk
	for rows.Next() {
		var c MemoryChunk
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.SessionKey, &c.Content); err != nil {
			report.Errors++
			continue
		}
		pending = append(pending, c)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	for start := 0; start < len(pending); start += rebuildBatchSize {
		end := start + rebuildBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if err := e.upsertBatch(ctx, batch); err != nil {
			e.logger.Warn().Err(err).Int("batch_start", start).Msg("Lexical rebuild batch failed")
			report.Errors += len(batch)
			continue
		}
		report.Rebuilt += len(batch)
	}

	return report, nil
}

// count returns the number of lexical records.
func (e *fullTextEngine) count(ctx context.Context) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_fts").Scan(&n)
	return n, err
}

// isCJK reports whether r belongs to a script without whitespace word
// boundaries.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// spaceCJK inserts a separating space around every CJK rune so the unicode61
// tokenizer indexes each character as its own term. Latin and digit runs are
// left intact.
func spaceCJK(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	prevCJK := false
	for _, r := range s {
		if isCJK(r) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			prevCJK = true
			continue
		}
		if prevCJK && r != ' ' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prevCJK = false
	}
	return b.String()
}

// buildMatchQuery turns raw query text into a disjunctive FTS5 MATCH
// expression: quoted Latin tokens, quoted single CJK characters and quoted
// adjacent CJK bigram phrases, all OR-joined. Returns "" when nothing can be
// extracted.
func buildMatchQuery(query string) string {
	latin := latinTokenPattern.FindAllString(query, -1)

	var cjk []rune
	for _, r := range query {
		if isCJK(r) {
			cjk = append(cjk, r)
		}
	}

	seen := make(map[string]bool)
	var terms []string
	appendTerm := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}

	for _, t := range latin {
		appendTerm(t)
	}
	for _, r := range cjk {
		appendTerm(string(r))
	}
	// Two-character phrases carry more weight than single characters and bias
	// ranking toward true word matches.
	for i := 0; i+1 < len(cjk); i++ {
		appendTerm(string(cjk[i]) + " " + string(cjk[i+1]))
	}

	return strings.Join(terms, " OR ")
}

// queryKeywords extracts the plain keywords used for snippet placement.
func queryKeywords(query string) []string {
	var keywords []string
	keywords = append(keywords, latinTokenPattern.FindAllString(query, -1)...)
	for _, r := range query {
		if isCJK(r) {
			keywords = append(keywords, string(r))
		}
	}
	return keywords
}

// makeSnippet extracts a window centered on the earliest case-insensitive
// keyword occurrence, falling back to a plain prefix when nothing matches.
func makeSnippet(content string, keywords []string) string {
	runes := []rune(content)
	if len(runes) <= snippetWindow {
		return content
	}

	lowered := strings.ToLower(content)
	earliest := -1
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if idx := strings.Index(lowered, strings.ToLower(kw)); idx >= 0 {
			runeIdx := len([]rune(lowered[:idx]))
			if earliest < 0 || runeIdx < earliest {
				earliest = runeIdx
			}
		}
	}

	if earliest < 0 {
		return string(runes[:snippetWindow]) + "..."
	}

	start := earliest - snippetWindow/2
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow
	if end > len(runes) {
		end = len(runes)
		start = end - snippetWindow
		if start < 0 {
			start = 0
		}
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// dedupeByContent keeps only the top-ranked result among rows with identical
// trimmed content. Input is assumed rank-ordered.
func dedupeByContent(results []SearchResult) []SearchResult {
	if len(results) < 2 {
		return results
	}
	seen := make(map[string]bool, len(results))
	out := results[:0]
	for _, r := range results {
		key := strings.TrimSpace(r.Chunk.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
