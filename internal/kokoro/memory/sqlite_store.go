package memory

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// SQLiteStore implements Store on the tables created by the store package's
// migrations (namespaces, contents, contents_fts, processed_markers).
//
// Similarity search embeds the query and ranks stored vectors by cosine
// similarity in Go, since modernc.org/sqlite cannot load vector extensions.
// Without vectors it falls back to FTS5 bm25 ranking, then to recency.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSQLiteStore returns a store over db. A nil embedder disables vector
// search; a nil logger uses slog.Default().
func NewSQLiteStore(db *sql.DB, embedder Embedder, logger *slog.Logger) *SQLiteStore {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, embedder: embedder, logger: logger, now: time.Now}
}

func (s *SQLiteStore) NamespaceMetadata(ctx context.Context, namespaceID string) (NamespaceMetadata, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM namespaces WHERE id = ?`, namespaceID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return NamespaceMetadata{}, ErrNamespaceNotFound
	}
	if err != nil {
		return NamespaceMetadata{}, fmt.Errorf("sqlite store: get namespace %s: %w", namespaceID, err)
	}

	var md NamespaceMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return NamespaceMetadata{}, fmt.Errorf("sqlite store: decode namespace %s: %w", namespaceID, err)
	}
	return md, nil
}

func (s *SQLiteStore) SetNamespaceMetadata(ctx context.Context, namespaceID string, md NamespaceMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("sqlite store: encode namespace %s: %w", namespaceID, err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO namespaces (id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata, updated_at = excluded.updated_at`,
		namespaceID, string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: set namespace %s: %w", namespaceID, err)
	}
	return nil
}

// AppendContent inserts one item. The memoryId, timestamp and sourceId keys
// of metadata are mirrored into columns. Embedding failures are logged and
// the item is stored without a vector.
func (s *SQLiteStore) AppendContent(ctx context.Context, namespaceID, content string, metadata map[string]any) error {
	memoryID, _ := metadata[keyMemoryID].(string)
	if memoryID == "" {
		memoryID = uuid.NewString()
	}
	createdAt, _ := metadata[keyTimestamp].(string)
	if createdAt == "" {
		createdAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	var sourceID sql.NullString
	if v, _ := metadata[keySourceID].(string); v != "" {
		sourceID = sql.NullString{String: v, Valid: true}
	}

	mdJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlite store: encode metadata: %w", err)
	}

	var embeddingJSON sql.NullString
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("sqlite store: embedding failed, storing without vector",
			"conversation_id", namespaceID, "memory_id", memoryID, "err", err)
	} else if len(vec) > 0 {
		b, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("sqlite store: encode embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contents (namespace_id, memory_id, content, metadata, embedding, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		namespaceID, memoryID, content, string(mdJSON), embeddingJSON, sourceID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: append to %s: %w", namespaceID, err)
	}

	s.logger.Debug("sqlite store: appended content",
		"conversation_id", namespaceID,
		"memory_id", memoryID,
		"content_len", len(content),
		"has_embedding", embeddingJSON.Valid,
	)
	return nil
}

func (s *SQLiteStore) ListContent(ctx context.Context, namespaceID string, limit int) ([]Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT content, metadata FROM (
				SELECT seq, content, metadata FROM contents
				WHERE namespace_id = ?
				ORDER BY seq DESC
				LIMIT ?
			) ORDER BY seq ASC`,
			namespaceID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT content, metadata FROM contents
			WHERE namespace_id = ?
			ORDER BY seq ASC`,
			namespaceID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list %s: %w", namespaceID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var content, raw string
		if err := rows.Scan(&content, &raw); err != nil {
			return nil, fmt.Errorf("sqlite store: scan content: %w", err)
		}
		rec, err := decodeRecord(content, raw)
		if err != nil {
			s.logger.Warn("sqlite store: skip malformed row", "conversation_id", namespaceID, "err", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate %s: %w", namespaceID, err)
	}
	return out, nil
}

// SearchSimilar ranks by cosine similarity when the query can be embedded,
// by bm25 keyword relevance otherwise, and by recency as a last resort.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, query, namespaceID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("sqlite store: embed query failed, using keyword search",
			"conversation_id", namespaceID, "err", err)
	}
	if len(vec) > 0 {
		recs, err := s.searchByEmbedding(ctx, vec, namespaceID, limit)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}

	recs, err := s.searchKeyword(ctx, query, namespaceID, limit)
	if err != nil {
		s.logger.Warn("sqlite store: keyword search failed, using recency",
			"conversation_id", namespaceID, "err", err)
	}
	if len(recs) > 0 {
		return recs, nil
	}

	recent, err := s.ListContent(ctx, namespaceID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(recent)
	return recent, nil
}

type scoredRecord struct {
	rec   Record
	score float64
}

func (s *SQLiteStore) searchByEmbedding(ctx context.Context, query []float32, namespaceID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, metadata, embedding FROM contents
		WHERE namespace_id = ? AND embedding IS NOT NULL`,
		namespaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []scoredRecord
	for rows.Next() {
		var content, raw, embeddingJSON string
		if err := rows.Scan(&content, &raw, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("sqlite store: scan embedding row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			s.logger.Warn("sqlite store: skip malformed embedding", "conversation_id", namespaceID, "err", err)
			continue
		}
		if len(vec) != len(query) {
			continue
		}
		rec, err := decodeRecord(content, raw)
		if err != nil {
			s.logger.Warn("sqlite store: skip malformed row", "conversation_id", namespaceID, "err", err)
			continue
		}
		candidates = append(candidates, scoredRecord{rec: rec, score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate embeddings: %w", err)
	}

	slices.SortStableFunc(candidates, func(a, b scoredRecord) int {
		return cmp.Compare(b.score, a.score)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Record, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out, nil
}

func (s *SQLiteStore) searchKeyword(ctx context.Context, query, namespaceID string, limit int) ([]Record, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.content, c.metadata
		FROM contents_fts
		JOIN contents c ON c.seq = contents_fts.rowid
		WHERE contents_fts MATCH ? AND c.namespace_id = ?
		ORDER BY bm25(contents_fts)
		LIMIT ?`,
		match, namespaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: keyword query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var content, raw string
		if err := rows.Scan(&content, &raw); err != nil {
			return nil, fmt.Errorf("sqlite store: scan keyword row: %w", err)
		}
		rec, err := decodeRecord(content, raw)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms, so user
// punctuation never reaches the FTS5 query parser.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

func (s *SQLiteStore) ListNamespaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM namespaces ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list namespaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite store: scan namespace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeleteNamespace(ctx context.Context, namespaceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM contents WHERE namespace_id = ?`,
		`DELETE FROM processed_markers WHERE namespace_id = ?`,
		`DELETE FROM namespaces WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, namespaceID); err != nil {
			return fmt.Errorf("sqlite store: delete %s: %w", namespaceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit delete %s: %w", namespaceID, err)
	}
	return nil
}

func (s *SQLiteStore) HasProcessedMarker(ctx context.Context, contentID, namespaceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_markers WHERE namespace_id = ? AND content_id = ?`,
		namespaceID, contentID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite store: check marker: %w", err)
	}
	return true, nil
}

// SetProcessedMarker records the marker and flags every stored item with
// that source id as processed.
func (s *SQLiteStore) SetProcessedMarker(ctx context.Context, contentID, namespaceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin marker: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_markers (namespace_id, content_id, marked_at)
		VALUES (?, ?, ?)`,
		namespaceID, contentID, s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("sqlite store: insert marker: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE contents SET metadata = json_set(metadata, '$.processed', json('true'))
		WHERE namespace_id = ? AND source_id = ?`,
		namespaceID, contentID,
	); err != nil {
		return fmt.Errorf("sqlite store: flag processed content: %w", err)
	}
	return tx.Commit()
}

func decodeRecord(content, raw string) (Record, error) {
	md := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return Record{Content: content, Metadata: md}, nil
}

// cosineSimilarity returns 0 for empty, mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*SQLiteStore)(nil)
