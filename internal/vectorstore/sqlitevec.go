package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/model"
)

func init() {
	sqlite_vec.Auto()
	Register("sqlite_vec", createSqliteVecStore)
}

// sqliteVecStore is the in-process vector adapter, used when no external
// vector database is configured. It pairs a sqlite-vec vec0 virtual table
// for nearest-neighbor search with an FTS5 virtual table for lexical
// search, kept in sync through the schema's own triggers.
type sqliteVecStore struct {
	db   *sql.DB
	path string
}

func createSqliteVecStore(args interface{}) (Store, error) {
	cfg, ok := args.(config.VectorStoreConfig)
	if !ok {
		return nil, fmt.Errorf("sqlite_vec store: unexpected config type %T", args)
	}
	path := cfg.SqliteVecPath
	if path == "" {
		return nil, fmt.Errorf("vector_store.sqlite_vec_path is required")
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite-vec db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return &sqliteVecStore{db: conn, path: path}, nil
}

func (s *sqliteVecStore) EnsureCollection(ctx context.Context, dim int) error {
	raw, err := db.SqliteVecSchemaFS.ReadFile("schema/sqlite_vec_0001_init.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(string(raw), dim))
	return err
}

func (s *sqliteVecStore) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vs_chunks (chunk_id, doc_id, ordinal, text, metadata, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				doc_id = excluded.doc_id, ordinal = excluded.ordinal, text = excluded.text,
				metadata = excluded.metadata, content_hash = excluded.content_hash
		`, r.ChunkID, r.DocID, r.Ordinal, r.Text, string(metaJSON), r.ContentHash); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", r.ChunkID, err)
		}
		var rowid int64
		if err := tx.QueryRowContext(ctx, `SELECT rowid FROM vs_chunks WHERE chunk_id = ?`, r.ChunkID).Scan(&rowid); err != nil {
			return fmt.Errorf("lookup rowid for %s: %w", r.ChunkID, err)
		}
		blob, err := sqlite_vec.SerializeFloat32(r.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", r.ChunkID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vs_vectors WHERE rowid = ?`, rowid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vs_vectors (rowid, embedding) VALUES (?, ?)`, rowid, blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteVecStore) DeleteByDocID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vs_chunks WHERE doc_id = ?`, docID)
	return err
}

func (s *sqliteVecStore) DeleteByIDs(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM vs_chunks WHERE chunk_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteVecStore) VectorSearch(ctx context.Context, query []float32, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	if topK <= 0 {
		topK = 10
	}
	where, args := filterClause(filter, "c")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.doc_id, c.text, c.metadata, v.distance
		FROM vs_vectors v
		JOIN vs_chunks c ON c.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?%s
		ORDER BY v.distance
	`, where), append([]interface{}{blob, topK}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RetrievalResult
	for rows.Next() {
		var r model.RetrievalResult
		var metaJSON string
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &metaJSON, &distance); err != nil {
			return nil, err
		}
		r.Metadata = decodeMetadata(metaJSON)
		r.VectorScore = 1 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteVecStore) LexicalSearch(ctx context.Context, text string, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	cleaned := sanitizeFTSQuery(text)
	if cleaned == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}
	where, args := filterClause(filter, "c")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.doc_id, c.text, c.metadata, bm25(vs_chunks_fts) AS rank,
			snippet(vs_chunks_fts, 1, '[', ']', '...', 16)
		FROM vs_chunks_fts
		JOIN vs_chunks c ON c.rowid = vs_chunks_fts.rowid
		WHERE vs_chunks_fts MATCH ?%s
		ORDER BY rank
		LIMIT ?
	`, where), append([]interface{}{cleaned}, append(args, topK)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RetrievalResult
	for rows.Next() {
		var r model.RetrievalResult
		var metaJSON string
		var rank float64
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &metaJSON, &rank, &r.Highlight); err != nil {
			return nil, err
		}
		r.Metadata = decodeMetadata(metaJSON)
		r.LexicalScore = -rank // bm25() is smaller-is-better; flip so higher is better
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeMetadata(raw string) map[string]string {
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// filterClause renders the shared equality/membership filter language as a
// SQL fragment over the metadata JSON column, using json_extract.
func filterClause(filter model.Filter, alias string) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for k, v := range filter.Eq {
		clauses = append(clauses, fmt.Sprintf("json_extract(%s.metadata, '$.%s') = ?", alias, k))
		args = append(args, v)
	}
	for k, vs := range filter.In {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vs)), ",")
		clauses = append(clauses, fmt.Sprintf("json_extract(%s.metadata, '$.%s') IN (%s)", alias, k, placeholders))
		for _, v := range vs {
			args = append(args, v)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func sanitizeFTSQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range input {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
