package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/pkg/dbutil"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
)

func init() {
	Register("pgvector", createPgvectorStore)
}

// pgvectorStore is the production vector adapter backed by Postgres and the
// pgvector extension. It has no lexical index; the retriever (C10) falls
// back to vector-only fusion when VectorSearch is the only signal available.
type pgvectorStore struct {
	db  *sqlx.DB
	dsn string
}

func createPgvectorStore(args interface{}) (Store, error) {
	cfg, ok := args.(config.VectorStoreConfig)
	if !ok {
		return nil, fmt.Errorf("pgvector store: unexpected config type %T", args)
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("vector_store.postgres_dsn is required")
	}
	conn, err := sqlx.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &pgvectorStore{db: conn, dsn: cfg.PostgresDSN}, nil
}

func (s *pgvectorStore) EnsureCollection(ctx context.Context, dim int) error {
	raw, err := db.PostgresSchemaFS.ReadFile("schema/postgres_0001_init.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(string(raw), dim))
	return err
}

func (s *pgvectorStore) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO kbengine_chunks (id, doc_id, chunk_id, ordinal, text, metadata, content_hash, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chunk_id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id, ordinal = EXCLUDED.ordinal, text = EXCLUDED.text,
			metadata = EXCLUDED.metadata, content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding
	`
	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ChunkID, r.DocID, r.ChunkID, r.Ordinal, r.Text, string(metaJSON), r.ContentHash,
			pgvector.NewVector(r.Embedding),
		); err != nil {
			if dbutil.IsConflict(err) {
				return fmt.Errorf("%w: chunk %s", appErr.ErrConflict, r.ChunkID)
			}
			return fmt.Errorf("upsert chunk %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *pgvectorStore) DeleteByDocID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kbengine_chunks WHERE doc_id = $1`, docID)
	return err
}

func (s *pgvectorStore) DeleteByIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM kbengine_chunks WHERE chunk_id IN (?)`, chunkIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func (s *pgvectorStore) VectorSearch(ctx context.Context, query []float32, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	if topK <= 0 {
		topK = 10
	}
	where, args := pgFilterClause(filter, 2)
	stmt := fmt.Sprintf(`
		SELECT chunk_id, doc_id, text, metadata, 1 - (embedding <=> $1) AS score
		FROM kbengine_chunks
		WHERE TRUE%s
		ORDER BY embedding <=> $1
		LIMIT %d
	`, where, topK)
	rows, err := s.db.QueryContext(ctx, stmt, append([]interface{}{pgvector.NewVector(query)}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RetrievalResult
	for rows.Next() {
		var r model.RetrievalResult
		var metaJSON []byte
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &metaJSON, &r.VectorScore); err != nil {
			return nil, err
		}
		r.Metadata = decodeMetadataBytes(metaJSON)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgvectorStore) LexicalSearch(ctx context.Context, text string, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	return nil, ErrLexicalUnsupported
}

func decodeMetadataBytes(raw []byte) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// pgFilterClause renders the shared filter language over the JSONB metadata
// column, with placeholders starting at startIdx (the vector arg is $1).
func pgFilterClause(filter model.Filter, startIdx int) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	idx := startIdx
	for k, v := range filter.Eq {
		clauses = append(clauses, fmt.Sprintf("metadata ->> '%s' = $%d", k, idx))
		args = append(args, v)
		idx++
	}
	for k, vs := range filter.In {
		placeholders := make([]string, len(vs))
		for i, v := range vs {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			args = append(args, v)
			idx++
		}
		clauses = append(clauses, fmt.Sprintf("metadata ->> '%s' IN (%s)", k, strings.Join(placeholders, ", ")))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}
