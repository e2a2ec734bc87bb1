// Package statestore is C1: the Content Hasher & State Store. It persists
// Document records and per-document DocumentState blobs, and owns the
// per-document advisory lock that serializes concurrent re-ingest attempts
// (spec.md §5 Ordering guarantees).
package statestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
)

const lockTTL = 15 * time.Minute

// Store is the C1 state store: Document CRUD, DocumentState CRUD, and the
// per-document lock primitive used to make concurrent re-ingest of the same
// doc_id fail fast with DocumentBusy instead of interleaving.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// HashContent is the content hasher half of C1: a stable sha256 hex digest
// used both as a document's file_hash and as each chunk's content_hash.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"doc_id":            doc.DocID,
		"source_path":       doc.SourcePath,
		"file_type":         string(doc.FileType),
		"metadata":          string(metaJSON),
		"status":            string(doc.Status),
		"size_bytes":        doc.SizeBytes,
		"node_count":        doc.NodeCount,
		"last_processed_at": doc.LastProcessedAt.Unix(),
		"error":             doc.Error,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *Store) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	where := map[string]interface{}{"doc_id": docID}
	cols := []string{"doc_id", "source_path", "file_type", "metadata", "status", "size_bytes", "node_count", "last_processed_at", "error"}
	sqlStr, args, err := builder.BuildSelect("documents", where, cols)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*model.Document, error) {
	var doc model.Document
	var metaJSON string
	var fileType, status string
	var lastProcessed int64
	if err := row.Scan(&doc.DocID, &doc.SourcePath, &fileType, &metaJSON, &status, &doc.SizeBytes, &doc.NodeCount, &lastProcessed, &doc.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	doc.FileType = model.FileType(fileType)
	doc.Status = model.DocumentStatus(status)
	doc.LastProcessedAt = time.Unix(lastProcessed, 0)
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMsg string) error {
	where := map[string]interface{}{"doc_id": docID}
	update := map[string]interface{}{"status": string(status), "error": errMsg}
	return s.exec(ctx, where, update)
}

func (s *Store) UpdateAfterProcessing(ctx context.Context, docID string, nodeCount int, status model.DocumentStatus) error {
	where := map[string]interface{}{"doc_id": docID}
	update := map[string]interface{}{
		"node_count":        nodeCount,
		"status":            string(status),
		"last_processed_at": time.Now().Unix(),
		"error":             "",
	}
	return s.exec(ctx, where, update)
}

func (s *Store) exec(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	where := map[string]interface{}{"doc_id": docID}
	sqlStr, args, err := builder.BuildDelete("documents", where)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	where = map[string]interface{}{"doc_id": docID}
	sqlStr, args, err = builder.BuildDelete("document_states", where)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// AcquireLock implements the per-document lock of spec.md §5: a second
// ingest attempt against a doc_id already locked fails with ErrDocumentBusy.
// Stale locks (older than lockTTL, e.g. a crashed worker) are reclaimed.
func (s *Store) AcquireLock(ctx context.Context, docID, owner string) error {
	now := time.Now()
	staleBefore := now.Add(-lockTTL).Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET locked_by = ?, locked_at = ? WHERE doc_id = ? AND (locked_by = '' OR locked_at < ?)`,
		owner, now.Unix(), docID, staleBefore,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrDocumentBusy
	}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, docID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET locked_by = '', locked_at = 0 WHERE doc_id = ? AND locked_by = ?`,
		docID, owner,
	)
	return err
}

func (s *Store) GetDocumentState(ctx context.Context, docID string) (*model.DocumentState, error) {
	where := map[string]interface{}{"doc_id": docID}
	cols := []string{"doc_id", "file_hash", "chunk_hashes", "chunk_ids", "last_processed_at", "metadata_snapshot"}
	sqlStr, args, err := builder.BuildSelect("document_states", where, cols)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	var st model.DocumentState
	var chunkHashesJSON, chunkIDsJSON, metaJSON string
	var lastProcessed int64
	if err := row.Scan(&st.DocID, &st.FileHash, &chunkHashesJSON, &chunkIDsJSON, &lastProcessed, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(chunkHashesJSON), &st.ChunkHashes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chunkIDsJSON), &st.ChunkIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &st.MetadataSnapshot); err != nil {
		return nil, err
	}
	st.LastProcessedAt = time.Unix(lastProcessed, 0)
	return &st, nil
}

// PutDocumentState upserts the DocumentState blob for a doc_id.
func (s *Store) PutDocumentState(ctx context.Context, st *model.DocumentState) error {
	chunkHashesJSON, err := json.Marshal(st.ChunkHashes)
	if err != nil {
		return err
	}
	chunkIDsJSON, err := json.Marshal(st.ChunkIDs)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(st.MetadataSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_states (doc_id, file_hash, chunk_hashes, chunk_ids, last_processed_at, metadata_snapshot)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			file_hash = excluded.file_hash,
			chunk_hashes = excluded.chunk_hashes,
			chunk_ids = excluded.chunk_ids,
			last_processed_at = excluded.last_processed_at,
			metadata_snapshot = excluded.metadata_snapshot
	`, st.DocID, st.FileHash, string(chunkHashesJSON), string(chunkIDsJSON), st.LastProcessedAt.Unix(), string(metaJSON))
	return err
}

// ListStale returns doc_ids whose last_processed_at is older than before,
// used by the stale-document resync sweep job.
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id FROM documents WHERE status = 'completed' AND last_processed_at < ? ORDER BY last_processed_at ASC LIMIT ?`,
		before.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
