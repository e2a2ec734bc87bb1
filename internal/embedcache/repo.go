package embedcache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbengine/internal/model"
)

// Repo is the sqlite-backed persistence half of C4's caching layer: a
// content-hash-keyed embedding store shared across documents whose chunks
// happen to contain identical text.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	where := map[string]interface{}{
		"content_hash": contentHash,
		"model":        modelName,
		"task_type":    taskType,
	}
	sqlStr, args, err := builder.BuildSelect("embedding_cache", where, []string{"embedding"})
	if err != nil {
		return nil, false, err
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	r.bumpHitCount(ctx, modelName, taskType, contentHash)
	return decodeEmbedding(blob), true, nil
}

func (r *Repo) Save(ctx context.Context, entry *model.EmbeddingCache) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model, task_type, embedding, created_at, hit_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(content_hash, model, task_type) DO NOTHING
	`, entry.ContentHash, entry.Model, entry.TaskType, encodeEmbedding(entry.Embedding), entry.CreatedAt.Unix())
	return err
}

func (r *Repo) bumpHitCount(ctx context.Context, modelName, taskType, contentHash string) {
	_, _ = r.db.ExecContext(ctx,
		`UPDATE embedding_cache SET hit_count = hit_count + 1 WHERE content_hash = ? AND model = ? AND task_type = ?`,
		contentHash, modelName, taskType,
	)
}

// DeleteOlderThan removes cache entries past cutoff, for the periodic
// embedding-cache cleanup job.
func (r *Repo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeEmbedding(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
