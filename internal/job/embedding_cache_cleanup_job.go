package job

import (
	"context"
	"time"

	"github.com/xxxsen/kbengine/internal/embedcache"
)

// EmbeddingCacheCleanupJob evicts embedding_cache rows past their max age,
// keeping the shared content-hash cache from growing unbounded.
type EmbeddingCacheCleanupJob struct {
	repo       *embedcache.Repo
	maxAgeDays int
}

func NewEmbeddingCacheCleanupJob(repo *embedcache.Repo, maxAgeDays int) *EmbeddingCacheCleanupJob {
	return &EmbeddingCacheCleanupJob{repo: repo, maxAgeDays: maxAgeDays}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	maxAgeDays := j.maxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	_, err := j.repo.DeleteOlderThan(ctx, cutoff)
	return err
}
