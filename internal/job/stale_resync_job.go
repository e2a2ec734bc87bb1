package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/statestore"
)

// ResyncFunc re-ingests a document by doc_id, typically engine.Engine.Resync.
type ResyncFunc func(ctx context.Context, docID string) error

// StaleResyncJob is the supplemented "stale-document resync sweep": documents
// that have not been reprocessed in staleAfter are periodically re-submitted
// through the incremental path, so content changed outside the watched
// upload flow (e.g. edited at the source) eventually gets picked up.
type StaleResyncJob struct {
	store      *statestore.Store
	resync     ResyncFunc
	staleAfter time.Duration
	batchSize  int
}

func NewStaleResyncJob(store *statestore.Store, resync ResyncFunc, staleAfter time.Duration, batchSize int) *StaleResyncJob {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &StaleResyncJob{store: store, resync: resync, staleAfter: staleAfter, batchSize: batchSize}
}

func (j *StaleResyncJob) Name() string {
	return "stale_document_resync"
}

func (j *StaleResyncJob) Run(ctx context.Context) error {
	if j.store == nil || j.resync == nil {
		return nil
	}
	before := time.Now().Add(-j.staleAfter)
	ids, err := j.store.ListStale(ctx, before, j.batchSize)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	for _, docID := range ids {
		if err := j.resync(ctx, docID); err != nil {
			logger.Warn("stale resync failed", zap.String("doc_id", docID), zap.Error(err))
			continue
		}
		logger.Info("stale document resynced", zap.String("doc_id", docID))
	}
	return nil
}
