// Package executor is C7, the Parallel/Segmented Executor: splits a large
// document into Segments, chunks+embeds+indexes each segment concurrently
// through C9's broker, then merges the per-segment results into one
// ordinal-contiguous chunk set before finalizing the document the same way
// the single-document pipeline (C6) does. This is the spec.md §4.6 path the
// analyzer (C2) routes a document onto when plan.UseParallel is true,
// grounded on enterprise_kb/core/parallel_processor.py's split/map/merge
// shape but dispatched onto the in-process broker rather than a thread pool.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/broker"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// SegmentQueue is the broker queue segment tasks are submitted to; its
// worker concurrency should be configured from config.ParallelConfig's
// MaxWorkers via Broker.ConfigureQueue before any document is processed.
const SegmentQueue = "document.segment"

const segmentTaskName = "process_segment"

// Executor drives the split/dispatch/merge cycle for one document at a
// time. It holds no per-document state itself; everything it needs travels
// through the broker's TaskRecord.Payload/ResultRef.
type Executor struct {
	broker  *broker.Broker
	manager *ai.Manager
	vstore  vectorstore.Store
	state   *statestore.Store
}

func New(b *broker.Broker, manager *ai.Manager, vstore vectorstore.Store, state *statestore.Store) *Executor {
	return &Executor{broker: b, manager: manager, vstore: vstore, state: state}
}

// RegisterHandlers binds the segment task handler to the broker. Call once
// during wiring, before any ProcessDocument.
func (e *Executor) RegisterHandlers() {
	e.broker.RegisterHandler(segmentTaskName, newSegmentHandler(e.manager, e.vstore))
}

// ProcessDocument runs the parallel path for one document: split the full
// text into segments, process every segment concurrently via the broker,
// then either merge the succeeded results into the document's final chunk
// set or roll the partial work back, depending on plan.AllowPartial and
// spec.md §8's rollback-atomicity property.
func (e *Executor) ProcessDocument(ctx context.Context, doc *model.Document, plan model.ProcessingPlan, text string) error {
	logger := logutil.GetLogger(ctx)

	segments, err := split(ctx, doc.DocID, text, plan)
	if err != nil {
		_ = e.state.UpdateStatus(ctx, doc.DocID, model.DocumentStatusFailed, err.Error())
		return fmt.Errorf("executor: split document %s: %w", doc.DocID, err)
	}
	if len(segments) == 0 {
		err := fmt.Errorf("executor: document %s produced no segments: %w", doc.DocID, appErr.ErrValidation)
		_ = e.state.UpdateStatus(ctx, doc.DocID, model.DocumentStatusFailed, err.Error())
		return err
	}

	specs := make([]broker.TaskSpec, 0, len(segments))
	for _, seg := range segments {
		payload, err := broker.EncodePayload(segmentPayload{DocID: doc.DocID, Segment: seg, Params: plan.Chunking})
		if err != nil {
			return fmt.Errorf("executor: encode segment %s payload: %w", seg.SegmentID, err)
		}
		specs = append(specs, broker.TaskSpec{Name: segmentTaskName, Payload: payload, Queue: SegmentQueue})
	}

	logger.Info("executor: dispatching segments", zap.String("doc_id", doc.DocID), zap.Int("segments", len(segments)))
	result, err := e.broker.Group(ctx, specs)
	if err != nil {
		return fmt.Errorf("executor: dispatch segments for %s: %w", doc.DocID, err)
	}

	outcomes, succeededIDs, decodeErr := e.collectOutcomes(ctx, result.TaskIDs)
	if decodeErr != nil {
		return fmt.Errorf("executor: collect segment results for %s: %w", doc.DocID, decodeErr)
	}

	if result.Failed > 0 || result.Canceled > 0 {
		if !plan.AllowPartial {
			return e.rollback(ctx, doc, succeededIDs, fmt.Errorf(
				"executor: document %s: %d/%d segments failed: %w",
				doc.DocID, result.Failed+result.Canceled, len(segments), appErr.ErrSegmentFailure))
		}
		logger.Warn("executor: partial document accepted", zap.String("doc_id", doc.DocID),
			zap.Int("failed", result.Failed), zap.Int("canceled", result.Canceled))
	}

	merged := mergeOutcomes(outcomes)
	if err := reindexWithCorrectedOrdinals(ctx, e.vstore, doc, merged); err != nil {
		return e.rollback(ctx, doc, succeededIDs, fmt.Errorf("executor: reindex merged chunks for %s: %w", doc.DocID, err))
	}

	status := model.DocumentStatusCompleted
	if result.Failed > 0 || result.Canceled > 0 {
		status = model.DocumentStatusPartial
	}
	if err := finalize(ctx, e.state, doc, text, merged, status); err != nil {
		return fmt.Errorf("executor: finalize %s: %w", doc.DocID, err)
	}
	return nil
}

// collectOutcomes decodes every succeeded segment task's ResultRef and
// gathers the chunk_ids of all succeeded segments, which rollback needs
// regardless of whether the merge below ultimately runs.
func (e *Executor) collectOutcomes(ctx context.Context, taskIDs []string) ([]segmentOutcome, []string, error) {
	outcomes := make([]segmentOutcome, 0, len(taskIDs))
	chunkIDs := make([]string, 0)
	for _, id := range taskIDs {
		rec, err := e.broker.Get(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("get segment task %s: %w", id, err)
		}
		if rec.State != model.TaskStateSucceeded || rec.ResultRef == "" {
			continue
		}
		var out segmentOutcome
		if err := json.Unmarshal([]byte(rec.ResultRef), &out); err != nil {
			return nil, nil, fmt.Errorf("decode segment task %s result: %w", id, err)
		}
		outcomes = append(outcomes, out)
		for _, c := range out.Chunks {
			chunkIDs = append(chunkIDs, c.ChunkID)
		}
	}
	return outcomes, chunkIDs, nil
}

// rollback deletes every chunk any succeeded segment already upserted and
// marks the document failed, so a failed parallel ingest leaves zero trace
// in the vector store (spec.md §8's rollback-atomicity property).
func (e *Executor) rollback(ctx context.Context, doc *model.Document, chunkIDs []string, cause error) error {
	if len(chunkIDs) > 0 {
		if err := e.vstore.DeleteByIDs(ctx, chunkIDs); err != nil {
			logutil.GetLogger(ctx).Error("executor: rollback delete failed", zap.String("doc_id", doc.DocID), zap.Error(err))
		}
	}
	_ = e.state.UpdateStatus(ctx, doc.DocID, model.DocumentStatusFailed, cause.Error())
	return cause
}
