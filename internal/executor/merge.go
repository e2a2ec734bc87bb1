package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/pipeline"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// mergeOutcomes flattens a document's segment outcomes into one ordinal-
// contiguous chunk list. Results are sorted by OrdinalSeq (the segment's
// position in source order) rather than by completion order, since the
// broker's worker pool finishes segments out of order; each chunk then gets
// a fresh global ordinal from a running counter so the merged set satisfies
// the [0, node_count) contiguity invariant exactly, regardless of how many
// chunks any one segment produced (spec.md §4.6 step 5 / §8 contiguity
// property).
func mergeOutcomes(outcomes []segmentOutcome) []model.Chunk {
	sorted := make([]segmentOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrdinalSeq < sorted[j].OrdinalSeq })

	merged := make([]model.Chunk, 0)
	next := 0
	for _, out := range sorted {
		for _, c := range out.Chunks {
			c.Ordinal = next
			merged = append(merged, c)
			next++
		}
	}
	return merged
}

// reindexWithCorrectedOrdinals re-upserts every merged chunk under its
// corrected global ordinal. This is a second write to each chunk_id the
// segment handler already upserted once with a provisional local ordinal;
// vectorstore.Store.Upsert is idempotent by chunk_id, so the net effect is
// just replacing the stale ordinal, not duplicating the chunk.
func reindexWithCorrectedOrdinals(ctx context.Context, store vectorstore.Store, doc *model.Document, chunks []model.Chunk) error {
	return pipeline.IndexChunks(ctx, store, doc, chunks)
}

// finalize snapshots the merged chunk set into the document state store and
// updates the document's status/node_count, mirroring
// pipeline/finalize_stage.go's finalizeProcessor for the single-document
// path.
func finalize(ctx context.Context, store *statestore.Store, doc *model.Document, text string, chunks []model.Chunk, status model.DocumentStatus) error {
	chunkIDs := make([]string, len(chunks))
	chunkHashes := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
		chunkHashes[i] = c.ContentHash
	}

	state := &model.DocumentState{
		DocID:            doc.DocID,
		FileHash:         statestore.HashContent([]byte(text)),
		ChunkHashes:      chunkHashes,
		ChunkIDs:         chunkIDs,
		LastProcessedAt:  time.Now(),
		MetadataSnapshot: doc.Metadata,
	}
	if err := store.PutDocumentState(ctx, state); err != nil {
		return fmt.Errorf("put document state: %w", err)
	}
	if err := store.UpdateAfterProcessing(ctx, doc.DocID, len(chunks), status); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	doc.NodeCount = len(chunks)
	doc.Status = status
	return nil
}
