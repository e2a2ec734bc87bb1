// Package incremental is C8, the Incremental Update Manager: given a
// document's already-chunked text and its prior DocumentState (C1), decide
// whether the change is small enough to patch in place (delete the chunks
// that disappeared and keep the chunk_ids of the ones that survived; every
// chunk of the new set is still re-embedded and upserted) or large enough that a full reprocess is cheaper and safer, per spec.md
// §4.8. Grounded on enterprise_kb/core/incremental_processor.py's
// process_document_incrementally, with its set-difference replaced by the
// order-aware LCS alignment in diff.go.
package incremental

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/pipeline"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// Manager runs the incremental-or-full decision and carries it out.
type Manager struct {
	state     *statestore.Store
	vstore    vectorstore.Store
	ai        *ai.Manager
	threshold float64
}

func New(state *statestore.Store, vstore vectorstore.Store, manager *ai.Manager, forceReprocessThreshold float64) *Manager {
	if forceReprocessThreshold <= 0 {
		forceReprocessThreshold = 0.5
	}
	return &Manager{state: state, vstore: vstore, ai: manager, threshold: forceReprocessThreshold}
}

// Result reports what Apply actually did, so callers (and tests) can assert
// on the decision without re-deriving it from the store.
type Result struct {
	DocumentUnchanged bool
	FullReprocess     bool
	Added             int
	Removed           int
	Unchanged         int
	NodeCount         int
}

// Apply reconciles raw against the document's last-ingested state. Below
// threshold it deletes only the removed chunk_ids and reuses the chunk_id of
// every aligned chunk; above it, it deletes the whole document first. In both
// cases every chunk of the new set is embedded and upserted: unchanged chunks
// are not skipped. In cmd/kbengine's wiring the ai.Manager's embedder sits
// behind internal/embedcache, so a repeated (model, task_type, text) call is
// a cache hit rather than a network round trip.
func (m *Manager) Apply(ctx context.Context, doc *model.Document, text string, raw []model.RawChunk) (Result, error) {
	logger := logutil.GetLogger(ctx)

	oldState, err := m.state.GetDocumentState(ctx, doc.DocID)
	hadPrior := true
	if err != nil {
		if !appErr.IsNotFound(err) {
			return Result{}, fmt.Errorf("incremental: load prior state for %s: %w", doc.DocID, err)
		}
		hadPrior = false
		oldState = &model.DocumentState{}
	}

	// spec.md §4.8 step 1: a byte-identical re-ingest is a no-op, not a
	// reprocess — skip chunk diffing, embedding, and the vector store
	// entirely once the file hash matches the prior ingest.
	if hadPrior && statestore.HashContent([]byte(text)) == oldState.FileHash {
		if err := m.state.UpdateAfterProcessing(ctx, doc.DocID, len(oldState.ChunkIDs), model.DocumentStatusCompleted); err != nil {
			return Result{}, fmt.Errorf("incremental: mark unchanged document completed for %s: %w", doc.DocID, err)
		}
		doc.NodeCount = len(oldState.ChunkIDs)
		doc.Status = model.DocumentStatusCompleted
		logger.Info("incremental: document unchanged, skipping reprocess", zap.String("doc_id", doc.DocID))
		return Result{DocumentUnchanged: true, Unchanged: len(oldState.ChunkIDs), NodeCount: len(oldState.ChunkIDs)}, nil
	}

	newHashes := make([]string, len(raw))
	for i, rc := range raw {
		newHashes[i] = statestore.HashContent([]byte(rc.Text))
	}

	alignment := make([]int, len(raw))
	for i := range alignment {
		alignment[i] = -1
	}
	forceFull := !hadPrior
	var delta deltaStats
	if hadPrior {
		alignment = lcsAlignment(oldState.ChunkHashes, newHashes)
		delta = computeDelta(alignment, len(oldState.ChunkHashes))
		if delta.ratio(len(oldState.ChunkHashes)) >= m.threshold {
			forceFull = true
		}
	}

	chunks := make([]model.Chunk, len(raw))
	for i, rc := range raw {
		chunkID := ids.NewChunkID()
		if !forceFull && alignment[i] >= 0 {
			chunkID = oldState.ChunkIDs[alignment[i]]
		}
		chunks[i] = model.Chunk{
			ChunkID:     chunkID,
			DocID:       doc.DocID,
			Ordinal:     i,
			Text:        rc.Text,
			Metadata:    rc.Metadata,
			ContentHash: newHashes[i],
		}
	}

	if err := pipeline.EmbedChunks(ctx, m.ai, chunks); err != nil {
		return Result{}, fmt.Errorf("incremental: embed chunks for %s: %w", doc.DocID, err)
	}

	if forceFull {
		if hadPrior {
			if err := m.vstore.DeleteByDocID(ctx, doc.DocID); err != nil {
				return Result{}, fmt.Errorf("incremental: full reprocess delete for %s: %w", doc.DocID, err)
			}
		}
		logger.Info("incremental: full reprocess", zap.String("doc_id", doc.DocID), zap.Int("chunks", len(chunks)))
	} else {
		removed := removedChunkIDs(oldState.ChunkIDs, chunks)
		if len(removed) > 0 {
			if err := m.vstore.DeleteByIDs(ctx, removed); err != nil {
				return Result{}, fmt.Errorf("incremental: delete removed chunks for %s: %w", doc.DocID, err)
			}
		}
		logger.Info("incremental: partial update", zap.String("doc_id", doc.DocID),
			zap.Int("added", delta.Added), zap.Int("removed", delta.Removed))
	}

	if err := pipeline.IndexChunks(ctx, m.vstore, doc, chunks); err != nil {
		return Result{}, fmt.Errorf("incremental: index chunks for %s: %w", doc.DocID, err)
	}

	if err := m.finalize(ctx, doc, text, chunks); err != nil {
		return Result{}, fmt.Errorf("incremental: finalize %s: %w", doc.DocID, err)
	}

	unchanged := len(chunks)
	if forceFull {
		unchanged = 0
	} else {
		unchanged -= delta.Added
	}
	return Result{
		FullReprocess: forceFull,
		Added:         delta.Added,
		Removed:       delta.Removed,
		Unchanged:     unchanged,
		NodeCount:     len(chunks),
	}, nil
}

// removedChunkIDs is every chunk_id the prior state carried that the new
// chunk set no longer contains.
func removedChunkIDs(oldChunkIDs []string, newChunks []model.Chunk) []string {
	kept := make(map[string]bool, len(newChunks))
	for _, c := range newChunks {
		kept[c.ChunkID] = true
	}
	removed := make([]string, 0)
	for _, id := range oldChunkIDs {
		if !kept[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

// finalize mirrors pipeline/finalize_stage.go's DocumentState snapshot and
// document status update for the incremental path.
func (m *Manager) finalize(ctx context.Context, doc *model.Document, text string, chunks []model.Chunk) error {
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
	if err := m.state.PutDocumentState(ctx, state); err != nil {
		return fmt.Errorf("put document state: %w", err)
	}
	if err := m.state.UpdateAfterProcessing(ctx, doc.DocID, len(chunks), model.DocumentStatusCompleted); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	doc.NodeCount = len(chunks)
	doc.Status = model.DocumentStatusCompleted
	return nil
}
