package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/statestore"
)

// finalizeProcessor closes out a successful run: it records the document's
// new node_count/status and snapshots the chunk hashes the Incremental
// Update Manager (C8) diffs future re-ingests against. This is the one
// stage processors.py has no equivalent for at all — the Python pipeline
// just returns its context dict to the caller and lets some other layer
// decide what "done" means; spec.md §4.3/§4.8 require the state store to be
// the one place that decision is recorded.
type finalizeProcessor struct {
	store *statestore.Store
}

func NewFinalizeProcessor(store *statestore.Store) Processor {
	return &finalizeProcessor{store: store}
}

func (p *finalizeProcessor) Name() string { return "finalize" }

func (p *finalizeProcessor) SupportedTypes() []model.FileType { return nil }

func (p *finalizeProcessor) Process(ctx context.Context, pc *Context) error {
	chunkIDs := make([]string, len(pc.Chunks))
	chunkHashes := make([]string, len(pc.Chunks))
	for i, c := range pc.Chunks {
		chunkIDs[i] = c.ChunkID
		chunkHashes[i] = c.ContentHash
	}

	state := &model.DocumentState{
		DocID:            pc.Document.DocID,
		FileHash:         statestore.HashContent([]byte(pc.Text)),
		ChunkHashes:      chunkHashes,
		ChunkIDs:         chunkIDs,
		LastProcessedAt:  time.Now(),
		MetadataSnapshot: pc.Document.Metadata,
	}
	if err := p.store.PutDocumentState(ctx, state); err != nil {
		return fmt.Errorf("pipeline: finalize: put document state: %w", err)
	}
	if err := p.store.UpdateAfterProcessing(ctx, pc.Document.DocID, len(pc.Chunks), model.DocumentStatusCompleted); err != nil {
		return fmt.Errorf("pipeline: finalize: update document: %w", err)
	}
	pc.Document.NodeCount = len(pc.Chunks)
	pc.Document.Status = model.DocumentStatusCompleted
	return nil
}
