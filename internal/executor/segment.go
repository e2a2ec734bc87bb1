package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/pipeline"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// segmentPayload is what the executor submits onto the "document.segment"
// queue for one Segment: the segment itself plus enough of the document's
// ProcessingPlan to run chunk->embed on it the same way the single-document
// pipeline would.
type segmentPayload struct {
	DocID   string               `json:"doc_id"`
	Segment model.Segment        `json:"segment"`
	Params  model.ChunkingParams `json:"params"`
}

// segmentOutcome is the segment task's result, round-tripped through the
// broker's TaskRecord.ResultRef as JSON. It carries full Chunks (including
// embeddings), not just ids, because the merge step (merge.go) re-upserts
// every chunk once with its corrected global ordinal, and doing that without
// re-embedding requires the embedding to already be in hand.
type segmentOutcome struct {
	OrdinalSeq int           `json:"ordinal_seq"`
	Chunks     []model.Chunk `json:"chunks"`
}

// newSegmentHandler builds the broker.Handler registered under
// "process_segment": chunk -> embed -> upsert(partial) for one segment,
// spec.md §4.6 step 2. Ordinals assigned here are local to the segment
// (0-based); they are corrected to global ordinals by the merge step once
// the document's group has finished (every segment succeeded, or the plan
// allows a partial result).
func newSegmentHandler(manager *ai.Manager, store vectorstore.Store) func(ctx context.Context, payload []byte) (string, error) {
	return func(ctx context.Context, raw []byte) (string, error) {
		var p segmentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", fmt.Errorf("executor: segment: decode payload: %w", err)
		}

		chunker, err := chunk.New(p.Params.Kind)
		if err != nil {
			return "", fmt.Errorf("executor: segment %s: %w", p.Segment.SegmentID, err)
		}
		chunker = chunk.WithCodeSummary(chunker, manager, p.Params.CodeSummaryTokenCeiling)
		rawChunks, err := chunker.Chunk(ctx, p.Segment.Text, p.Params)
		if err != nil {
			return "", fmt.Errorf("executor: segment %s: chunk: %w", p.Segment.SegmentID, err)
		}

		chunks := make([]model.Chunk, 0, len(rawChunks))
		for local, rc := range rawChunks {
			chunks = append(chunks, model.Chunk{
				ChunkID:     ids.NewChunkID(),
				DocID:       p.DocID,
				Ordinal:     local,
				Text:        rc.Text,
				Metadata:    rc.Metadata,
				ContentHash: statestore.HashContent([]byte(rc.Text)),
			})
		}

		if err := pipeline.EmbedChunks(ctx, manager, chunks); err != nil {
			return "", fmt.Errorf("executor: segment %s: embed: %w", p.Segment.SegmentID, err)
		}
		if err := pipeline.IndexChunks(ctx, store, &model.Document{DocID: p.DocID}, chunks); err != nil {
			return "", fmt.Errorf("executor: segment %s: index: %w", p.Segment.SegmentID, err)
		}

		out := segmentOutcome{OrdinalSeq: p.Segment.OrdinalBase, Chunks: chunks}
		result, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("executor: segment %s: encode result: %w", p.Segment.SegmentID, err)
		}
		return string(result), nil
	}
}
