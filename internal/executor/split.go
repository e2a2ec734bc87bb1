package executor

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
)

// segmentChunkKind maps a coarse SegmentStrategy (spec.md §4.6 step 1) onto
// the C3 chunker that implements it: the executor's split step is just the
// boundary-priority chunker run with a much larger chunk_size than the
// document's own chunking plan, so sentence/semantic/paragraph boundaries
// are respected the same way a normal chunk would respect them.
func segmentChunkKind(strategy model.SegmentStrategy) model.ChunkingKind {
	switch strategy {
	case model.SegmentStrategySentence:
		return model.ChunkingSentence
	case model.SegmentStrategyParagraph:
		return model.ChunkingParagraph
	case model.SegmentStrategySemantic:
		return model.ChunkingSemantic
	default:
		return model.ChunkingFixed
	}
}

// split runs C3's coarse boundary chunker over the full document text to
// produce ordered Segments no larger than plan.SegmentSize. Segment.OrdinalBase
// is the segment's position in source order (0, 1, 2, ...); the merge step
// (merge.go) uses it to recover global chunk ordinals once every segment's
// actual chunk count is known, since that count can't be predicted at split
// time (spec.md §4.6 step 5).
func split(ctx context.Context, docID string, text string, plan model.ProcessingPlan) ([]model.Segment, error) {
	size := plan.SegmentSize
	if size <= 0 {
		size = 1 << 20
	}
	kind := segmentChunkKind(plan.SegmentStrategy)
	chunker, err := chunk.New(kind)
	if err != nil {
		return nil, fmt.Errorf("executor: split: %w", err)
	}
	raw, err := chunker.Chunk(ctx, text, model.ChunkingParams{Kind: kind, ChunkSize: size})
	if err != nil {
		return nil, fmt.Errorf("executor: split: %w", err)
	}

	segments := make([]model.Segment, 0, len(raw))
	for i, rc := range raw {
		segments = append(segments, model.Segment{
			SegmentID:   ids.NewSegmentID(),
			DocID:       docID,
			OrdinalBase: i,
			Text:        rc.Text,
			ByteStart:   rc.Metadata.StartOffset,
			ByteEnd:     rc.Metadata.EndOffset,
		})
	}
	return segments, nil
}
