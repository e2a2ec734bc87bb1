package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/statestore"
)

// chunkProcessor runs the ChunkingKind the analyzer chose (C3) over pc.Text
// and turns the resulting RawChunks into ordered, hashed model.Chunk values.
// This is the Go equivalent of processors.py's ChunkingProcessor, minus its
// hand-rolled per-file-type _chunk_markdown/_chunk_pdf/_chunk_text methods:
// those collapse into chunk.New(plan.Chunking.Kind)'s single boundary-
// priority chunker.
type chunkProcessor struct{}

func init() {
	Register("chunk", func() Processor { return &chunkProcessor{} })
}

func (p *chunkProcessor) Name() string { return "chunk" }

func (p *chunkProcessor) SupportedTypes() []model.FileType { return nil }

func (p *chunkProcessor) Process(ctx context.Context, pc *Context) error {
	chunker, err := chunk.New(pc.Plan.Chunking.Kind)
	if err != nil {
		return fmt.Errorf("pipeline: chunk: %w", err)
	}
	raw, err := chunker.Chunk(ctx, pc.Text, pc.Plan.Chunking)
	if err != nil {
		return fmt.Errorf("pipeline: chunk: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(raw))
	for ordinal, rc := range raw {
		chunks = append(chunks, model.Chunk{
			ChunkID:     ids.NewChunkID(),
			DocID:       pc.Document.DocID,
			Ordinal:     ordinal,
			Text:        rc.Text,
			Metadata:    rc.Metadata,
			ContentHash: statestore.HashContent([]byte(rc.Text)),
		})
	}
	pc.Chunks = chunks
	return nil
}
