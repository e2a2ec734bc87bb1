package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/model"
)

// embedTaskType is the Gemini-style embedding task type documents are
// embedded under; the retriever embeds queries under "RETRIEVAL_QUERY" so
// asymmetric embedding models can specialize each side.
const embedTaskType = "RETRIEVAL_DOCUMENT"

// embedProcessor calls C4's embedder for every chunk produced by the chunk
// stage. It plays the role processors.py's VectorizationProcessor plays,
// except VectorizationProcessor never actually embedded anything ("这里应该
// 调用向量化服务" — "a vectorization service should be called here" — its body
// was a stub); this is that call, for real, against ai.Manager.
//
// Oversized code-block chunks (chunk.fixed.go emits these whole rather than
// splitting an atomic fenced block) are embedded via their AI-generated
// summary instead of their raw text when they exceed the embedder's input
// limit, per the oversized-code-block supplement: ai.Manager.SummarizeCode
// produces a short natural-language stand-in that still fits.
type embedProcessor struct {
	manager *ai.Manager
}

func NewEmbedProcessor(manager *ai.Manager) Processor {
	return &embedProcessor{manager: manager}
}

func (p *embedProcessor) Name() string { return "embed" }

func (p *embedProcessor) SupportedTypes() []model.FileType { return nil }

func (p *embedProcessor) Process(ctx context.Context, pc *Context) error {
	return EmbedChunks(ctx, p.manager, pc.Chunks)
}

// EmbedChunks embeds chunks in place. Exported so the parallel executor (C7)
// can run the same embedding logic per segment rather than duplicating it.
func EmbedChunks(ctx context.Context, manager *ai.Manager, chunks []model.Chunk) error {
	maxChars := manager.MaxInputChars()
	for i := range chunks {
		c := &chunks[i]
		embedInput := c.Text
		if maxChars > 0 && len(c.Text) > maxChars {
			if c.Metadata.Oversized && c.Metadata.BoundaryKind == model.BoundaryCodeBlock {
				summary, err := manager.SummarizeCode(ctx, c.Text)
				if err == nil && summary != "" {
					embedInput = summary
				} else {
					embedInput = c.Text[:maxChars]
				}
			} else {
				embedInput = c.Text[:maxChars]
			}
		}
		vec, err := manager.Embed(ctx, embedInput, embedTaskType)
		if err != nil {
			return fmt.Errorf("pipeline: embed chunk %s: %w", c.ChunkID, err)
		}
		c.Embedding = vec
	}
	return nil
}
