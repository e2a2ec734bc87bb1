// Package chunk is C3: the Chunker Family. A single boundary-priority model
// backs every named strategy (fixed/sentence/paragraph/semantic/hierarchical/
// code-aware/table-aware/markdown-recursive) rather than duplicating
// "semantic" vs "enhanced semantic" vs "hierarchical" variants, per the
// consolidation called for in the design notes: they differ only in which
// boundary kinds they respect, which spans they treat as atomic, and how
// eagerly they prefer high-priority boundaries.
package chunk

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/model"
)

// Chunker turns one document's text into ordered RawChunks.
type Chunker interface {
	Chunk(ctx context.Context, text string, params model.ChunkingParams) ([]model.RawChunk, error)
}

// Factory builds a Chunker. Chunkers are stateless and factories take no
// params; each Chunk call reads its behavior from model.ChunkingParams.
type Factory func() Chunker

var registry = map[model.ChunkingKind]Factory{}

// Register adds a chunker factory under kind. Called from init() in each
// strategy's file; no reflection, no decorators.
func Register(kind model.ChunkingKind, factory Factory) {
	registry[kind] = factory
}

// New looks up and constructs the chunker for kind.
func New(kind model.ChunkingKind) (Chunker, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("chunk: unknown chunking kind %q", kind)
	}
	return factory(), nil
}

func init() {
	Register(model.ChunkingFixed, func() Chunker { return &boundaryChunker{mode: modeFixed} })
	Register(model.ChunkingSentence, func() Chunker { return &boundaryChunker{mode: modeSentence} })
	Register(model.ChunkingParagraph, func() Chunker { return &boundaryChunker{mode: modeParagraph} })
	Register(model.ChunkingSemantic, func() Chunker { return &boundaryChunker{mode: modeSemantic} })
	Register(model.ChunkingHierarchical, func() Chunker { return &boundaryChunker{mode: modeHierarchical} })
	Register(model.ChunkingMarkdownRecursive, func() Chunker { return &markdownChunker{} })
	Register(model.ChunkingCodeAware, func() Chunker { return &boundaryChunker{mode: modeCode} })
	Register(model.ChunkingTableAware, func() Chunker { return &boundaryChunker{mode: modeTable} })
}
