package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// indexProcessor upserts embedded chunks into the vector store (C5). It
// plays the role processors.py's VectorizationProcessor's final step
// describes but never implemented ("简化示例，实际应连接到向量数据库" — "a
// simplified example, should really connect to a vector database").
type indexProcessor struct {
	store vectorstore.Store
}

func NewIndexProcessor(store vectorstore.Store) Processor {
	return &indexProcessor{store: store}
}

func (p *indexProcessor) Name() string { return "index" }

func (p *indexProcessor) SupportedTypes() []model.FileType { return nil }

func (p *indexProcessor) Process(ctx context.Context, pc *Context) error {
	return IndexChunks(ctx, p.store, pc.Document, pc.Chunks)
}

// IndexChunks upserts chunks into store under doc's identity. Exported so the
// parallel executor (C7) can index a single segment's chunks through the
// same path the document-level pipeline uses.
func IndexChunks(ctx context.Context, store vectorstore.Store, doc *model.Document, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := len(chunks[0].Embedding)
	if err := store.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("pipeline: index: ensure collection: %w", err)
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, vectorstore.Record{
			ChunkID:     c.ChunkID,
			DocID:       c.DocID,
			Ordinal:     c.Ordinal,
			Text:        c.Text,
			Metadata:    chunkMetadataTags(c.Metadata, doc),
			ContentHash: c.ContentHash,
			Embedding:   c.Embedding,
		})
	}
	if err := store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("pipeline: index: upsert: %w", err)
	}
	return nil
}

// chunkMetadataTags flattens a chunk's structural metadata plus the
// document's own metadata into the string-keyed filter tags a vectorstore
// record carries.
func chunkMetadataTags(meta model.ChunkMetadata, doc *model.Document) map[string]string {
	tags := make(map[string]string, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		tags[k] = v
	}
	tags["file_type"] = string(meta.FileType)
	tags["boundary_kind"] = string(meta.BoundaryKind)
	if meta.Language != "" {
		tags["language"] = meta.Language
	}
	return tags
}
