// Package vectorstore adapts C5's Store interface onto concrete vector
// database backends: pgvector, an in-process sqlite-vec index, and Qdrant,
// plus an in-memory adapter for tests.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
)

var ErrLexicalUnsupported = fmt.Errorf("vectorstore: backend does not support lexical search")

// Record is a chunk plus its embedding, as stored by an adapter.
type Record struct {
	ChunkID     string
	DocID       string
	Ordinal     int
	Text        string
	Metadata    map[string]string
	ContentHash string
	Embedding   []float32
}

// Store is the adapter surface every vector backend implements.
type Store interface {
	// EnsureCollection creates the backing collection/table if it does not
	// exist yet, sized to dim. Safe to call repeatedly.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or replaces records by chunk_id.
	Upsert(ctx context.Context, records []Record) error
	// DeleteByDocID removes every chunk belonging to a document.
	DeleteByDocID(ctx context.Context, docID string) error
	// DeleteByIDs removes specific chunks by chunk_id.
	DeleteByIDs(ctx context.Context, chunkIDs []string) error
	// VectorSearch returns the topK nearest chunks to query, honoring filter.
	VectorSearch(ctx context.Context, query []float32, topK int, filter model.Filter) ([]model.RetrievalResult, error)
	// LexicalSearch returns the topK keyword matches, or ErrLexicalUnsupported
	// if the backend does not carry a lexical index.
	LexicalSearch(ctx context.Context, text string, topK int, filter model.Filter) ([]model.RetrievalResult, error)
}

// Factory builds a Store from config carried by args (adapter-specific).
type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New builds the configured vector store adapter. Most callers should use
// this instead of calling a backend's factory directly, since it resolves
// cfg.Type and passes cfg itself as the adapter-specific args value.
func New(cfg config.VectorStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.vector_store_type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(cfg)
}
