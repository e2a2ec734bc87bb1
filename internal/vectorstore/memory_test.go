package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

func newMemoryStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(context.Background(), 3))
	return store
}

func TestMemoryStoreVectorSearchRanksByCosine(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Record{
		{ChunkID: "a", DocID: "doc-1", Text: "close", Embedding: []float32{1, 0, 0}},
		{ChunkID: "b", DocID: "doc-1", Text: "far", Embedding: []float32{0, 1, 0}},
		{ChunkID: "c", DocID: "doc-1", Text: "middle", Embedding: []float32{0.7, 0.7, 0}},
	}))

	results, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 2, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ChunkID)
}

func TestMemoryStoreFilterEqRestrictsResults(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Record{
		{ChunkID: "a", DocID: "doc-1", Metadata: map[string]string{"lang": "en"}, Embedding: []float32{1, 0, 0}},
		{ChunkID: "b", DocID: "doc-1", Metadata: map[string]string{"lang": "zh"}, Embedding: []float32{1, 0, 0}},
	}))

	results, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 10, model.Filter{Eq: map[string]string{"lang": "zh"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ChunkID)
}

func TestMemoryStoreDeleteByDocID(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Record{
		{ChunkID: "a", DocID: "doc-1", Embedding: []float32{1, 0, 0}},
		{ChunkID: "b", DocID: "doc-2", Embedding: []float32{1, 0, 0}},
	}))
	require.NoError(t, store.DeleteByDocID(ctx, "doc-1"))

	results, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 10, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ChunkID)
}

func TestMemoryStoreLexicalSearchSubstringMatch(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Record{
		{ChunkID: "a", DocID: "doc-1", Text: "the quick brown fox"},
		{ChunkID: "b", DocID: "doc-1", Text: "lazy dog sleeps"},
	}))

	results, err := store.LexicalSearch(ctx, "brown", 10, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].ChunkID)
}
