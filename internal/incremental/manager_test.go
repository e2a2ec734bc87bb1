package incremental_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/incremental"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7.0
	}
	return vec, nil
}
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

func rawChunks(texts ...string) []model.RawChunk {
	out := make([]model.RawChunk, len(texts))
	for i, t := range texts {
		out[i] = model.RawChunk{Text: t}
	}
	return out
}

func newTestManager(t *testing.T) (*incremental.Manager, *statestore.Store, vectorstore.Store) {
	t.Helper()
	dbConn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	store := statestore.New(dbConn)
	manager := ai.NewManager(&fakeEmbedder{dim: 4}, nil, ai.ManagerConfig{MaxInputChars: 10_000})
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)

	return incremental.New(store, vs, manager, 0.5), store, vs
}

func TestApplyFirstIngestIsFullReprocess(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	doc := &model.Document{DocID: "doc-1", Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	result, err := mgr.Apply(ctx, doc, "v1", rawChunks("alpha", "beta", "gamma"))
	require.NoError(t, err)
	require.True(t, result.FullReprocess)
	require.Equal(t, 3, result.NodeCount)
}

func TestApplyPreservesChunkIDsForUnchangedChunks(t *testing.T) {
	mgr, store, vs := newTestManager(t)
	ctx := context.Background()
	doc := &model.Document{DocID: "doc-2", Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	_, err := mgr.Apply(ctx, doc, "v1", rawChunks("alpha", "beta", "gamma", "delta"))
	require.NoError(t, err)
	before, err := store.GetDocumentState(ctx, doc.DocID)
	require.NoError(t, err)

	// Insert one new chunk between beta and gamma: alpha/beta/gamma/delta
	// should keep their identity despite the insertion shifting positions.
	result, err := mgr.Apply(ctx, doc, "v2", rawChunks("alpha", "beta", "NEW", "gamma", "delta"))
	require.NoError(t, err)
	require.False(t, result.FullReprocess)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 0, result.Removed)
	require.Equal(t, 5, result.NodeCount)

	after, err := store.GetDocumentState(ctx, doc.DocID)
	require.NoError(t, err)
	require.Equal(t, before.ChunkIDs[0], after.ChunkIDs[0]) // alpha
	require.Equal(t, before.ChunkIDs[1], after.ChunkIDs[1]) // beta
	require.Equal(t, before.ChunkIDs[2], after.ChunkIDs[3]) // gamma, shifted
	require.Equal(t, before.ChunkIDs[3], after.ChunkIDs[4]) // delta, shifted

	results, err := vs.VectorSearch(ctx, make([]float32, 4), 100, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestApplySkipsReprocessWhenFileHashUnchanged(t *testing.T) {
	mgr, store, vs := newTestManager(t)
	ctx := context.Background()
	doc := &model.Document{DocID: "doc-4", Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	first, err := mgr.Apply(ctx, doc, "same bytes", rawChunks("alpha", "beta"))
	require.NoError(t, err)
	require.False(t, first.DocumentUnchanged)
	before, err := store.GetDocumentState(ctx, doc.DocID)
	require.NoError(t, err)

	result, err := mgr.Apply(ctx, doc, "same bytes", rawChunks("alpha", "beta"))
	require.NoError(t, err)
	require.True(t, result.DocumentUnchanged)
	require.Equal(t, 2, result.NodeCount)

	after, err := store.GetDocumentState(ctx, doc.DocID)
	require.NoError(t, err)
	require.Equal(t, before.ChunkIDs, after.ChunkIDs)

	loaded, err := store.GetDocument(ctx, doc.DocID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, loaded.Status)

	results, err := vs.VectorSearch(ctx, make([]float32, 4), 100, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestApplyForcesFullReprocessPastThreshold(t *testing.T) {
	mgr, store, vs := newTestManager(t)
	ctx := context.Background()
	doc := &model.Document{DocID: "doc-3", Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	_, err := mgr.Apply(ctx, doc, "v1", rawChunks("alpha", "beta"))
	require.NoError(t, err)

	result, err := mgr.Apply(ctx, doc, "v2", rawChunks("totally", "different", "content", "entirely"))
	require.NoError(t, err)
	require.True(t, result.FullReprocess)

	results, err := vs.VectorSearch(ctx, make([]float32, 4), 100, model.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 4)
}
