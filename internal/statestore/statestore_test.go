package statestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/statestore"
)

func newStore(t *testing.T) *statestore.Store {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return statestore.New(conn)
}

func TestDocumentCRUD(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	doc := &model.Document{
		DocID:      "doc-1",
		SourcePath: "/tmp/doc-1.md",
		FileType:   model.FileTypeMD,
		Metadata:   map[string]string{"source": "unit-test"},
		Status:     model.DocumentStatusPending,
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	fetched, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, fetched.Status)
	require.Equal(t, "unit-test", fetched.Metadata["source"])

	require.NoError(t, store.UpdateAfterProcessing(ctx, "doc-1", 3, model.DocumentStatusCompleted))
	fetched, err = store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, fetched.Status)
	require.Equal(t, 3, fetched.NodeCount)

	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))
	_, err = store.GetDocument(ctx, "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestLockIsExclusive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &model.Document{DocID: "doc-2", Status: model.DocumentStatusPending}))

	require.NoError(t, store.AcquireLock(ctx, "doc-2", "worker-a"))
	err := store.AcquireLock(ctx, "doc-2", "worker-b")
	require.ErrorIs(t, err, appErr.ErrDocumentBusy)

	require.NoError(t, store.ReleaseLock(ctx, "doc-2", "worker-a"))
	require.NoError(t, store.AcquireLock(ctx, "doc-2", "worker-b"))
}

func TestDocumentStateRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	st := &model.DocumentState{
		DocID:            "doc-3",
		FileHash:         statestore.HashContent([]byte("hello world")),
		ChunkHashes:      []string{"h1", "h2"},
		ChunkIDs:         []string{"c1", "c2"},
		LastProcessedAt:  time.Now().Truncate(time.Second),
		MetadataSnapshot: map[string]string{"k": "v"},
	}
	require.NoError(t, store.PutDocumentState(ctx, st))

	fetched, err := store.GetDocumentState(ctx, "doc-3")
	require.NoError(t, err)
	require.Equal(t, st.FileHash, fetched.FileHash)
	require.Equal(t, st.ChunkHashes, fetched.ChunkHashes)

	st.ChunkHashes = []string{"h1", "h2", "h3"}
	require.NoError(t, store.PutDocumentState(ctx, st))
	fetched, err = store.GetDocumentState(ctx, "doc-3")
	require.NoError(t, err)
	require.Len(t, fetched.ChunkHashes, 3)
}
