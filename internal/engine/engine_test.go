package engine_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/analyzer"
	"github.com/xxxsen/kbengine/internal/broker"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/engine"
	"github.com/xxxsen/kbengine/internal/executor"
	"github.com/xxxsen/kbengine/internal/incremental"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/retriever"
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

// fakeFileStore serves in-memory content by key, standing in for the
// registry's local/s3 adapters: no "memory" filestore.Store exists in the
// registry itself, so tests supply their own.
type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]string
}

func (f *fakeFileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[key]
	if !ok {
		return nil, errors.New("fakeFileStore: not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func newTestEngine(t *testing.T, files map[string]string) (*engine.Engine, *statestore.Store, *broker.Broker) {
	t.Helper()
	dbConn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	store := statestore.New(dbConn)
	fstore := &fakeFileStore{files: files}

	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)
	manager := ai.NewManager(&fakeEmbedder{dim: 4}, nil, ai.ManagerConfig{MaxInputChars: 100_000})

	an := analyzer.New(
		config.ChunkingConfig{ChunkSize: 500, ChunkOverlap: 50, ChunkingType: string(model.ChunkingFixed)},
		config.ParallelConfig{ByteThreshold: 1 << 30, TokenThreshold: 1 << 30},
	)

	b := broker.New(dbConn, broker.Config{MaxRetries: 0, TaskTimeLimitSeconds: 5})
	b.ConfigureQueue(executor.SegmentQueue, 2)
	b.ConfigureQueue(engine.IngestQueue, 2)

	exec := executor.New(b, manager, vs, store)
	incr := incremental.New(store, vs, manager, 0.5)
	retr := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	eng := engine.New(store, vs, fstore, an, manager, exec, incr, retr, b)
	eng.RegisterHandlers()
	return eng, store, b
}

func awaitTerminal(t *testing.T, b *broker.Broker, taskID string) *model.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := b.Get(context.Background(), taskID)
		require.NoError(t, err)
		if rec.State.IsTerminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", taskID)
	return nil
}

func TestIngestProcessesNewDocumentToCompletion(t *testing.T) {
	eng, store, b := newTestEngine(t, map[string]string{
		"doc1.txt": strings.Repeat("alpha beta gamma delta epsilon ", 40),
	})

	taskID, err := eng.Ingest(context.Background(), "doc-1", "doc1.txt", map[string]string{"source": "unit-test"})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	rec := awaitTerminal(t, b, taskID)
	require.Equal(t, model.TaskStateSucceeded, rec.State)

	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
}

func TestIngestRejectsMissingFields(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	_, err := eng.Ingest(context.Background(), "", "doc1.txt", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrValidation))

	_, err = eng.Ingest(context.Background(), "doc-1", "", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrValidation))
}

func TestResyncReprocessesExistingDocument(t *testing.T) {
	eng, store, b := newTestEngine(t, map[string]string{
		"doc1.txt": strings.Repeat("alpha beta gamma delta epsilon ", 40),
	})

	taskID, err := eng.Ingest(context.Background(), "doc-1", "doc1.txt", nil)
	require.NoError(t, err)
	rec := awaitTerminal(t, b, taskID)
	require.Equal(t, model.TaskStateSucceeded, rec.State)

	require.NoError(t, eng.Resync(context.Background(), "doc-1"))

	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
}

func TestStatusReturnsNotFoundForUnknownDocument(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	_, err := eng.Status(context.Background(), "missing-doc")
	require.Error(t, err)
	require.True(t, appErr.IsNotFound(err))
}

func TestDeleteRemovesDocumentAndChunks(t *testing.T) {
	eng, store, b := newTestEngine(t, map[string]string{
		"doc1.txt": strings.Repeat("alpha beta gamma delta epsilon ", 40),
	})

	taskID, err := eng.Ingest(context.Background(), "doc-1", "doc1.txt", nil)
	require.NoError(t, err)
	awaitTerminal(t, b, taskID)

	require.NoError(t, eng.Delete(context.Background(), "doc-1"))

	_, err = store.GetDocument(context.Background(), "doc-1")
	require.True(t, appErr.IsNotFound(err))
}

func TestSearchDelegatesToRetriever(t *testing.T) {
	eng, _, b := newTestEngine(t, map[string]string{
		"doc1.txt": strings.Repeat("kubernetes rollout strategy guide ", 40),
	})

	taskID, err := eng.Ingest(context.Background(), "doc-1", "doc1.txt", nil)
	require.NoError(t, err)
	awaitTerminal(t, b, taskID)

	results, err := eng.Search(context.Background(), model.SearchQuery{Text: "kubernetes rollout", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestCancelDoesNotHangAndTaskReachesTerminal(t *testing.T) {
	eng, _, b := newTestEngine(t, map[string]string{
		"doc1.txt": strings.Repeat("alpha beta gamma delta epsilon ", 40),
	})

	taskID, err := eng.Ingest(context.Background(), "doc-1", "doc1.txt", nil)
	require.NoError(t, err)

	// The task may already be running or done by the time Cancel reaches
	// it (Cancel returns nil for an already-terminal task), so just make
	// sure the call doesn't hang and the task still reaches a terminal state.
	_ = eng.Cancel(context.Background(), taskID)
	awaitTerminal(t, b, taskID)
}
