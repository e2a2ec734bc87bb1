package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/broker"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/executor"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

type fakeEmbedder struct {
	dim     int
	failOn  string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedder: simulated failure")
	}
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7.0
	}
	return vec, nil
}
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

func newTestExecutor(t *testing.T, embedder ai.IEmbedder) (*executor.Executor, *statestore.Store, vectorstore.Store) {
	t.Helper()
	dbConn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	store := statestore.New(dbConn)
	manager := ai.NewManager(embedder, nil, ai.ManagerConfig{MaxInputChars: 10_000})
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)

	b := broker.New(dbConn, broker.Config{MaxRetries: 0, TaskTimeLimitSeconds: 5})
	b.ConfigureQueue(executor.SegmentQueue, 4)

	exec := executor.New(b, manager, vs, store)
	exec.RegisterHandlers()
	return exec, store, vs
}

func longText(paragraphs int) string {
	var sb strings.Builder
	for i := 0; i < paragraphs; i++ {
		if i%2 == 0 {
			sb.WriteString("alpha paragraph ")
		} else {
			sb.WriteString("beta paragraph ")
		}
		sb.WriteString(strings.Repeat("word ", 20))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func allRecordsForDoc(t *testing.T, vs vectorstore.Store, docID string) []model.RetrievalResult {
	t.Helper()
	results, err := vs.VectorSearch(context.Background(), make([]float32, 4), 1000, model.Filter{})
	require.NoError(t, err)
	out := make([]model.RetrievalResult, 0)
	for _, r := range results {
		if r.DocID == docID {
			out = append(out, r)
		}
	}
	return out
}

func testPlan() model.ProcessingPlan {
	return model.ProcessingPlan{
		UseParallel:     true,
		SegmentSize:     80,
		SegmentStrategy: model.SegmentStrategyParagraph,
		Chunking:        model.ChunkingParams{Kind: model.ChunkingFixed, ChunkSize: 40, ChunkOverlap: 0},
	}
}

func TestProcessDocumentMergesContiguousOrdinals(t *testing.T) {
	exec, store, vs := newTestExecutor(t, &fakeEmbedder{dim: 4})
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-par-1", SourcePath: "big.txt", FileType: model.FileTypeTXT, Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	text := longText(12)
	require.NoError(t, exec.ProcessDocument(ctx, doc, testPlan(), text))

	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
	require.Equal(t, doc.NodeCount, len(allRecordsForDoc(t, vs, doc.DocID)))

	got, err := store.GetDocument(ctx, doc.DocID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, got.Status)
	require.Equal(t, doc.NodeCount, got.NodeCount)

	state, err := store.GetDocumentState(ctx, doc.DocID)
	require.NoError(t, err)
	require.Len(t, state.ChunkIDs, doc.NodeCount)
	require.Len(t, state.ChunkHashes, doc.NodeCount)
}

func TestProcessDocumentRollsBackOnSegmentFailure(t *testing.T) {
	exec, store, vs := newTestExecutor(t, &fakeEmbedder{dim: 4, failOn: "beta"})
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-par-2", SourcePath: "big.txt", FileType: model.FileTypeTXT, Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	err := exec.ProcessDocument(ctx, doc, testPlan(), longText(12))
	require.Error(t, err)

	require.Empty(t, allRecordsForDoc(t, vs, doc.DocID))

	got, dbErr := store.GetDocument(ctx, doc.DocID)
	require.NoError(t, dbErr)
	require.Equal(t, model.DocumentStatusFailed, got.Status)
	require.NotEmpty(t, got.Error)
}

func TestProcessDocumentAllowsPartialWhenConfigured(t *testing.T) {
	exec, store, vs := newTestExecutor(t, &fakeEmbedder{dim: 4, failOn: "beta"})
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-par-3", SourcePath: "big.txt", FileType: model.FileTypeTXT, Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	plan := testPlan()
	plan.AllowPartial = true

	err := exec.ProcessDocument(ctx, doc, plan, longText(12))
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPartial, doc.Status)
	require.NotEmpty(t, allRecordsForDoc(t, vs, doc.DocID))
}
