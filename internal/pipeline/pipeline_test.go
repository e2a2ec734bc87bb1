package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/pipeline"
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

func newTestEngine(t *testing.T) (*pipeline.Engine, *statestore.Store) {
	t.Helper()
	dbConn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	store := statestore.New(dbConn)
	manager := ai.NewManager(&fakeEmbedder{dim: 4}, nil, ai.ManagerConfig{MaxInputChars: 10_000})
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)

	engine, err := pipeline.New(store,
		pipeline.NewEmbedProcessor(manager),
		pipeline.NewIndexProcessor(vs),
		pipeline.NewFinalizeProcessor(store),
	)
	require.NoError(t, err)
	return engine, store
}

func TestEngineRunsAllStagesAndFinalizes(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-1", SourcePath: "notes.md", FileType: model.FileTypeMD, Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	pc := &pipeline.Context{
		Document: doc,
		Features: &model.DocumentFeatures{FileType: model.FileTypeMD},
		Plan: &model.ProcessingPlan{
			Chunking: model.ChunkingParams{Kind: model.ChunkingFixed, ChunkSize: 50, ChunkOverlap: 0},
		},
		Text: "para one has some words.\n\npara two has some more words.\n\npara three wraps it up nicely.",
	}

	require.NoError(t, engine.Run(ctx, pc))
	require.NotEmpty(t, pc.Chunks)
	for _, c := range pc.Chunks {
		require.Len(t, c.Embedding, 4)
	}

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, got.Status)
	require.Equal(t, len(pc.Chunks), got.NodeCount)

	state, err := store.GetDocumentState(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, state.ChunkHashes, len(pc.Chunks))
}

func TestEngineStopsAndMarksFailedOnValidationError(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-2", SourcePath: "empty.txt", FileType: model.FileTypeTXT, Metadata: map[string]string{}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	pc := &pipeline.Context{
		Document: doc,
		Features: &model.DocumentFeatures{FileType: model.FileTypeTXT},
		Plan:     &model.ProcessingPlan{Chunking: model.ChunkingParams{Kind: model.ChunkingFixed, ChunkSize: 50}},
		Text:     "",
	}

	err := engine.Run(ctx, pc)
	require.Error(t, err)

	got, dbErr := store.GetDocument(ctx, "doc-2")
	require.NoError(t, dbErr)
	require.Equal(t, model.DocumentStatusFailed, got.Status)
	require.NotEmpty(t, got.Error)
}
