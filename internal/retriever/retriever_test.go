package retriever_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/retriever"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// fakeEmbedder returns a vector where the first dimension carries a
// per-text similarity signal: the closer the text is to the query the
// caller compares against, the higher the dot product. Real embedders
// don't work this way, but it gives deterministic, orderable vector scores
// without a real model.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		if i >= 4 {
			break
		}
		v[i] = float32(r % 31)
	}
	return v, nil
}
func (fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeGenerator struct{ score string }

func (f fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.score, nil
}

func seedStore(t *testing.T) vectorstore.Store {
	t.Helper()
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, vs.EnsureCollection(ctx, 4))
	docs := []struct {
		id, text string
	}{
		{"c1", "kubernetes deployment rollout strategy"},
		{"c2", "postgres vacuum tuning guide"},
		{"c3", "kubernetes service mesh networking"},
		{"c4", "go garbage collector internals"},
	}
	records := make([]vectorstore.Record, 0, len(docs))
	emb := fakeEmbedder{}
	for _, d := range docs {
		vec, _ := emb.Embed(ctx, d.text, "RETRIEVAL_DOCUMENT")
		records = append(records, vectorstore.Record{ChunkID: d.id, DocID: "doc-1", Text: d.text, Embedding: vec})
	}
	require.NoError(t, vs.Upsert(ctx, records))
	return vs
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	vs := seedStore(t)
	manager := ai.NewManager(fakeEmbedder{}, nil, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	_, err := r.Search(context.Background(), model.SearchQuery{Text: ""})
	require.Error(t, err)
	require.True(t, appErr.IsFatal(err))
}

func TestSearchReturnsEmptyNotErrorOnNoHits(t *testing.T) {
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)
	manager := ai.NewManager(fakeEmbedder{}, nil, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "anything", TopK: 5})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchVectorOnlyMatchesPureVectorOrdering(t *testing.T) {
	vs := seedStore(t)
	manager := ai.NewManager(fakeEmbedder{}, nil, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "kubernetes rollout", TopK: 4, VectorOnly: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, res := range results {
		require.Zero(t, res.LexicalScore)
	}
}

func TestSearchFusesVectorAndLexical(t *testing.T) {
	vs := seedStore(t)
	manager := ai.NewManager(fakeEmbedder{}, nil, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "kubernetes", TopK: 4})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, res := range results {
		require.InDelta(t, res.FusedScore, 0.7*res.VectorScore+0.3*res.LexicalScore, 1e-9)
	}
}

func TestSearchRerankReordersTopN(t *testing.T) {
	vs := seedStore(t)
	manager := ai.NewManager(fakeEmbedder{}, fakeGenerator{score: "0.9"}, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3, RerankTopN: 2})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "kubernetes", TopK: 4, Rerank: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.NotNil(t, results[0].RerankScore)
	require.Equal(t, fmt.Sprintf("%.1f", 0.9), fmt.Sprintf("%.1f", *results[0].RerankScore))
}

// queryAwareEmbedder returns a fixed vector per exact text match, so a test
// can control cosine similarity precisely instead of relying on
// fakeEmbedder's char-code heuristic.
type queryAwareEmbedder struct{ vectors map[string][]float32 }

func (q queryAwareEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	v, ok := q.vectors[text]
	if !ok {
		return nil, fmt.Errorf("queryAwareEmbedder: no vector registered for %q", text)
	}
	return v, nil
}
func (queryAwareEmbedder) ModelName() string { return "query-aware-fake" }

// rewriteFixtureVectors places c1 closest to "original query" and c4/c5
// closest to "paraphrase query", with c2/c3 in between — so the top 3
// matches against "original query" alone are c1/c2/c3, while unioning in
// the paraphrase leg displaces c2/c3 with the closer c4/c5.
func rewriteFixtureVectors() map[string][]float32 {
	return map[string][]float32{
		"original query":   {1, 0, 0, 0},
		"paraphrase query":  {0, 1, 0, 0},
		"c1":                {1, 0, 0, 0},
		"c2":                {0.866, 0.5, 0, 0},
		"c3":                {0.766, 0.643, 0, 0},
		"c4":                {0.174, 0.985, 0, 0},
		"c5":                {0.259, 0.966, 0, 0},
	}
}

func seedRewriteStore(t *testing.T, emb queryAwareEmbedder) vectorstore.Store {
	t.Helper()
	vs, err := vectorstore.New(config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, vs.EnsureCollection(ctx, 4))
	require.NoError(t, vs.Upsert(ctx, []vectorstore.Record{
		{ChunkID: "c1", DocID: "doc-1", Text: "c1", Embedding: emb.vectors["c1"]},
		{ChunkID: "c2", DocID: "doc-1", Text: "c2", Embedding: emb.vectors["c2"]},
		{ChunkID: "c3", DocID: "doc-1", Text: "c3", Embedding: emb.vectors["c3"]},
		{ChunkID: "c4", DocID: "doc-1", Text: "c4", Embedding: emb.vectors["c4"]},
		{ChunkID: "c5", DocID: "doc-1", Text: "c5", Embedding: emb.vectors["c5"]},
	}))
	return vs
}

func rewriteFixtureIDs(results []model.RetrievalResult) map[string]bool {
	ids := make(map[string]bool, len(results))
	for _, res := range results {
		ids[res.ChunkID] = true
	}
	return ids
}

func TestSearchQueryRewriteUnionsParaphraseHits(t *testing.T) {
	emb := queryAwareEmbedder{vectors: rewriteFixtureVectors()}
	vs := seedRewriteStore(t, emb)
	manager := ai.NewManager(emb, fakeGenerator{score: "paraphrase query"}, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3, QueryRewrite: true, RewriteCount: 1})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "original query", TopK: 3, VectorOnly: true})
	require.NoError(t, err)

	ids := rewriteFixtureIDs(results)
	require.True(t, ids["c1"], "expected original-query hit c1 to still be present, got %v", ids)
	require.True(t, ids["c4"], "expected rewrite paraphrase hit c4 to be unioned in, got %v", ids)
	require.True(t, ids["c5"], "expected rewrite paraphrase hit c5 to be unioned in, got %v", ids)
	require.False(t, ids["c2"], "c2 should be displaced by the closer paraphrase hits, got %v", ids)
	require.False(t, ids["c3"], "c3 should be displaced by the closer paraphrase hits, got %v", ids)
}

func TestSearchQueryRewriteDisabledByDefault(t *testing.T) {
	emb := queryAwareEmbedder{vectors: rewriteFixtureVectors()}
	vs := seedRewriteStore(t, emb)
	manager := ai.NewManager(emb, fakeGenerator{score: "paraphrase query"}, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "original query", TopK: 3, VectorOnly: true})
	require.NoError(t, err)

	ids := rewriteFixtureIDs(results)
	require.True(t, ids["c1"])
	require.True(t, ids["c2"])
	require.True(t, ids["c3"])
	require.False(t, ids["c4"], "rewrite is off by default, paraphrase hits must not be merged in, got %v", ids)
	require.False(t, ids["c5"], "rewrite is off by default, paraphrase hits must not be merged in, got %v", ids)
}

func TestSearchQueryRewriteFailureFallsBackToOriginalQuery(t *testing.T) {
	emb := queryAwareEmbedder{vectors: rewriteFixtureVectors()}
	vs := seedRewriteStore(t, emb)
	manager := ai.NewManager(emb, errGenerator{}, ai.ManagerConfig{})
	r := retriever.New(vs, manager, config.RetrievalConfig{WVector: 0.7, WLexical: 0.3, QueryRewrite: true, RewriteCount: 1})

	results, err := r.Search(context.Background(), model.SearchQuery{Text: "original query", TopK: 3, VectorOnly: true})
	require.NoError(t, err)

	ids := rewriteFixtureIDs(results)
	require.True(t, ids["c1"])
	require.True(t, ids["c2"])
	require.True(t, ids["c3"])
	require.False(t, ids["c4"], "a failed rewrite call must fall back to the original query only, got %v", ids)
	require.False(t, ids["c5"], "a failed rewrite call must fall back to the original query only, got %v", ids)
}

type errGenerator struct{}

func (errGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("generator unavailable")
}
