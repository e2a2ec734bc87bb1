// Package retriever is C10, the Hybrid Retriever & Reranker: parallel
// vector and lexical search, independent min-max score normalization,
// weighted fusion, optional LLM rerank of the top results. Grounded on
// enterprise_kb/core/hybrid_retrieval.py's HybridRetrievalEngine, with its
// vector_weight=0.7/keyword_weight=0.3 defaults carried over exactly
// (config.RetrievalConfig's applyRetrievalDefaults).
package retriever

import (
	"context"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// queryTaskType is the Gemini-style embedding task type queries are
// embedded under; asymmetric embedding models specialize this differently
// from pipeline.embedTaskType's "RETRIEVAL_DOCUMENT".
const queryTaskType = "RETRIEVAL_QUERY"

const maxQueryChars = 8192

// Retriever answers SearchQuery requests against C5's vector store.
type Retriever struct {
	vstore  vectorstore.Store
	manager *ai.Manager
	cfg     config.RetrievalConfig
}

func New(vstore vectorstore.Store, manager *ai.Manager, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{vstore: vstore, manager: manager, cfg: cfg}
}

// Search runs one hybrid retrieval. An empty or overlong query text is
// rejected with appErr.ErrInvalidQuery; zero matching chunks is a valid,
// non-error outcome (an empty slice), per spec.md §8's retrieval
// properties.
func (r *Retriever) Search(ctx context.Context, query model.SearchQuery) ([]model.RetrievalResult, error) {
	if len(query.Text) == 0 || len(query.Text) > maxQueryChars {
		return nil, fmt.Errorf("retriever: query text must be 1..%d chars: %w", maxQueryChars, appErr.ErrInvalidQuery)
	}
	topK := query.TopK
	if topK <= 0 {
		topK = 10
	}
	fetchK := topK * 3

	vectorHits, lexicalHits, err := r.fetch(ctx, query, fetchK)
	if err != nil {
		return nil, err
	}

	wVector, wLexical := r.cfg.WVector, r.cfg.WLexical
	switch {
	case query.VectorOnly:
		wVector, wLexical = 1, 0
	case query.LexicalOnly:
		wVector, wLexical = 0, 1
	}

	fused := fuse(vectorHits, lexicalHits, wVector, wLexical)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	if query.Rerank && len(fused) > 0 && r.manager != nil {
		fused = rerank(ctx, r.manager, query.Text, fused, r.cfg.RerankTopN)
	}
	return fused, nil
}

// fetch runs the vector and lexical legs concurrently. A backend that does
// not support lexical search (vectorstore.ErrLexicalUnsupported) degrades
// to vector-only rather than failing the whole query, unless the caller
// explicitly asked for LexicalOnly.
func (r *Retriever) fetch(ctx context.Context, query model.SearchQuery, fetchK int) ([]model.RetrievalResult, []model.RetrievalResult, error) {
	var vectorHits, lexicalHits []model.RetrievalResult
	var vectorErr, lexicalErr error
	var wg sync.WaitGroup

	if !query.LexicalOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorHits, vectorErr = r.vectorSearch(ctx, query, fetchK)
		}()
	}
	if !query.VectorOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := r.vstore.LexicalSearch(ctx, query.Text, fetchK, query.Filter)
			if err != nil {
				if err == vectorstore.ErrLexicalUnsupported && !query.LexicalOnly {
					return
				}
				lexicalErr = err
				return
			}
			lexicalHits = hits
		}()
	}
	wg.Wait()

	if vectorErr != nil {
		return nil, nil, fmt.Errorf("retriever: vector search: %w", vectorErr)
	}
	if lexicalErr != nil {
		return nil, nil, fmt.Errorf("retriever: lexical search: %w", lexicalErr)
	}
	return vectorHits, lexicalHits, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query model.SearchQuery, fetchK int) ([]model.RetrievalResult, error) {
	if r.manager == nil {
		return nil, fmt.Errorf("retriever: no embedder configured for vector search")
	}
	queries := []string{query.Text}
	if (query.QueryRewrite || r.cfg.QueryRewrite) && r.cfg.RewriteCount > 0 {
		paraphrases, err := rewriteQuery(ctx, r.manager, query.Text, r.cfg.RewriteCount)
		if err != nil {
			logutil.GetLogger(ctx).Warn("retriever: query rewrite failed, searching original query only", zap.Error(err))
		} else {
			queries = append(queries, paraphrases...)
		}
	}

	merged := make(map[string]model.RetrievalResult)
	for _, q := range queries {
		vec, err := r.manager.Embed(ctx, q, queryTaskType)
		if err != nil {
			if q == query.Text {
				return nil, err
			}
			logutil.GetLogger(ctx).Warn("retriever: embed rewritten query failed, skipping it", zap.String("query", q), zap.Error(err))
			continue
		}
		hits, err := r.vstore.VectorSearch(ctx, vec, fetchK, query.Filter)
		if err != nil {
			if q == query.Text {
				return nil, err
			}
			continue
		}
		for _, h := range hits {
			if existing, ok := merged[h.ChunkID]; !ok || h.VectorScore > existing.VectorScore {
				merged[h.ChunkID] = h
			}
		}
	}

	out := make([]model.RetrievalResult, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	return out, nil
}
