package retriever

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/model"
)

// rerank re-scores the top topN fused results with a cross-encoder-style
// LLM prompt (ai.Manager.RerankPrompt) and re-sorts that prefix by the new
// score, leaving the remainder in fused order behind it. This is spec.md
// §4.9's optional rerank pass; enterprise_kb/core/hybrid_retrieval.py's
// _rerank_results is a cheap keyword-overlap heuristic instead of a model
// call, which SPEC_FULL.md's expansion upgrades to the LLM scorer
// ai.Manager.RerankPrompt already implements.
func rerank(ctx context.Context, manager *ai.Manager, query string, results []model.RetrievalResult, topN int) []model.RetrievalResult {
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}
	logger := logutil.GetLogger(ctx)
	for i := 0; i < topN; i++ {
		score, err := rerankScore(ctx, manager, query, results[i].Text)
		if err != nil {
			logger.Warn("retriever: rerank scoring failed, keeping fused score", zap.String("chunk_id", results[i].ChunkID), zap.Error(err))
			continue
		}
		results[i].RerankScore = &score
	}

	head := results[:topN]
	sortByRerankThenFused(head)
	return results
}

func rerankScore(ctx context.Context, manager *ai.Manager, query, passage string) (float64, error) {
	raw, err := manager.RerankPrompt(ctx, query, passage)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("retriever: rerank response %q is not a number: %w", raw, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func sortByRerankThenFused(results []model.RetrievalResult) {
	// insertion sort: topN is small (RerankTopN defaults to 20), and this
	// keeps the comparison's tie-break logic (missing RerankScore falls
	// back to FusedScore) easy to read in one place.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func less(a, b model.RetrievalResult) bool {
	return scoreOf(a) > scoreOf(b)
}

func scoreOf(r model.RetrievalResult) float64 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	return r.FusedScore
}
