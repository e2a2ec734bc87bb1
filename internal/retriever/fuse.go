package retriever

import (
	"sort"

	"github.com/xxxsen/kbengine/internal/model"
)

// normalizeScores min-max normalizes one score dimension across a result
// set into [0,1], independently of the other dimension — spec.md §4.9
// requires vector and lexical scores be normalized separately before
// fusion, since the two backends' raw scores live on unrelated scales
// (cosine similarity vs. a lexical engine's relevance score). A result set
// where every score is identical is treated as uniformly maximally
// relevant rather than divided by zero.
func normalizeScores(results []model.RetrievalResult, score func(model.RetrievalResult) float64) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := score(results[0]), score(results[0])
	for _, r := range results {
		s := score(r)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	for _, r := range results {
		if max == min {
			out[r.ChunkID] = 1
			continue
		}
		out[r.ChunkID] = (score(r) - min) / (max - min)
	}
	return out
}

// fuse merges independently-normalized vector and lexical hit lists into
// one ranked list, deduping by chunk_id (spec.md §4.9's
// fused = w_v*vector_norm + w_l*lexical_norm, dedup-keep-max). A chunk that
// only one side retrieved keeps a zero score on the side that missed it,
// which is the correct contribution for a weighted sum rather than an
// omission.
func fuse(vectorHits, lexicalHits []model.RetrievalResult, wVector, wLexical float64) []model.RetrievalResult {
	vNorm := normalizeScores(vectorHits, func(r model.RetrievalResult) float64 { return r.VectorScore })
	lNorm := normalizeScores(lexicalHits, func(r model.RetrievalResult) float64 { return r.LexicalScore })

	order := make([]string, 0, len(vectorHits)+len(lexicalHits))
	byID := make(map[string]*model.RetrievalResult, len(vectorHits)+len(lexicalHits))

	for _, r := range vectorHits {
		c := r
		c.VectorScore = vNorm[r.ChunkID]
		c.LexicalScore = 0
		byID[r.ChunkID] = &c
		order = append(order, r.ChunkID)
	}
	for _, r := range lexicalHits {
		if existing, ok := byID[r.ChunkID]; ok {
			existing.LexicalScore = lNorm[r.ChunkID]
			if r.Highlight != "" {
				existing.Highlight = r.Highlight
			}
			continue
		}
		c := r
		c.LexicalScore = lNorm[r.ChunkID]
		c.VectorScore = 0
		byID[r.ChunkID] = &c
		order = append(order, r.ChunkID)
	}

	seen := make(map[string]bool, len(order))
	out := make([]model.RetrievalResult, 0, len(byID))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		r := byID[id]
		r.FusedScore = wVector*r.VectorScore + wLexical*r.LexicalScore
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FusedScore > out[j].FusedScore })
	return out
}
