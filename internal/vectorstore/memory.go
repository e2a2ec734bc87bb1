package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/kbengine/internal/model"
)

func init() {
	Register("memory", createMemoryStore)
}

func createMemoryStore(args interface{}) (Store, error) {
	return newMemoryStore(), nil
}

// memoryStore is a brute-force, in-process Store used in tests. It is
// registered under "memory" like every other adapter and config accepts that
// type; records live only in process memory and are not persisted.
type memoryStore struct {
	mu      sync.RWMutex
	dim     int
	records map[string]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) EnsureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dim
	return nil
}

func (s *memoryStore) Upsert(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ChunkID] = r
	}
	return nil
}

func (s *memoryStore) DeleteByDocID(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.DocID == docID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memoryStore) DeleteByIDs(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.records, id)
	}
	return nil
}

func (s *memoryStore) VectorSearch(ctx context.Context, query []float32, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		rec   Record
		score float64
	}
	candidates := make([]scored, 0, len(s.records))
	for _, r := range s.records {
		if !matchFilter(r.Metadata, filter) {
			continue
		}
		candidates = append(candidates, scored{rec: r, score: cosine(r.Embedding, query)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}
	out := make([]model.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, model.RetrievalResult{
			ChunkID:     c.rec.ChunkID,
			DocID:       c.rec.DocID,
			Text:        c.rec.Text,
			Metadata:    c.rec.Metadata,
			VectorScore: c.score,
		})
	}
	return out, nil
}

func (s *memoryStore) LexicalSearch(ctx context.Context, text string, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil, nil
	}
	out := make([]model.RetrievalResult, 0)
	for _, r := range s.records {
		if !matchFilter(r.Metadata, filter) {
			continue
		}
		if !strings.Contains(strings.ToLower(r.Text), needle) {
			continue
		}
		out = append(out, model.RetrievalResult{
			ChunkID:      r.ChunkID,
			DocID:        r.DocID,
			Text:         r.Text,
			Metadata:     r.Metadata,
			LexicalScore: 1,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func matchFilter(metadata map[string]string, filter model.Filter) bool {
	for k, v := range filter.Eq {
		if metadata[k] != v {
			return false
		}
	}
	for k, vs := range filter.In {
		actual, ok := metadata[k]
		if !ok {
			return false
		}
		matched := false
		for _, v := range vs {
			if actual == v {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
