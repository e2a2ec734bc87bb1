package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
)

func init() {
	Register("qdrant", createQdrantStore)
}

// qdrantStore is a minimal REST client to Qdrant. It assumes cosine
// distance and creates the collection on EnsureCollection if missing.
// It carries no lexical index of its own.
type qdrantStore struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func createQdrantStore(args interface{}) (Store, error) {
	cfg, ok := args.(config.VectorStoreConfig)
	if !ok {
		return nil, fmt.Errorf("qdrant store: unexpected config type %T", args)
	}
	if cfg.Endpoint == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("vector_store.endpoint and collection are required for qdrant")
	}
	return &qdrantStore{
		url:        strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *qdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body)
}

func (s *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := map[string]any{
			"doc_id":       r.DocID,
			"chunk_id":     r.ChunkID,
			"ordinal":      r.Ordinal,
			"text":         r.Text,
			"content_hash": r.ContentHash,
		}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points[i] = map[string]any{
			"id":      r.ChunkID,
			"vector":  r.Embedding,
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body)
}

func (s *qdrantStore) DeleteByDocID(ctx context.Context, docID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{{"key": "doc_id", "match": map[string]any{"value": docID}}},
		},
	}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *qdrantStore) DeleteByIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	body := map[string]any{"points": chunkIDs}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *qdrantStore) VectorSearch(ctx context.Context, query []float32, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	if qf := qdrantFilter(filter); qf != nil {
		req["filter"] = qf
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}
	out := make([]model.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, model.RetrievalResult{
			ChunkID:     stringField(r.Payload, "chunk_id"),
			DocID:       stringField(r.Payload, "doc_id"),
			Text:        stringField(r.Payload, "text"),
			Metadata:    payloadMetadata(r.Payload),
			VectorScore: r.Score,
		})
	}
	return out, nil
}

func (s *qdrantStore) LexicalSearch(ctx context.Context, text string, topK int, filter model.Filter) ([]model.RetrievalResult, error) {
	return nil, ErrLexicalUnsupported
}

// qdrantFilter translates the shared equality/membership filter language
// into Qdrant's must-clause filter. Unsupported operators have no
// representation in model.Filter, so every field here is either "match
// value" or "match any" — nothing is approximated.
func qdrantFilter(filter model.Filter) map[string]any {
	var must []map[string]any
	for k, v := range filter.Eq {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}
	for k, vs := range filter.In {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"any": vs}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadMetadata(payload map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range payload {
		switch k {
		case "chunk_id", "doc_id", "text", "ordinal", "content_hash":
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (s *qdrantStore) putJSON(ctx context.Context, url string, body any) error {
	return s.do(ctx, http.MethodPut, url, body, nil)
}

func (s *qdrantStore) postJSON(ctx context.Context, url string, body any, out any) error {
	return s.do(ctx, http.MethodPost, url, body, out)
}

func (s *qdrantStore) do(ctx context.Context, method, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
