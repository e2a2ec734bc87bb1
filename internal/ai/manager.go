package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager is the C4 facade the pipeline and retriever depend on: Embed for
// chunk/query vectors, Generate for the C10 cross-encoder-style rerank
// prompt and the C3 oversized-code-block summary.
type Manager struct {
	embedder  IEmbedder
	generator IGenerator
	cfg       ManagerConfig
}

func NewManager(embedder IEmbedder, generator IGenerator, cfg ManagerConfig) *Manager {
	return &Manager{embedder: embedder, generator: generator, cfg: cfg}
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return m.embedder.Embed(ctx, text, taskType)
}

func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	if m.generator == nil {
		return "", fmt.Errorf("generator not configured")
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := m.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

// SummarizeCode backs the C3 oversized fenced-code-block supplement: rather
// than splitting a code block that must stay atomic, the chunker may ask for
// a short natural-language summary to embed alongside it.
func (m *Manager) SummarizeCode(ctx context.Context, code string) (string, error) {
	prompt := fmt.Sprintf("Summarize the following code block in 1-2 sentences. Focus on its purpose and key logic.\n\nCODE:\n%s", code)
	return m.Generate(ctx, prompt)
}

// RerankPrompt backs the C10 rerank step: ask the generator to score how
// well a candidate passage answers a query.
func (m *Manager) RerankPrompt(ctx context.Context, query, passage string) (string, error) {
	prompt := fmt.Sprintf(`Rate how relevant the passage is to the query on a scale from 0 to 1.
Output ONLY the number.

QUERY: %s

PASSAGE: %s`, query, passage)
	return m.Generate(ctx, prompt)
}

// RewriteQuery backs the C10 optional query-rewriting pass: ask the
// generator for up to n alternative phrasings of query, one per line, so
// the retriever can union their vector hits before fusion. Phrasings the
// model returns beyond n, or blank lines, are discarded by the caller.
func (m *Manager) RewriteQuery(ctx context.Context, query string, n int) (string, error) {
	prompt := fmt.Sprintf(`Rewrite the following search query as %d alternative phrasings that preserve
its meaning. Output ONLY the phrasings, one per line, no numbering.

QUERY: %s`, n, query)
	return m.Generate(ctx, prompt)
}

func (m *Manager) MaxInputChars() int {
	return m.cfg.MaxInputChars
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}
