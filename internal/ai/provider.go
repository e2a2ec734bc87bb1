// Package ai is the provider side of C4, the Embedder Client: a registry of
// named IProvider backends (openai, dashscope, gemini, openrouter),
// and the Manager that composes a selected embedder with an optional
// generator used for reranking (C10) and code-block summarization (C3).
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned by a provider when it is asked for a capability
// it was not configured with credentials for.
var ErrUnavailable = errors.New("ai provider unavailable")

// IProvider is a named backend capable of text generation and/or embedding.
// A provider that does not support one of the two returns ErrUnavailable
// from that method rather than implementing a narrower interface; this keeps
// the registry and the group/fallback wrappers uniform.
type IProvider interface {
	Name() string
	Generate(ctx context.Context, model string, prompt string) (string, error)
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

// IGenerator is the narrow surface the Manager and chunker need for text
// generation (rerank prompts, code-block summaries).
type IGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IEmbedder is the narrow surface C4 exposes to the rest of the pipeline.
type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type generator struct {
	provider IProvider
	model    string
}

func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.provider.Generate(ctx, g.model, prompt)
}

type embedder struct {
	provider IProvider
	model    string
}

func NewEmbedder(p IProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

// ProviderFactory builds an IProvider from a provider-specific config blob
// (typically the decoded JSON object under that provider's name in config).
type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

// Register adds a provider factory under name. Called from each provider
// file's init(); no reflection, no decorators.
func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}
