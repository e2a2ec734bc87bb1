package chunk

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/model"
)

// summarizingChunker decorates another Chunker with xxxsen-mnote's
// long-code-block summary behavior (internal/ai/chunker.go's
// summarizeCode), generalized per spec.md's invariant that an oversized
// chunk must still be preserved as its own chunk: the summary is appended
// alongside the raw code block rather than replacing it.
type summarizingChunker struct {
	inner        Chunker
	gen          ai.IGenerator
	tokenCeiling int
}

// WithCodeSummary wraps inner so that any code_block chunk the underlying
// chunker marks Oversized and whose estimated token count exceeds
// tokenCeiling also gets a second, generated summary chunk. gen == nil or
// tokenCeiling <= 0 disables the behavior and returns inner unchanged, since
// C4's generator is an optional collaborator (spec.md §1).
func WithCodeSummary(inner Chunker, gen ai.IGenerator, tokenCeiling int) Chunker {
	if gen == nil || tokenCeiling <= 0 {
		return inner
	}
	return &summarizingChunker{inner: inner, gen: gen, tokenCeiling: tokenCeiling}
}

func (s *summarizingChunker) Chunk(ctx context.Context, text string, params model.ChunkingParams) ([]model.RawChunk, error) {
	chunks, err := s.inner.Chunk(ctx, text, params)
	if err != nil {
		return nil, err
	}
	out := make([]model.RawChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c)
		if c.Metadata.BoundaryKind != model.BoundaryCodeBlock || !c.Metadata.Oversized {
			continue
		}
		if estimateTokens(c.Text) <= s.tokenCeiling {
			continue
		}
		summary, err := s.gen.Generate(ctx, summarizeCodePrompt(c.Text))
		if err != nil {
			// Best-effort supplement: the raw chunk is already appended,
			// so a failed summary call degrades to "no summary", not data loss.
			continue
		}
		meta := c.Metadata
		meta.IsSummary = true
		out = append(out, model.RawChunk{Text: summary, Metadata: meta})
	}
	return out, nil
}

func summarizeCodePrompt(code string) string {
	return fmt.Sprintf("Summarize the following code block in 1-2 sentences. Focus on its purpose and key logic.\n\nCODE:\n%s", code)
}

// estimateTokens is the same CJK-aware heuristic the analyzer uses for
// use_parallel sizing: every non-ASCII rune (CJK included) counts as one
// token, plus one token per whitespace-delimited word.
func estimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
