package chunk_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/model"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.text, f.err
}

func codeAwareInput() string {
	body := strings.Repeat("x = 1\n", 200)
	return "setup code\n\n```python\n" + body + "```\n\nmore code"
}

func TestWithCodeSummaryAppendsSummaryAlongsideRawChunk(t *testing.T) {
	base, err := chunk.New(model.ChunkingCodeAware)
	require.NoError(t, err)
	c := chunk.WithCodeSummary(base, fakeGenerator{text: "sets x to 1 repeatedly"}, 10)

	raws, err := c.Chunk(context.Background(), codeAwareInput(), model.ChunkingParams{
		Kind:      model.ChunkingCodeAware,
		ChunkSize: 100,
	})
	require.NoError(t, err)

	var rawCodeChunks, summaryChunks int
	for _, r := range raws {
		switch {
		case r.Metadata.IsSummary:
			summaryChunks++
			require.Equal(t, "sets x to 1 repeatedly", r.Text)
		case r.Metadata.BoundaryKind == model.BoundaryCodeBlock:
			rawCodeChunks++
			require.Contains(t, r.Text, "x = 1")
		}
	}
	require.Equal(t, 1, rawCodeChunks, "raw oversized code chunk must survive unchanged")
	require.Equal(t, 1, summaryChunks, "oversized code chunk gets exactly one summary supplement")
}

func TestWithCodeSummarySkipsWhenGeneratorFails(t *testing.T) {
	base, err := chunk.New(model.ChunkingCodeAware)
	require.NoError(t, err)
	c := chunk.WithCodeSummary(base, fakeGenerator{err: errors.New("boom")}, 10)

	raws, err := c.Chunk(context.Background(), codeAwareInput(), model.ChunkingParams{
		Kind:      model.ChunkingCodeAware,
		ChunkSize: 100,
	})
	require.NoError(t, err)
	for _, r := range raws {
		require.False(t, r.Metadata.IsSummary)
	}
}

func TestWithCodeSummaryDisabledWithoutGenerator(t *testing.T) {
	base, err := chunk.New(model.ChunkingCodeAware)
	require.NoError(t, err)
	c := chunk.WithCodeSummary(base, nil, 10)
	require.Same(t, base, c)
}

func TestWithCodeSummaryRespectsTokenCeiling(t *testing.T) {
	base, err := chunk.New(model.ChunkingCodeAware)
	require.NoError(t, err)
	c := chunk.WithCodeSummary(base, fakeGenerator{text: "summary"}, 1_000_000)

	raws, err := c.Chunk(context.Background(), codeAwareInput(), model.ChunkingParams{
		Kind:      model.ChunkingCodeAware,
		ChunkSize: 100,
	})
	require.NoError(t, err)
	for _, r := range raws {
		require.False(t, r.Metadata.IsSummary, "ceiling above the block's token count must suppress the summary")
	}
}
