package chunk_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/model"
)

func TestMarkdownRecursiveSmallDocument(t *testing.T) {
	c, err := chunk.New(model.ChunkingMarkdownRecursive)
	require.NoError(t, err)

	input := "# Title\n\npara one.\n\npara two."
	raws, err := c.Chunk(context.Background(), input, model.ChunkingParams{
		Kind:      model.ChunkingMarkdownRecursive,
		ChunkSize: 40,
	})
	require.NoError(t, err)
	require.Len(t, raws, 2)
	require.True(t, strings.Contains(raws[0].Text, "Title"))
	require.True(t, strings.Contains(raws[0].Text, "para one."))
	require.True(t, strings.Contains(raws[1].Text, "Title"))
	require.True(t, strings.Contains(raws[1].Text, "para two."))
}

func TestMarkdownRecursiveOversizedCodeBlockNeverSplits(t *testing.T) {
	c, err := chunk.New(model.ChunkingMarkdownRecursive)
	require.NoError(t, err)

	body := strings.Repeat("x", 2000)
	input := "```go\n" + body + "\n```"
	raws, err := c.Chunk(context.Background(), input, model.ChunkingParams{
		Kind:      model.ChunkingMarkdownRecursive,
		ChunkSize: 500,
	})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.True(t, raws[0].Metadata.Oversized)
	require.Equal(t, model.BoundaryCodeBlock, raws[0].Metadata.BoundaryKind)
	require.Contains(t, raws[0].Text, body)
}

func TestBoundaryChunkerSentenceModeRespectsChunkSize(t *testing.T) {
	c, err := chunk.New(model.ChunkingSentence)
	require.NoError(t, err)

	input := strings.Repeat("This is a sentence. ", 20)
	raws, err := c.Chunk(context.Background(), input, model.ChunkingParams{
		Kind:      model.ChunkingSentence,
		ChunkSize: 60,
	})
	require.NoError(t, err)
	require.True(t, len(raws) > 1)
	for _, r := range raws[:len(raws)-1] {
		require.LessOrEqual(t, len(r.Text), 60)
	}
}
