package chunk_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/chunk"
	"github.com/xxxsen/kbengine/internal/model"
)

func TestCodeAwareNeverSplitsFencedBlock(t *testing.T) {
	c, err := chunk.New(model.ChunkingCodeAware)
	require.NoError(t, err)

	body := strings.Repeat("x = 1\n", 200)
	input := "setup code\n\n```python\n" + body + "```\n\nmore code"
	raws, err := c.Chunk(context.Background(), input, model.ChunkingParams{
		Kind:      model.ChunkingCodeAware,
		ChunkSize: 100,
	})
	require.NoError(t, err)

	var fenceChunks int
	for _, r := range raws {
		if strings.Contains(r.Text, "```") {
			fenceChunks++
			require.True(t, r.Metadata.Oversized)
			require.Equal(t, model.BoundaryCodeBlock, r.Metadata.BoundaryKind)
			require.Contains(t, r.Text, body)
		}
	}
	require.Equal(t, 1, fenceChunks)
}

func TestTableAwareNeverSplitsRowRun(t *testing.T) {
	c, err := chunk.New(model.ChunkingTableAware)
	require.NoError(t, err)

	rows := strings.Repeat("| a | b | c |\n", 40)
	input := "intro\n\n" + rows + "\noutro"
	raws, err := c.Chunk(context.Background(), input, model.ChunkingParams{
		Kind:      model.ChunkingTableAware,
		ChunkSize: 50,
	})
	require.NoError(t, err)

	var tableChunks int
	for _, r := range raws {
		if strings.Contains(r.Text, "| a | b | c |") {
			tableChunks++
			require.Equal(t, model.BoundaryTable, r.Metadata.BoundaryKind)
		}
	}
	require.Equal(t, 1, tableChunks)
}
