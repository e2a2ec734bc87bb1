package analyzer_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbengine/internal/analyzer"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
)

func newAnalyzer() *analyzer.Analyzer {
	return analyzer.New(
		config.ChunkingConfig{ChunkSize: 512},
		config.ParallelConfig{ByteThreshold: 1 << 20, TokenThreshold: 100_000},
	)
}

func TestAnalyzeMarkdownPicksMarkdownRecursive(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "notes.md"}
	text := "# Title\n\npara one.\n\npara two."

	features, plan, extracted, err := a.Analyze(context.Background(), doc, []byte(text))
	require.NoError(t, err)
	require.Equal(t, model.FileTypeMD, features.FileType)
	require.Equal(t, model.ChunkingMarkdownRecursive, plan.Chunking.Kind)
	require.Equal(t, text, extracted)
}

func TestAnalyzeCodeFileForcesCodeAware(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "main.go"}

	features, plan, _, err := a.Analyze(context.Background(), doc, []byte("package main\n\nfunc main() {}\n"))
	require.NoError(t, err)
	require.True(t, features.HasCode)
	require.Equal(t, model.ChunkingCodeAware, plan.Chunking.Kind)
}

func TestAnalyzeTableFileForcesTableAware(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "data.csv"}

	features, plan, _, err := a.Analyze(context.Background(), doc, []byte("a,b,c\n1,2,3\n"))
	require.NoError(t, err)
	require.True(t, features.HasTables)
	require.Equal(t, model.ChunkingTableAware, plan.Chunking.Kind)
}

func TestAnalyzeUnknownExtensionFallsBackToText(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "README.weird"}

	features, _, extracted, err := a.Analyze(context.Background(), doc, []byte("plain text content"))
	require.NoError(t, err)
	require.Equal(t, model.FileTypeTXT, features.FileType)
	require.Equal(t, "plain text content", extracted)
}

func TestAnalyzeUnknownExtensionWithBinaryContentFails(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "blob.weird"}

	_, _, _, err := a.Analyze(context.Background(), doc, []byte{0x00, 0x01, 0x02, 0xff, 0xfe})
	require.Error(t, err)
}

func TestAnalyzeUseParallelGatesOnByteThreshold(t *testing.T) {
	a := analyzer.New(config.ChunkingConfig{ChunkSize: 512}, config.ParallelConfig{ByteThreshold: 100, TokenThreshold: 1 << 30})
	doc := model.Document{SourcePath: "big.txt"}

	big := strings.Repeat("word ", 100)
	_, plan, _, err := a.Analyze(context.Background(), doc, []byte(big))
	require.NoError(t, err)
	require.True(t, plan.UseParallel)
}

func TestAnalyzeUseParallelFalseBelowBothThresholds(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "small.txt"}

	_, plan, _, err := a.Analyze(context.Background(), doc, []byte("short text"))
	require.NoError(t, err)
	require.False(t, plan.UseParallel)
}

func TestAnalyzeHierarchicalWhenHeadingsDeepButNoMarkdownExtension(t *testing.T) {
	a := newAnalyzer()
	doc := model.Document{SourcePath: "report.txt"}
	text := "# A\n\n## B\n\nsome body text here."

	_, plan, _, err := a.Analyze(context.Background(), doc, []byte(text))
	require.NoError(t, err)
	require.Equal(t, model.ChunkingHierarchical, plan.Chunking.Kind)
}
