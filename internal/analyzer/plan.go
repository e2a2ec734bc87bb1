package analyzer

import (
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/model"
)

const (
	sizeMediumBytes  int64 = 50_000
	sizeHighBytes    int64 = 500_000
	tokensMedium           = 8_000
	tokensHigh             = 80_000
	longSentenceChars      = 120
)

// classifyComplexity is a direct port of spec.md §4.1's policy prose into a
// points table: size, token estimate, and structural richness each add
// weight, then the total is bucketed.
func classifyComplexity(f model.DocumentFeatures) model.Complexity {
	score := 0
	switch {
	case f.SizeBytes >= sizeHighBytes:
		score += 2
	case f.SizeBytes >= sizeMediumBytes:
		score++
	}
	switch {
	case f.EstimatedTokens >= tokensHigh:
		score += 2
	case f.EstimatedTokens >= tokensMedium:
		score++
	}
	if f.HasTables {
		score++
	}
	if f.HasCode {
		score++
	}
	if f.HasImages {
		score++
	}
	if f.HeadingDepth >= 3 {
		score++
	}
	if f.PageCount >= 20 {
		score++
	}
	switch {
	case score >= 4:
		return model.ComplexityHigh
	case score >= 2:
		return model.ComplexityMedium
	default:
		return model.ComplexityLow
	}
}

// convertToMarkdown: false for code and simple text; true by default for
// pdf/docx/html once complexity reaches MEDIUM or above.
func convertToMarkdown(f model.DocumentFeatures) bool {
	switch f.FileType {
	case model.FileTypePDF, model.FileTypeDOCX, model.FileTypeHTML:
		return f.Complexity != model.ComplexityLow
	default:
		return false
	}
}

// chooseChunkingKind follows spec.md §4.1's selection order: file-type-
// specific kinds first, then structural signals, then a semantic fallback.
func chooseChunkingKind(f model.DocumentFeatures) model.ChunkingKind {
	switch f.FileType {
	case model.FileTypeMD:
		return model.ChunkingMarkdownRecursive
	case model.FileTypeCode:
		return model.ChunkingCodeAware
	case model.FileTypeTable:
		return model.ChunkingTableAware
	}
	switch {
	case f.HasCode:
		return model.ChunkingCodeAware
	case f.HasTables:
		return model.ChunkingTableAware
	case f.HeadingDepth >= 2:
		return model.ChunkingHierarchical
	default:
		return model.ChunkingSemantic
	}
}

type sizeOverlap struct {
	Size, Overlap int
}

// chunkTable is the (file_type, complexity) -> (chunk_size, chunk_overlap)
// lookup spec.md §4.1 calls for. Code and tabular content keep little to no
// overlap since the chunker family never splits a fenced block or table row
// mid-way regardless; prose-heavy types get proportionally larger overlap as
// complexity rises.
var chunkTable = map[model.FileType]map[model.Complexity]sizeOverlap{
	model.FileTypeMD: {
		model.ComplexityLow: {800, 80}, model.ComplexityMedium: {600, 100}, model.ComplexityHigh: {400, 120},
	},
	model.FileTypeTXT: {
		model.ComplexityLow: {1000, 100}, model.ComplexityMedium: {700, 120}, model.ComplexityHigh: {500, 150},
	},
	model.FileTypePDF: {
		model.ComplexityLow: {900, 100}, model.ComplexityMedium: {600, 120}, model.ComplexityHigh: {400, 150},
	},
	model.FileTypeDOCX: {
		model.ComplexityLow: {900, 100}, model.ComplexityMedium: {600, 120}, model.ComplexityHigh: {400, 150},
	},
	model.FileTypeHTML: {
		model.ComplexityLow: {900, 90}, model.ComplexityMedium: {600, 110}, model.ComplexityHigh: {400, 140},
	},
	model.FileTypeCode: {
		model.ComplexityLow: {1200, 0}, model.ComplexityMedium: {900, 50}, model.ComplexityHigh: {600, 80},
	},
	model.FileTypeTable: {
		model.ComplexityLow: {1500, 0}, model.ComplexityMedium: {1000, 0}, model.ComplexityHigh: {700, 0},
	},
	model.FileTypeOther: {
		model.ComplexityLow: {800, 80}, model.ComplexityMedium: {600, 100}, model.ComplexityHigh: {400, 120},
	},
}

func chunkSizeOverlap(fileType model.FileType, complexity model.Complexity, avgSentenceLen float64, defaults config.ChunkingConfig) (size, overlap int) {
	row, ok := chunkTable[fileType]
	if !ok {
		row = chunkTable[model.FileTypeOther]
	}
	so, ok := row[complexity]
	if !ok {
		so = row[model.ComplexityMedium]
	}
	size, overlap = so.Size, so.Overlap
	if avgSentenceLen > longSentenceChars && overlap > 0 {
		overlap += overlap / 2
		if overlap >= size {
			overlap = size - 1
		}
	}
	if size <= 0 {
		size = defaults.ChunkSize
	}
	return size, overlap
}

// segmentStrategyFor picks the parallel executor's segment-splitting
// strategy to match the chunking kind the segments will ultimately be fed
// into, so segment boundaries don't fight chunk boundaries.
func segmentStrategyFor(kind model.ChunkingKind) model.SegmentStrategy {
	switch kind {
	case model.ChunkingSentence:
		return model.SegmentStrategySentence
	case model.ChunkingSemantic:
		return model.SegmentStrategySemantic
	case model.ChunkingHierarchical, model.ChunkingMarkdownRecursive, model.ChunkingCodeAware, model.ChunkingTableAware:
		return model.SegmentStrategyParagraph
	default:
		return model.SegmentStrategyFixedSize
	}
}

func (a *Analyzer) useParallel(f model.DocumentFeatures) bool {
	return f.SizeBytes >= a.parallel.ByteThreshold || f.EstimatedTokens >= a.parallel.TokenThreshold
}

func (a *Analyzer) buildPlan(f model.DocumentFeatures, datasourceName string) model.ProcessingPlan {
	kind := chooseChunkingKind(f)
	size, overlap := chunkSizeOverlap(f.FileType, f.Complexity, f.AvgSentenceLen, a.chunking)

	plan := model.ProcessingPlan{
		ConvertToMarkdown: convertToMarkdown(f),
		Chunking: model.ChunkingParams{
			Kind:             kind,
			ChunkSize:        size,
			ChunkOverlap:     overlap,
			RespectStructure: a.chunking.RespectMarkdown || kind == model.ChunkingHierarchical || kind == model.ChunkingMarkdownRecursive,
			Language:         f.Language,
			CodeSummaryTokenCeiling: a.chunking.CodeSummaryTokenCeiling,
		},
		UseParallel:     a.useParallel(f),
		SegmentStrategy: segmentStrategyFor(kind),
		UseIncremental:  true,
		AllowPartial:    f.Complexity == model.ComplexityHigh,
		DatasourceName:  datasourceName,
	}
	if plan.UseParallel {
		plan.SegmentSize = a.parallel.ChunkSize
	}
	return plan
}
