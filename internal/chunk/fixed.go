package chunk

import (
	"context"
	"sort"

	"github.com/xxxsen/kbengine/internal/model"
)

type chunkMode int

const (
	modeFixed chunkMode = iota
	modeSentence
	modeParagraph
	modeSemantic
	modeHierarchical
	modeCode
	modeTable
)

const defaultChunkSize = 512

// boundaryChunker implements fixed/sentence/paragraph/semantic/hierarchical/
// code_aware/table_aware as one algorithm parameterized by which boundary
// kinds it is willing to split on and model.BoundaryPriority for choosing
// among candidates. This is the "unify under one family" consolidation:
// fixed uses no boundaries at all (hard cuts), sentence/paragraph use
// exactly one boundary kind, semantic/hierarchical search both and prefer
// the higher-priority kind, and code/table additionally treat fenced code
// blocks and pipe-table row runs as indivisible atomic spans.
//
// Structural boundary kinds from real Markdown parsing (headings) only
// exist once a document has been parsed into an AST; for those, see
// markdownChunker. This chunker operates on plain runs of text, such as a
// single markdown paragraph run already isolated by the markdown chunker,
// or plain .txt/code/table input.
type boundaryChunker struct {
	mode chunkMode
}

func (c *boundaryChunker) Chunk(_ context.Context, text string, params model.ChunkingParams) ([]model.RawChunk, error) {
	size := params.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := params.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	candidates := c.candidates(text)
	runs := c.atomicRuns(text)

	var chunks []model.RawChunk
	start := 0
	for start < len(text) {
		if run := enclosingRun(start, runs); run != nil {
			end := run.End
			chunks = append(chunks, model.RawChunk{
				Text: text[start:end],
				Metadata: model.ChunkMetadata{
					BoundaryKind: run.Kind,
					StartOffset:  start,
					EndOffset:    end,
					Oversized:    end-start > size,
				},
			})
			if end >= len(text) {
				break
			}
			start = end
			continue
		}

		target := start + size
		end := len(text)
		kind := model.BoundarySentence
		if target < end {
			end, kind = bestSplit(candidates, start, target)
			if next := enclosingRun(end, runs); next != nil && next.Start > start {
				end = next.Start
				kind = model.BoundaryParagraph
			}
		}
		if end <= start {
			end = min(start+size, len(text))
		}
		raw := text[start:end]
		chunks = append(chunks, model.RawChunk{
			Text: raw,
			Metadata: model.ChunkMetadata{
				BoundaryKind: kind,
				StartOffset:  start,
				EndOffset:    end,
				Oversized:    end-start > size && end-start == len(text)-start && start == 0 && len(text) > size,
			},
		})
		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// candidates returns the boundary set this mode is allowed to split on,
// sorted by offset.
func (c *boundaryChunker) candidates(text string) []boundary {
	var out []boundary
	switch c.mode {
	case modeFixed:
		return nil
	case modeSentence:
		out = findSentenceBoundaries(text)
	case modeParagraph:
		out = findParagraphBoundaries(text)
		out = append(out, findSentenceBoundaries(text)...)
	case modeSemantic, modeHierarchical:
		out = findParagraphBoundaries(text)
		out = append(out, findSentenceBoundaries(text)...)
	case modeCode:
		out = findParagraphBoundaries(text)
		out = append(out, boundariesAfterRuns(findCodeFenceRuns(text))...)
	case modeTable:
		out = findParagraphBoundaries(text)
		out = append(out, boundariesAfterRuns(findTableRowRuns(text))...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// atomicRuns returns the spans this mode must never split inside. Only
// code/table modes carry any; every other mode's chunks are free-form text.
func (c *boundaryChunker) atomicRuns(text string) []atomicRun {
	switch c.mode {
	case modeCode:
		return findCodeFenceRuns(text)
	case modeTable:
		return findTableRowRuns(text)
	default:
		return nil
	}
}

func enclosingRun(offset int, runs []atomicRun) *atomicRun {
	for i := range runs {
		if offset >= runs[i].Start && offset < runs[i].End {
			return &runs[i]
		}
	}
	return nil
}

// bestSplit finds the highest-priority boundary at or before target (and
// strictly after start). No boundary in range means a hard cut at target —
// spec.md §8 bounds every non-atomic chunk at chunk_size, so this must never
// return an offset beyond target.
func bestSplit(candidates []boundary, start, target int) (int, model.BoundaryKind) {
	bestOffset := -1
	bestPriority := -1.0
	bestKind := model.BoundarySentence
	for _, b := range candidates {
		if b.Offset <= start || b.Offset > target {
			continue
		}
		p := model.BoundaryPriority(b.Kind)
		if p > bestPriority || (p == bestPriority && b.Offset > bestOffset) {
			bestPriority = p
			bestOffset = b.Offset
			bestKind = b.Kind
		}
	}
	if bestOffset > 0 {
		return bestOffset, bestKind
	}
	return target, model.BoundarySentence
}
