package chunk

import (
	"regexp"
	"unicode/utf8"

	"github.com/xxxsen/kbengine/internal/model"
)

// boundary is a candidate split point inside a text.
type boundary struct {
	Offset int
	Kind   model.BoundaryKind
}

var (
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)
	codeFenceRe      = regexp.MustCompile("(?s)```.*?```")
	tableRowRunRe    = regexp.MustCompile(`(?m)(?:^\|.+\|.*$\n?)+`)
)

// findSentenceBoundaries returns byte offsets immediately after each sentence
// terminator in text. It recognizes ASCII `.!?` and the CJK terminators
// 。！？；…. Quotation marks are not paired: a terminator inside a quote
// still ends a sentence.
func findSentenceBoundaries(text string) []boundary {
	var out []boundary
	b := []byte(text)
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if isSentenceTerminator(r) {
			out = append(out, boundary{Offset: i + size, Kind: model.BoundarySentence})
		}
		i += size
	}
	return out
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', '…':
		return true
	default:
		return false
	}
}

// findParagraphBoundaries returns offsets at blank-line separated paragraph
// breaks.
func findParagraphBoundaries(text string) []boundary {
	var out []boundary
	for _, loc := range paragraphBreakRe.FindAllStringIndex(text, -1) {
		out = append(out, boundary{Offset: loc[1], Kind: model.BoundaryParagraph})
	}
	return out
}

// atomicRun is a span of text that a code/table-aware chunker must never
// split: a fenced code block or a contiguous run of pipe-delimited table
// rows, detected with the regex patterns
// original_source/enterprise_kb/core/parallel_processor.py uses for its own
// semantic boundary detection (ported to Go, not transliterated).
type atomicRun struct {
	Start, End int
	Kind       model.BoundaryKind
}

func findCodeFenceRuns(text string) []atomicRun {
	var out []atomicRun
	for _, loc := range codeFenceRe.FindAllStringIndex(text, -1) {
		out = append(out, atomicRun{Start: loc[0], End: loc[1], Kind: model.BoundaryCodeBlock})
	}
	return out
}

func findTableRowRuns(text string) []atomicRun {
	var out []atomicRun
	for _, loc := range tableRowRunRe.FindAllStringIndex(text, -1) {
		out = append(out, atomicRun{Start: loc[0], End: loc[1], Kind: model.BoundaryTable})
	}
	return out
}

// boundariesAfterRuns turns each atomic run's end into a split candidate at
// the run's own priority, so a code/table-aware chunker prefers to cut right
// after a fence or table closes rather than mid-block.
func boundariesAfterRuns(runs []atomicRun) []boundary {
	out := make([]boundary, 0, len(runs))
	for _, r := range runs {
		out = append(out, boundary{Offset: r.End, Kind: r.Kind})
	}
	return out
}
