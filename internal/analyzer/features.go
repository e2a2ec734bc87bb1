package analyzer

import (
	"regexp"
	"strings"
)

var (
	codeBlockRe        = regexp.MustCompile("(?s)```.*?```")
	tableRowRe         = regexp.MustCompile(`(?m)^\s*\|.+\|.*$`)
	mdHeadingRe        = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	underlineHeadingRe = regexp.MustCompile(`(?m)^.+\n[=\-]{2,}\s*$`)
	sentenceSplitRe    = regexp.MustCompile(`[.!?。！？]+\s*`)
)

// textFeatures runs the regex heuristics ported from
// original_source/enterprise_kb/core/parallel_processor.py's
// semantic_boundaries list: fenced code blocks, pipe-table row runs, and
// both ATX (#) and Setext (underline) markdown headings.
func textFeatures(text string) (hasCode, hasTables bool, headingDepth int, avgSentenceLen float64) {
	hasCode = codeBlockRe.MatchString(text)
	hasTables = len(tableRowRe.FindAllString(text, -1)) >= 2
	headingDepth = markdownHeadingDepth(text)
	avgSentenceLen = averageSentenceLength(text)
	return
}

func markdownHeadingDepth(text string) int {
	max := 0
	for _, m := range mdHeadingRe.FindAllString(text, -1) {
		level := 0
		for _, r := range m {
			if r != '#' {
				break
			}
			level++
		}
		if level > max {
			max = level
		}
	}
	if max == 0 && underlineHeadingRe.MatchString(text) {
		max = 1
	}
	return max
}

func averageSentenceLength(text string) float64 {
	sentences := sentenceSplitRe.Split(text, -1)
	var total, count int
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total += len([]rune(s))
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

// estimateTokens is xxxsen-mnote's chunker.estimateTokens heuristic: every
// non-ASCII rune (CJK included) counts as one token, plus one token per
// whitespace-delimited word.
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
