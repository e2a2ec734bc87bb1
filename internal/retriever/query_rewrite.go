package retriever

import (
	"context"
	"strings"

	"github.com/xxxsen/kbengine/internal/ai"
)

// rewriteQuery asks the generator for up to n alternative phrasings of
// text and returns them as a cleaned, deduplicated list (never including
// text itself — the caller already searches the original). A response the
// model returns with fewer than n usable lines, or none at all, is not an
// error: the caller falls back to searching only the original query.
func rewriteQuery(ctx context.Context, manager *ai.Manager, text string, n int) ([]string, error) {
	raw, err := manager.RewriteQuery(ctx, text, n)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(text)): true}
	out := make([]string, 0, n)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) >= n {
			break
		}
	}
	return out, nil
}
