package incremental

// lcsAlignment returns, for every index in newHashes, the index in oldHashes
// it is aligned to by the longest common subsequence of the two hash lists,
// or -1 if that new chunk has no counterpart in the old sequence. Unlike a
// plain set difference (what enterprise_kb/core/incremental_processor.py
// does: added = new - old, removed = old - new), this keeps the *order* of
// matches consistent with both sequences, so a chunk that moved because
// something was inserted or deleted ahead of it is still recognized as
// "unchanged" rather than as a delete-and-add pair — spec.md §4.8 requires
// the richer LCS alignment specifically for this reason.
func lcsAlignment(oldHashes, newHashes []string) []int {
	n, m := len(oldHashes), len(newHashes)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldHashes[i] == newHashes[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	alignment := make([]int, m)
	for j := range alignment {
		alignment[j] = -1
	}
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldHashes[i] == newHashes[j] && dp[i][j] == dp[i+1][j+1]+1:
			alignment[j] = i
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return alignment
}

// deltaStats summarizes an alignment: how many old chunks have no surviving
// match (removed) and how many new chunks matched nothing in the old
// sequence (added).
type deltaStats struct {
	Added   int
	Removed int
}

func computeDelta(alignment []int, oldLen int) deltaStats {
	matchedOld := make(map[int]bool, len(alignment))
	stats := deltaStats{}
	for _, oldIdx := range alignment {
		if oldIdx < 0 {
			stats.Added++
			continue
		}
		matchedOld[oldIdx] = true
	}
	stats.Removed = oldLen - len(matchedOld)
	return stats
}

// ratio is the fraction of the old chunk set that changed shape (spec.md
// §4.8's delta_ratio), the gate decide between a targeted partial update and
// a full reprocess.
func (d deltaStats) ratio(oldLen int) float64 {
	denom := oldLen
	if denom <= 0 {
		denom = 1
	}
	return float64(d.Added+d.Removed) / float64(denom)
}
