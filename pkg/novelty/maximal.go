package novelty

import (
	"sort"
	"strings"
)

// Maximal removes candidates whose token sequence is a contiguous
// subsequence of a longer surviving candidate with a generated frequency
// within the configured tolerance ratio. A four-gram that only ever occurs
// inside a recurring six-gram carries no signal of its own; the longer
// phrase is the proverb, the shorter ones are its shadow.
func (s *Scorer) Maximal(candidates []Candidate) []Candidate {
	if len(candidates) < 2 {
		return candidates
	}

	tolerance := s.config.OverlapTolerance
	if tolerance < 1 {
		tolerance = 1
	}

	// Longest first, so every candidate is only ever compared against
	// already-kept phrases that could contain it.
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].N > ordered[j].N
	})

	var kept []Candidate
	for _, c := range ordered {
		absorbed := false
		for _, k := range kept {
			if k.N <= c.N {
				continue
			}
			if !containsKey(k.Key, c.Key) {
				continue
			}
			// The shorter phrase escapes only when it occurs meaningfully
			// more often than the phrase containing it.
			if float64(c.GenFreq) <= float64(k.GenFreq)*tolerance {
				absorbed = true
				break
			}
		}
		if !absorbed {
			kept = append(kept, c)
		}
	}
	return kept
}

// containsKey reports whether the inner key text is a contiguous token run
// inside the outer key text. Keys are space-joined token IDs, so padding both
// sides with spaces turns the check into a plain substring match without
// false positives on partial IDs.
func containsKey(outer, inner string) bool {
	return strings.Contains(" "+outer+" ", " "+inner+" ")
}
