package evaluator

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// DefaultDuplicateThreshold is the normalized edit-distance ratio under
// which two titles count as the same discovery worded differently.
const DefaultDuplicateThreshold = 0.25

// titleSet answers "has this discovery effectively been seen before?"
// for one turn. It is seeded with the session's existing feed titles and
// grows with every title claimed during the turn, shared across the
// turn's mode tasks.
type titleSet struct {
	mu        sync.Mutex
	threshold float64
	titles    []string
}

func newTitleSet(threshold float64) *titleSet {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	return &titleSet{threshold: threshold}
}

// seed adds a title without a duplicate check. For pre-existing feed
// content.
func (s *titleSet) seed(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, normalizeTitle(title))
}

// tryAdd claims the title if it is not a near-duplicate of any member
// and reports whether it was claimed. Claim and check are one critical
// section so concurrent tasks cannot both claim the same discovery.
func (s *titleSet) tryAdd(title string) bool {
	norm := normalizeTitle(title)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.titles {
		if nearDuplicate(norm, have, s.threshold) {
			return false
		}
	}
	s.titles = append(s.titles, norm)
	return true
}

// normalizeTitle lowercases and collapses whitespace runs so the distance
// measures wording, not formatting.
func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// nearDuplicate compares normalized titles by Levenshtein distance over
// the longer title's length. 0 is identical; anything under the threshold
// reads as the same discovery.
func nearDuplicate(a, b string, threshold float64) bool {
	if a == b {
		return true
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return true
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(dist)/float64(longest) < threshold
}
