package refdiscovery

import (
	"regexp"
	"strings"

	"refind/internal/models"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// RefKey derives a stable identifier for a bibliography entry. A DOI is used
// verbatim when present; otherwise the normalized title stands in. Titles are
// an approximation, two differently punctuated renderings of the same paper
// collapse to one key.
func RefKey(ref models.ReferenceEntry) string {
	if doi := strings.TrimSpace(ref.DOI); doi != "" {
		return strings.ToLower(doi)
	}
	return NormalizeTitle(ref.Title)
}

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	t = nonAlnum.ReplaceAllString(t, " ")
	return strings.Join(strings.Fields(t), " ")
}

// titleSimilarity scores two titles by the larger of Jaccard overlap and
// containment. Containment rescues short-versus-long renderings of the same
// title, where Jaccard alone is diluted by the longer one.
func titleSimilarity(a, b string) float64 {
	wa := tokenSet(NormalizeTitle(a))
	wb := tokenSet(NormalizeTitle(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	common := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}
	union := len(wa) + len(wb) - common
	jaccard := float64(common) / float64(union)
	smaller := len(wa)
	if len(wb) < smaller {
		smaller = len(wb)
	}
	containment := float64(common) / float64(smaller)
	if containment > jaccard {
		return containment
	}
	return jaccard
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
