// Package suggest ranks near-miss names for "did you mean" error messages.
package suggest

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxDistance is the largest edit distance still reported as an alternative.
const maxDistance = 3

// Alternatives returns the candidates close to name, nearest first. A candidate
// qualifies when its edit distance is at most maxDistance or when one string
// contains the other.
func Alternatives(name string, candidates []string) []string {
	if name == "" {
		return nil
	}
	type scored struct {
		name string
		dist int
	}
	var found []scored
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if c == name {
			continue
		}
		d := levenshtein.ComputeDistance(lower, strings.ToLower(c))
		if d <= maxDistance || strings.Contains(strings.ToLower(c), lower) || strings.Contains(lower, strings.ToLower(c)) {
			found = append(found, scored{name: c, dist: d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].name < found[j].name
	})
	out := make([]string, 0, len(found))
	for _, s := range found {
		out = append(out, s.name)
	}
	return out
}

// Hint formats alternatives as a message suffix, or "" when there are none.
func Hint(alternatives []string) string {
	switch len(alternatives) {
	case 0:
		return ""
	case 1:
		return `; did you mean "` + alternatives[0] + `"?`
	default:
		return `; did you mean one of "` + strings.Join(alternatives, `", "`) + `"?`
	}
}
