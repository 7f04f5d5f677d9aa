package permission

import (
	"github.com/agnivade/levenshtein"
)

// Suggest returns the candidate closest to name, or "" when nothing is
// within a third of the name's length (minimum distance 2).
func Suggest(name string, candidates []string) string {
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}

	best, bestDist := "", limit+1
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein.ComputeDistance(name, c); d < bestDist || (d == bestDist && c < best) {
			best, bestDist = c, d
		}
	}
	return best
}
