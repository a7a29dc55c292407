package model

import (
	"sort"
	"strings"
)

// CanonicalClubs normalizes a club list for storage and matching:
// lowercased, trimmed, deduplicated, sorted. Both storage backends and
// constraint matching operate on the canonical form so club names
// compare the same way everywhere.
func CanonicalClubs(clubs []string) []string {
	if len(clubs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(clubs))
	out := make([]string, 0, len(clubs))
	for _, c := range clubs {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
