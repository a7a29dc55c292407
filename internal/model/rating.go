package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Rating is the inspection rating as an ordinal: higher is better. It is
// persisted as an integer and compared numerically so the ordering can
// never depend on label spelling or casing.
type Rating int

const (
	RatingUnrated             Rating = 0
	RatingInadequate          Rating = 1
	RatingRequiresImprovement Rating = 2
	RatingGood                Rating = 3
	RatingOutstanding         Rating = 4
)

// Known reports whether the school has been inspected at all.
func (r Rating) Known() bool {
	return r > RatingUnrated
}

// Valid reports whether r is one of the defined ordinal values.
func (r Rating) Valid() bool {
	return r >= RatingUnrated && r <= RatingOutstanding
}

func (r Rating) String() string {
	switch r {
	case RatingInadequate:
		return "inadequate"
	case RatingRequiresImprovement:
		return "requires improvement"
	case RatingGood:
		return "good"
	case RatingOutstanding:
		return "outstanding"
	default:
		return "unrated"
	}
}

// ParseRating maps a source label to its ordinal. Matching is
// case-insensitive and tolerates the variants seen in council exports
// ("Requires Improvement", "requires_improvement", "Serious Weaknesses").
func ParseRating(s string) (Rating, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)

	switch normalized {
	case "", "unrated", "not rated", "no rating", "not inspected":
		return RatingUnrated, nil
	case "inadequate", "serious weaknesses", "special measures":
		return RatingInadequate, nil
	case "requires improvement", "needs improvement", "satisfactory":
		return RatingRequiresImprovement, nil
	case "good":
		return RatingGood, nil
	case "outstanding", "excellent":
		return RatingOutstanding, nil
	default:
		return RatingUnrated, eris.Errorf("model: unknown rating label %q", s)
	}
}
