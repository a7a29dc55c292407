// Package scorer implements weighted multi-criteria ranking of school
// search results, with pros/cons generation and what-if rescoring.
package scorer

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// Criterion names. The registry is fixed: a weight naming anything else
// is rejected instead of silently ignored.
const (
	CriterionDistance = "distance"
	CriterionRating   = "rating"
	CriterionFee      = "fee"
	CriterionClubs    = "clubs"
)

// neutralScore is assigned for a criterion whose underlying data is
// missing for a candidate. The candidate stays in the ranking; it is
// only excluded from that criterion's normalization basis.
const neutralScore = 0.5

// Preferences carries per-request inputs that shape normalization.
type Preferences struct {
	// Clubs lists the clubs the parent asked for. The clubs criterion
	// exists only when this is non-empty.
	Clubs []string `json:"clubs,omitempty"`
}

// ScoredSchool is one ranked candidate: per-criterion normalized scores
// in [0,1], the weighted overall score, and generated pros/cons.
// Transient; it exists only for the duration of a scoring call.
type ScoredSchool struct {
	model.School `json:"school"`
	DistanceKM   float64            `json:"distance_km"`
	Criteria     map[string]float64 `json:"criteria"`
	Overall      float64            `json:"overall"`
	Pros         []string           `json:"pros,omitempty"`
	Cons         []string           `json:"cons,omitempty"`
	Rank         int                `json:"rank"`
}

// Score ranks the already constraint-filtered candidates under the
// given weights. Normalization is relative to this candidate set, not
// to a global scale: the result answers "best among these choices".
// Identical inputs produce identical output, including pros/cons.
func Score(candidates []model.SchoolDistance, w Weights, prefs Preferences) ([]ScoredSchool, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	wantClubs := model.CanonicalClubs(prefs.Clubs)

	scored := make([]ScoredSchool, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredSchool{
			School:     c.School,
			DistanceKM: c.DistanceKM,
			Criteria:   make(map[string]float64, 4),
		}
	}

	normalizeDistance(scored)
	normalizeRating(scored)
	normalizeFee(scored)
	if len(wantClubs) > 0 {
		normalizeClubs(scored, wantClubs)
	}

	generateProsCons(scored)
	rank(scored, w)

	zap.L().Info("scorer: ranked candidates",
		zap.Int("candidates", len(scored)),
		zap.Float64("weight_sum", w.Sum()),
		zap.Int("requested_clubs", len(wantClubs)),
	)

	return scored, nil
}

// Rescore re-ranks an already-scored candidate set under new weights
// without re-querying the repository. Per-criterion scores and
// pros/cons are weight-independent, so they carry over unchanged; only
// the overall score and ranking move. Constraint changes that alter
// the candidate set itself need a fresh search instead (see
// store.Constraints.CandidateSetEquals).
func Rescore(prev []ScoredSchool, w Weights) ([]ScoredSchool, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	scored := make([]ScoredSchool, len(prev))
	copy(scored, prev)
	rank(scored, w)

	zap.L().Info("scorer: rescored candidates",
		zap.Int("candidates", len(scored)),
		zap.Float64("weight_sum", w.Sum()),
	)

	return scored, nil
}

// rank computes the weighted overall score and sorts. A criterion is
// counted only when it has a positive weight and the candidate set
// computed it; its weight drops out of the denominator otherwise.
func rank(scored []ScoredSchool, w Weights) {
	for i := range scored {
		var total, weightSum float64
		for _, name := range criterionNames() {
			weight := w[name]
			if weight <= 0 {
				continue
			}
			score, ok := scored[i].Criteria[name]
			if !ok {
				continue
			}
			total += weight * score
			weightSum += weight
		}
		overall := 0.0
		if weightSum > 0 {
			overall = total / weightSum
		}
		// 4 decimals keeps presentation stable across float orderings.
		scored[i].Overall = math.Round(overall*10000) / 10000
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Overall != b.Overall {
			return a.Overall > b.Overall
		}
		if a.School.Name != b.School.Name {
			return a.School.Name < b.School.Name
		}
		return a.School.URN < b.School.URN
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}
}

// normalizeDistance maps distance to [0,1] with 1 at the origin and 0
// at the farthest candidate. Distance is always known.
func normalizeDistance(scored []ScoredSchool) {
	var maxD float64
	for i := range scored {
		if scored[i].DistanceKM > maxD {
			maxD = scored[i].DistanceKM
		}
	}
	for i := range scored {
		if maxD == 0 {
			scored[i].Criteria[CriterionDistance] = 1.0
			continue
		}
		scored[i].Criteria[CriterionDistance] = 1.0 - scored[i].DistanceKM/maxD
	}
}

// normalizeRating maps the ordinal directly: inadequate 0, outstanding
// 1. Unrated schools have no underlying data and score neutral.
func normalizeRating(scored []ScoredSchool) {
	for i := range scored {
		r := scored[i].School.Rating
		if !r.Known() {
			scored[i].Criteria[CriterionRating] = neutralScore
			continue
		}
		scored[i].Criteria[CriterionRating] = float64(r-model.RatingInadequate) /
			float64(model.RatingOutstanding-model.RatingInadequate)
	}
}

// normalizeFee scales inversely against the highest known fee in the
// set. A school that charges nothing is the known best (fee 0); a
// fee-paying school with an unknown fee is missing data and scores
// neutral without entering the normalization basis.
func normalizeFee(scored []ScoredSchool) {
	var maxFee float64
	for i := range scored {
		if fee, ok := knownFee(&scored[i].School); ok && fee > maxFee {
			maxFee = fee
		}
	}
	for i := range scored {
		fee, ok := knownFee(&scored[i].School)
		switch {
		case !ok:
			scored[i].Criteria[CriterionFee] = neutralScore
		case maxFee == 0:
			scored[i].Criteria[CriterionFee] = 1.0
		default:
			scored[i].Criteria[CriterionFee] = 1.0 - fee/maxFee
		}
	}
}

func knownFee(s *model.School) (float64, bool) {
	if !s.FeePaying {
		return 0, true
	}
	if s.FeePerTerm == nil {
		return 0, false
	}
	return *s.FeePerTerm, true
}

// normalizeClubs scores the fraction of requested clubs the school
// offers. wantClubs is already canonical.
func normalizeClubs(scored []ScoredSchool, wantClubs []string) {
	for i := range scored {
		have := make(map[string]struct{}, len(scored[i].School.Clubs))
		for _, c := range model.CanonicalClubs(scored[i].School.Clubs) {
			have[c] = struct{}{}
		}
		matched := 0
		for _, c := range wantClubs {
			if _, ok := have[c]; ok {
				matched++
			}
		}
		scored[i].Criteria[CriterionClubs] = float64(matched) / float64(len(wantClubs))
	}
}

// generateProsCons compares each candidate's per-criterion score
// against the candidate set's median: at least one standard deviation
// above becomes a pro, at least one below a con. A criterion with zero
// spread produces neither. Criteria are visited in sorted name order so
// the output is deterministic.
func generateProsCons(scored []ScoredSchool) {
	for _, name := range criterionNames() {
		values := make([]float64, 0, len(scored))
		for i := range scored {
			if v, ok := scored[i].Criteria[name]; ok {
				values = append(values, v)
			}
		}
		if len(values) < 2 {
			continue
		}

		med := median(values)
		sigma := stddev(values)
		if sigma == 0 {
			continue
		}

		for i := range scored {
			v, ok := scored[i].Criteria[name]
			if !ok {
				continue
			}
			switch {
			case v >= med+sigma:
				scored[i].Pros = append(scored[i].Pros, proPhrase(name, &scored[i]))
			case v <= med-sigma:
				scored[i].Cons = append(scored[i].Cons, conPhrase(name, &scored[i]))
			}
		}
	}
}

func proPhrase(criterion string, s *ScoredSchool) string {
	switch criterion {
	case CriterionDistance:
		return fmt.Sprintf("closer than most shortlisted schools (%.1f km)", s.DistanceKM)
	case CriterionRating:
		return fmt.Sprintf("rated %s, above the shortlist norm", s.School.Rating)
	case CriterionFee:
		if !s.School.FeePaying {
			return "charges no fees"
		}
		if s.School.FeePerTerm == nil {
			return "termly fees not published"
		}
		return fmt.Sprintf("fees of £%.0f per term, below the shortlist norm", *s.School.FeePerTerm)
	case CriterionClubs:
		return "covers more of the requested clubs than most shortlisted schools"
	default:
		return fmt.Sprintf("strong %s", criterion)
	}
}

func conPhrase(criterion string, s *ScoredSchool) string {
	switch criterion {
	case CriterionDistance:
		return fmt.Sprintf("farther than most shortlisted schools (%.1f km)", s.DistanceKM)
	case CriterionRating:
		return fmt.Sprintf("rated %s, below the shortlist norm", s.School.Rating)
	case CriterionFee:
		if s.School.FeePerTerm == nil {
			return "termly fees not published"
		}
		return fmt.Sprintf("fees of £%.0f per term, above the shortlist norm", *s.School.FeePerTerm)
	case CriterionClubs:
		return "covers fewer of the requested clubs than most shortlisted schools"
	default:
		return fmt.Sprintf("weak %s", criterion)
	}
}

// median returns the middle value (mean of the middle pair for even
// counts). The input is copied before sorting.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		sumSq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
