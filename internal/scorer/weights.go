package scorer

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights maps criterion name to a non-negative weight. Weights need
// not sum to any particular value; the scorer normalizes by the sum of
// the weights it applies.
type Weights map[string]float64

// criterionNames returns the fixed criterion registry in sorted order,
// which is the iteration order everywhere determinism matters.
func criterionNames() []string {
	return []string{CriterionClubs, CriterionDistance, CriterionFee, CriterionRating}
}

// Validate rejects weights naming an unknown criterion, negative
// weights, and weight sets with no positive entry. Collected per-field
// so one pass reports every problem.
func (w Weights) Validate() error {
	var errs []string

	known := make(map[string]bool, 4)
	for _, name := range criterionNames() {
		known[name] = true
	}

	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		if !known[name] {
			errs = append(errs, fmt.Sprintf("unknown criterion %q", name))
			continue
		}
		if w[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
			continue
		}
		sum += w[name]
	}

	if len(errs) == 0 && sum <= 0 {
		errs = append(errs, "at least one weight must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Merge returns a copy of w with the overrides applied on top. Used by
// what-if: start from the base weights and change only what the caller
// named.
func (w Weights) Merge(overrides Weights) Weights {
	merged := make(Weights, len(w)+len(overrides))
	for name, v := range w {
		merged[name] = v
	}
	for name, v := range overrides {
		merged[name] = v
	}
	return merged
}

// LoadWeightsFile reads a YAML weight preset, a flat criterion-to-weight
// mapping:
//
//	distance: 35
//	rating: 30
//	fee: 20
//	clubs: 15
func LoadWeightsFile(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: read weights file %s", path)
	}

	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrapf(err, "scorer: parse weights file %s", path)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// ParseWeightOverrides parses the "criterion=weight,criterion=weight"
// form the CLI's --what-if flag uses.
func ParseWeightOverrides(s string) (Weights, error) {
	overrides := make(Weights)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			return nil, eris.Errorf("scorer: malformed weight override %q, want criterion=weight", part)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "scorer: parse weight override %q", part)
		}
		overrides[strings.TrimSpace(name)] = weight
	}
	if len(overrides) == 0 {
		return nil, eris.New("scorer: empty weight override")
	}
	return overrides, nil
}
