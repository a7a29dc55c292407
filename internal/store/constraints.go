package store

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/catchment-tools/schoolsearch-cli/internal/geo"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// Pagination bounds. A request can never ask for an unbounded result
// set: a missing limit falls back to DefaultLimit and anything above
// MaxLimit is rejected.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// GenderFilter selects schools by admitted-gender policy. "boys" and
// "girls" exclude the opposite single-sex policy but always match
// co-educational schools; "any" (or the empty value) matches everything.
type GenderFilter string

const (
	GenderAny   GenderFilter = "any"
	GenderCoed  GenderFilter = "coed"
	GenderBoys  GenderFilter = "boys"
	GenderGirls GenderFilter = "girls"
)

// SortOrder selects the result ordering.
type SortOrder string

const (
	SortDistance SortOrder = "distance"
	SortName     SortOrder = "name"
)

// Constraints is the canonical description of one search request. It is
// the single definition both backend adapters and the scoring surfaces
// consume; every recognized filter is an explicit field, so an
// unsupported filter cannot be silently ignored.
//
// All fields except the origin are optional. The zero value of an
// optional field means "no filter".
type Constraints struct {
	OriginLat float64 `json:"origin_lat"`
	OriginLng float64 `json:"origin_lng"`

	// MaxDistanceKM excludes schools farther than this from the origin.
	// Nil means unlimited (bounded by DefaultSearchRadiusKM).
	MaxDistanceKM *float64 `json:"max_distance_km,omitempty"`

	// MinAge/MaxAge describe the child's age or age range; a school
	// matches when its own age range overlaps.
	MinAge *int `json:"min_age,omitempty"`
	MaxAge *int `json:"max_age,omitempty"`

	Gender GenderFilter `json:"gender,omitempty"`

	// MinRating excludes schools rated below the threshold. Unrated
	// schools are excluded only when this filter is present.
	MinRating *model.Rating `json:"min_rating,omitempty"`

	SchoolTypes []model.SchoolType `json:"school_types,omitempty"`
	Faiths      []string           `json:"faiths,omitempty"`

	// MaxFeePerTerm applies to fee-paying schools only; schools that
	// charge no fees always pass. Fee-paying schools with an unknown
	// fee are excluded, since they cannot be shown to fit the budget.
	MaxFeePerTerm *float64 `json:"max_fee_per_term,omitempty"`

	NameContains string   `json:"name_contains,omitempty"`
	Clubs        []string `json:"clubs,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	Sort SortOrder `json:"sort,omitempty"`
}

// Validate rejects malformed constraints with ErrInvalidConstraint
// before any query executes.
func (c Constraints) Validate() error {
	if err := geo.ValidateCoordinate(c.OriginLat, c.OriginLng); err != nil {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: origin: %v", err)
	}

	if c.MaxDistanceKM != nil {
		if d := *c.MaxDistanceKM; d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return eris.Wrapf(ErrInvalidConstraint, "constraint: max_distance_km %v must be a non-negative number", d)
		}
	}

	if c.MinAge != nil && *c.MinAge < 0 {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: min_age %d must not be negative", *c.MinAge)
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: max_age %d must not be negative", *c.MaxAge)
	}
	if c.MinAge != nil && c.MaxAge != nil && *c.MinAge > *c.MaxAge {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: min_age %d exceeds max_age %d", *c.MinAge, *c.MaxAge)
	}

	switch c.Gender {
	case "", GenderAny, GenderCoed, GenderBoys, GenderGirls:
	default:
		return eris.Wrapf(ErrInvalidConstraint, "constraint: unknown gender filter %q", c.Gender)
	}

	if c.MinRating != nil && !(c.MinRating.Valid() && c.MinRating.Known()) {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: min_rating must name a rated level, got %d", *c.MinRating)
	}

	for _, st := range c.SchoolTypes {
		switch st {
		case model.TypeMaintained, model.TypeAcademy, model.TypeFree, model.TypeIndependent:
		default:
			return eris.Wrapf(ErrInvalidConstraint, "constraint: unknown school type %q", st)
		}
	}

	if c.MaxFeePerTerm != nil {
		if f := *c.MaxFeePerTerm; f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return eris.Wrapf(ErrInvalidConstraint, "constraint: max_fee_per_term %v must be a non-negative number", f)
		}
	}

	if c.Limit < 0 {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: limit %d must not be negative", c.Limit)
	}
	if c.Limit > MaxLimit {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: limit %d exceeds maximum %d", c.Limit, MaxLimit)
	}
	if c.Offset < 0 {
		return eris.Wrapf(ErrInvalidConstraint, "constraint: offset %d must not be negative", c.Offset)
	}

	switch c.Sort {
	case "", SortDistance, SortName:
	default:
		return eris.Wrapf(ErrInvalidConstraint, "constraint: unknown sort order %q", c.Sort)
	}

	return nil
}

// EffectiveLimit returns the page size after defaulting.
func (c Constraints) EffectiveLimit() int {
	if c.Limit <= 0 {
		return DefaultLimit
	}
	return c.Limit
}

// SearchRadiusKM is the radius the adapters scan: the caller's distance
// cap, or DefaultSearchRadiusKM when the search is unlimited.
func (c Constraints) SearchRadiusKM() float64 {
	if c.MaxDistanceKM != nil {
		return *c.MaxDistanceKM
	}
	return DefaultSearchRadiusKM
}

// effectiveSort returns the ordering after defaulting.
func (c Constraints) effectiveSort() SortOrder {
	if c.Sort == "" {
		return SortDistance
	}
	return c.Sort
}

// genderPolicies returns the admitted-gender policies the filter
// accepts, or nil when every policy matches.
func (c Constraints) genderPolicies() []model.GenderPolicy {
	switch c.Gender {
	case GenderCoed:
		return []model.GenderPolicy{model.GenderCoed}
	case GenderBoys:
		return []model.GenderPolicy{model.GenderCoed, model.GenderBoys}
	case GenderGirls:
		return []model.GenderPolicy{model.GenderCoed, model.GenderGirls}
	default:
		return nil
	}
}

// CandidateSetEquals reports whether the two constraint values select
// the same candidate set, which is what decides whether a what-if
// change can be rescored in place or needs a fresh query. Sort order is
// ignored (it never changes membership); pagination is not (the page IS
// the candidate set).
func (c Constraints) CandidateSetEquals(other Constraints) bool {
	if c.OriginLat != other.OriginLat || c.OriginLng != other.OriginLng {
		return false
	}
	if !floatPtrEqual(c.MaxDistanceKM, other.MaxDistanceKM) {
		return false
	}
	if !intPtrEqual(c.MinAge, other.MinAge) || !intPtrEqual(c.MaxAge, other.MaxAge) {
		return false
	}
	if normalizeGender(c.Gender) != normalizeGender(other.Gender) {
		return false
	}
	if !ratingPtrEqual(c.MinRating, other.MinRating) {
		return false
	}
	if !stringSetEqual(schoolTypeStrings(c.SchoolTypes), schoolTypeStrings(other.SchoolTypes)) {
		return false
	}
	if !stringSetEqual(lowered(c.Faiths), lowered(other.Faiths)) {
		return false
	}
	if !floatPtrEqual(c.MaxFeePerTerm, other.MaxFeePerTerm) {
		return false
	}
	if !strings.EqualFold(c.NameContains, other.NameContains) {
		return false
	}
	if !stringSetEqual(model.CanonicalClubs(c.Clubs), model.CanonicalClubs(other.Clubs)) {
		return false
	}
	if c.EffectiveLimit() != other.EffectiveLimit() || c.Offset != other.Offset {
		return false
	}
	return true
}

// catchmentContains is the containment test shared with the simple
// adapter: the polygon governs when present, the radius circle is the
// fallback, and a school with no catchment descriptor places no
// restriction. Polygon containment is boundary inclusive (see geo).
func catchmentContains(s *model.School, originLat, originLng, distanceKM float64) bool {
	if s.CatchmentBoundary != nil {
		return geo.PointInPolygon(originLat, originLng, s.CatchmentBoundary)
	}
	if s.CatchmentRadiusKM != nil {
		return distanceKM <= *s.CatchmentRadiusKM
	}
	return true
}

// helpers

func normalizeGender(g GenderFilter) GenderFilter {
	if g == "" {
		return GenderAny
	}
	return g
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ratingPtrEqual(a, b *model.Rating) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func schoolTypeStrings(types []model.SchoolType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func lowered(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
