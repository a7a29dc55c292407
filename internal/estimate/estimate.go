// Package estimate turns a school's multi-year admissions history into
// an admissions-likelihood estimate for a parent at a known distance.
package estimate

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// Likelihood buckets a parent's admission chances. Unknown is a real
// outcome, not a default: with no usable data the estimator must say
// so rather than guess optimistically.
type Likelihood string

const (
	Likely   Likelihood = "likely"
	Possible Likelihood = "possible"
	Unlikely Likelihood = "unlikely"
	Unknown  Likelihood = "unknown"
)

// TrendDirection classifies how the effective catchment is moving.
type TrendDirection string

const (
	TrendTightening TrendDirection = "tightening"
	TrendLoosening  TrendDirection = "loosening"
	TrendStable     TrendDirection = "stable"
	TrendUnknown    TrendDirection = "unknown"
)

// stableSlopeKM is the tolerance band around zero within which a
// cutoff-distance slope counts as stable.
const stableSlopeKM = 0.05

// likelyMargin: a parent well inside the projected cutoff (within 80%
// of it) is Likely; inside but near the edge is only Possible.
const likelyMargin = 0.8

// AdmissionsEstimate is the transient estimator output.
type AdmissionsEstimate struct {
	Bucket      Likelihood     `json:"bucket"`
	Trend       TrendDirection `json:"trend"`
	YearsOfData int            `json:"years_of_data"`

	// ProjectedCutoffKM extrapolates next year's last-distance-offered;
	// nil with fewer than two usable years.
	ProjectedCutoffKM *float64 `json:"projected_cutoff_km,omitempty"`
	LatestCutoffKM    *float64 `json:"latest_cutoff_km,omitempty"`
}

// Estimate computes the likelihood bucket and trend for one school.
// history must be in chronological order (the repository contract);
// records without a last-distance-offered value cannot feed the
// distance trend but still reveal subscription pressure.
func Estimate(history []model.AdmissionsRecord, distanceKM float64) (*AdmissionsEstimate, error) {
	if distanceKM < 0 || math.IsNaN(distanceKM) || math.IsInf(distanceKM, 0) {
		return nil, eris.Errorf("estimate: distance %v must be a non-negative number", distanceKM)
	}

	cutoffs := usableCutoffs(history)
	est := &AdmissionsEstimate{
		Bucket:      Unknown,
		Trend:       TrendUnknown,
		YearsOfData: len(cutoffs),
	}

	switch {
	case len(cutoffs) == 0:
		// No distance data at all. The one honest positive signal left:
		// an undersubscribed latest year means every applicant was
		// offered a place, distance never came into play. A year with
		// zero places offered is an empty row, not undersubscription.
		if len(history) > 0 {
			latest := history[len(history)-1]
			if latest.PlacesOffered > 0 && !latest.Oversubscribed() {
				est.Bucket = Likely
			}
		}

	case len(cutoffs) == 1:
		latest := cutoffs[0]
		est.LatestCutoffKM = &latest
		est.Bucket = bucketAgainst(distanceKM, latest)

	default:
		latest := cutoffs[len(cutoffs)-1]
		est.LatestCutoffKM = &latest

		slope := leastSquaresSlope(cutoffs)
		switch {
		case math.Abs(slope) <= stableSlopeKM:
			est.Trend = TrendStable
		case slope < 0:
			est.Trend = TrendTightening
		default:
			est.Trend = TrendLoosening
		}

		projected := math.Max(0, latest+slope)
		est.ProjectedCutoffKM = &projected
		est.Bucket = bucketAgainst(distanceKM, projected)
	}

	zap.L().Debug("estimate: admissions likelihood computed",
		zap.Float64("distance_km", distanceKM),
		zap.String("bucket", string(est.Bucket)),
		zap.String("trend", string(est.Trend)),
		zap.Int("years_of_data", est.YearsOfData),
	)

	return est, nil
}

// bucketAgainst compares the parent's distance with a cutoff distance.
func bucketAgainst(distanceKM, cutoffKM float64) Likelihood {
	switch {
	case distanceKM <= likelyMargin*cutoffKM:
		return Likely
	case distanceKM <= cutoffKM:
		return Possible
	default:
		return Unlikely
	}
}

// usableCutoffs extracts the last-distance-offered series in year order.
func usableCutoffs(history []model.AdmissionsRecord) []float64 {
	var cutoffs []float64
	for i := range history {
		if history[i].LastDistanceOffered != nil {
			cutoffs = append(cutoffs, *history[i].LastDistanceOffered)
		}
	}
	return cutoffs
}

// leastSquaresSlope fits cutoff distance against year index and returns
// km of cutoff movement per year.
func leastSquaresSlope(cutoffs []float64) float64 {
	n := float64(len(cutoffs))

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range cutoffs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
