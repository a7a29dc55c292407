// Package geo provides the spatial primitives behind school search:
// great-circle distance, conservative bounding boxes for pre-filtering,
// and point-in-circle / point-in-polygon containment tests.
package geo

import (
	"errors"
	"math"

	"github.com/rotisserie/eris"
)

// earthRadiusKM is the mean Earth radius used for all great-circle math.
const earthRadiusKM = 6371.0

// kmPerDegreeLat is the length of one degree of latitude on the sphere.
const kmPerDegreeLat = earthRadiusKM * math.Pi / 180.0

// ErrInvalidCoordinate marks latitude/longitude input outside the WGS84
// domain. Detect with errors.Is.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ValidateCoordinate rejects non-finite values and values outside
// latitude [-90,90] / longitude [-180,180].
func ValidateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return eris.Wrapf(ErrInvalidCoordinate, "geo: non-finite coordinate (%v, %v)", lat, lng)
	}
	if lat < -90 || lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "geo: latitude %v out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "geo: longitude %v out of range [-180, 180]", lng)
	}
	return nil
}

// DistanceKM returns the haversine great-circle distance in kilometres
// between two WGS84 points. It is symmetric, returns 0 for identical
// points, and stays finite for antipodal and polar inputs. Callers are
// expected to validate coordinates first (see ValidateCoordinate).
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// BBox is an axis-aligned lat/lng rectangle used to cheaply exclude
// far-away rows before exact distance computation.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether the point lies inside the box, boundary
// inclusive.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// BoundingBox returns a conservative rectangular over-approximation of
// the disk of radiusKM around (lat, lng): every point within the radius
// lies inside the box (false positives are expected, false negatives
// never occur). The longitude span is computed with the cosine of the
// largest absolute latitude the box reaches, so degree-width shrinkage
// at high latitude cannot clip the disk.
//
// Documented clamps: a negative radius is treated as zero (degenerate
// box at the center); boxes that reach a pole or whose longitude span
// would wrap the antimeridian widen to the full latitude or longitude
// range rather than wrapping.
func BoundingBox(lat, lng, radiusKM float64) BBox {
	if radiusKM < 0 {
		radiusKM = 0
	}

	latDelta := radiusKM / kmPerDegreeLat
	minLat := lat - latDelta
	maxLat := lat + latDelta

	// Reaching a pole makes every longitude reachable.
	if minLat <= -90 || maxLat >= 90 {
		return BBox{
			MinLat: math.Max(minLat, -90),
			MaxLat: math.Min(maxLat, 90),
			MinLng: -180,
			MaxLng: 180,
		}
	}

	// Widest point of the disk sits at the latitude extreme closest to
	// a pole; use its cosine so the box never under-approximates.
	phiMax := math.Max(math.Abs(minLat), math.Abs(maxLat)) * math.Pi / 180
	cosPhi := math.Cos(phiMax)

	lngDelta := 180.0
	if cosPhi > 1e-12 {
		lngDelta = radiusKM / (kmPerDegreeLat * cosPhi)
	}

	if lngDelta >= 180 || lng-lngDelta < -180 || lng+lngDelta > 180 {
		return BBox{MinLat: minLat, MaxLat: maxLat, MinLng: -180, MaxLng: 180}
	}

	return BBox{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLng: lng - lngDelta,
		MaxLng: lng + lngDelta,
	}
}

// PointInCircle reports whether the point lies within radiusKM of the
// center, boundary inclusive.
func PointInCircle(lat, lng, centerLat, centerLng, radiusKM float64) bool {
	return DistanceKM(lat, lng, centerLat, centerLng) <= radiusKM
}
