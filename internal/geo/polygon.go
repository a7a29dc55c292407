package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// onEdgeEpsilonDeg bounds the point-to-segment distance (in degrees)
// under which a point counts as lying on a ring edge.
const onEdgeEpsilonDeg = 1e-9

// PointInPolygon reports whether (lat, lng) lies inside the polygon
// using an even-odd ray cast over the exterior ring, with interior
// rings subtracted as holes. Polygon coordinates follow the go-geom
// convention: X is longitude, Y is latitude.
//
// Boundary behavior: points lying exactly on any ring edge or vertex
// are INSIDE. An explicit on-edge test runs before the ray cast, which
// keeps the answer consistent across calls and matches the
// boundary-inclusive containment the spatial backend evaluates.
func PointInPolygon(lat, lng float64, poly *geom.Polygon) bool {
	if poly == nil || poly.NumLinearRings() == 0 {
		return false
	}

	stride := poly.Stride()

	// Boundary points count as contained, holes included: a point on a
	// hole's rim is still on the polygon's boundary.
	for i := 0; i < poly.NumLinearRings(); i++ {
		if pointOnRing(lng, lat, poly.LinearRing(i).FlatCoords(), stride) {
			return true
		}
	}

	if !pointInRing(lng, lat, poly.LinearRing(0).FlatCoords(), stride) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		if pointInRing(lng, lat, poly.LinearRing(i).FlatCoords(), stride) {
			return false
		}
	}
	return true
}

// pointInRing is the standard even-odd ray cast. The ring may be open
// or closed; a duplicated closing vertex contributes no crossing.
func pointInRing(x, y float64, flat []float64, stride int) bool {
	n := len(flat) / stride
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[i*stride], flat[i*stride+1]
		xj, yj := flat[j*stride], flat[j*stride+1]

		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi) {
			inside = !inside
		}
	}
	return inside
}

// pointOnRing reports whether the point lies within onEdgeEpsilonDeg of
// any ring segment.
func pointOnRing(x, y float64, flat []float64, stride int) bool {
	n := len(flat) / stride
	if n < 2 {
		return false
	}

	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[i*stride], flat[i*stride+1]
		xj, yj := flat[j*stride], flat[j*stride+1]

		if pointNearSegment(x, y, xj, yj, xi, yi, onEdgeEpsilonDeg) {
			return true
		}
	}
	return false
}

// pointNearSegment reports whether (px, py) is within eps of the
// segment (x1, y1)-(x2, y2), measured in coordinate degrees.
func pointNearSegment(px, py, x1, y1, x2, y2, eps float64) bool {
	dx := x2 - x1
	dy := y2 - y1

	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = ((px-x1)*dx + (py-y1)*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}

	cx := x1 + t*dx
	cy := y1 + t*dy

	return (px-cx)*(px-cx)+(py-cy)*(py-cy) <= eps*eps
}
