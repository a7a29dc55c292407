package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// destination returns the point distKM away from (lat, lng) along the
// given initial bearing, using the spherical direct formula.
func destination(lat, lng, bearingDeg, distKM float64) (float64, float64) {
	delta := distKM / 6371.0
	theta := bearingDeg * math.Pi / 180
	phi1 := lat * math.Pi / 180
	lambda1 := lng * math.Pi / 180

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return phi2 * 180 / math.Pi, lambda2 * 180 / math.Pi
}

func TestDistanceKMIdentity(t *testing.T) {
	t.Parallel()

	points := [][2]float64{
		{0, 0},
		{52.0406, -0.7594},
		{90, 0},
		{-90, 0},
		{-33.8688, 151.2093},
	}

	for _, p := range points {
		assert.InDelta(t, 0.0, DistanceKM(p[0], p[1], p[0], p[1]), 1e-12)
	}
}

func TestDistanceKMSymmetry(t *testing.T) {
	t.Parallel()

	pairs := [][4]float64{
		{52.0406, -0.7594, 51.5074, -0.1278},
		{0, 0, 0, 180},
		{90, 0, -90, 0},
		{60.39, 5.32, 60.47, 5.48},
		{-33.8688, 151.2093, 52.0406, -0.7594},
	}

	for _, p := range pairs {
		ab := DistanceKM(p[0], p[1], p[2], p[3])
		ba := DistanceKM(p[2], p[3], p[0], p[1])
		assert.InDelta(t, ab, ba, 1e-9)
	}
}

func TestDistanceKMKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
		delta                  float64
	}{
		{"one degree of latitude", 0, 0, 1, 0, 111.1949, 0.001},
		{"one degree of longitude on the equator", 0, 0, 0, 1, 111.1949, 0.001},
		{"quarter circumference", 0, 0, 0, 90, 10007.5434, 0.01},
		{"antipodal on the equator", 0, 0, 0, 180, 20015.0868, 0.01},
		{"pole to pole", 90, 0, -90, 0, 20015.0868, 0.01},
		{"pole with degenerate longitude", 90, 0, 90, 180, 0, 1e-9},
		{"short hop north of origin", 52.0406, -0.7594, 52.0540898, -0.7594, 1.5, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DistanceKM(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.want, got, tt.delta)
			assert.False(t, math.IsNaN(got))
			assert.False(t, math.IsInf(got, 0))
		})
	}
}

func TestValidateCoordinate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"milton keynes", 52.0406, -0.7594, false},
		{"north pole", 90, 0, false},
		{"domain corners", -90, -180, false},
		{"latitude too high", 90.0001, 0, true},
		{"latitude too low", -91, 0, true},
		{"longitude too high", 0, 180.5, true},
		{"longitude too low", 0, -181, true},
		{"nan latitude", math.NaN(), 0, true},
		{"inf longitude", 0, math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCoordinate(tt.lat, tt.lng)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCoordinate)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBoundingBoxSoundness(t *testing.T) {
	t.Parallel()

	centers := [][2]float64{
		{52.0406, -0.7594}, // Milton Keynes
		{60.39, 5.32},      // Bergen, high latitude
		{0, 0},
		{-33.8688, 151.2093}, // Sydney
	}
	radii := []float64{2, 25, 120}

	for _, c := range centers {
		for _, r := range radii {
			box := BoundingBox(c[0], c[1], r)

			// Points just inside the radius at eight bearings must
			// never fall outside the box.
			for bearing := 0.0; bearing < 360; bearing += 45 {
				lat, lng := destination(c[0], c[1], bearing, r*0.995)

				require.InDelta(t, r*0.995, DistanceKM(c[0], c[1], lat, lng), r*0.01)
				assert.True(t, box.Contains(lat, lng),
					"center (%v,%v) radius %v bearing %v: point (%v,%v) outside box %+v",
					c[0], c[1], r, bearing, lat, lng, box)
			}

			assert.True(t, box.Contains(c[0], c[1]), "center must be inside its own box")
		}
	}
}

func TestBoundingBoxNearPole(t *testing.T) {
	t.Parallel()

	box := BoundingBox(89.9, 10, 50)

	assert.Equal(t, 90.0, box.MaxLat)
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
	assert.True(t, box.Contains(89.99, -170))
}

func TestBoundingBoxNearAntimeridian(t *testing.T) {
	t.Parallel()

	box := BoundingBox(0, 179.9, 50)

	// Rather than wrapping, the box widens to the full longitude range.
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
	assert.True(t, box.Contains(0, -179.9))
}

func TestBoundingBoxDegenerate(t *testing.T) {
	t.Parallel()

	zero := BoundingBox(52.0406, -0.7594, 0)
	assert.Equal(t, zero.MinLat, zero.MaxLat)
	assert.Equal(t, zero.MinLng, zero.MaxLng)
	assert.True(t, zero.Contains(52.0406, -0.7594))

	// Negative radius clamps to zero.
	negative := BoundingBox(10, 20, -5)
	assert.Equal(t, BoundingBox(10, 20, 0), negative)
}

func TestPointInCircleBoundaryInclusive(t *testing.T) {
	t.Parallel()

	centerLat, centerLng := 52.0406, -0.7594
	lat, lng := destination(centerLat, centerLng, 70, 3.2)
	radius := DistanceKM(lat, lng, centerLat, centerLng)

	assert.True(t, PointInCircle(lat, lng, centerLat, centerLng, radius),
		"point exactly on the boundary is inside")
	assert.True(t, PointInCircle(lat, lng, centerLat, centerLng, radius*1.001))
	assert.False(t, PointInCircle(lat, lng, centerLat, centerLng, radius*0.999))
}
