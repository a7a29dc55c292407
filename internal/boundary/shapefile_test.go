package boundary

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square returns a single-part polygon around (lat, lng). The ring is
// left unclosed when closed is false, which council exports sometimes do.
func square(lat, lng, half float64, closed bool) *shp.Polygon {
	points := []shp.Point{
		{X: lng - half, Y: lat - half},
		{X: lng - half, Y: lat + half},
		{X: lng + half, Y: lat + half},
		{X: lng + half, Y: lat - half},
	}
	if closed {
		points = append(points, points[0])
	}
	return &shp.Polygon{
		Box:       shp.Box{MinX: lng - half, MinY: lat - half, MaxX: lng + half, MaxY: lat + half},
		NumParts:  1,
		NumPoints: int32(len(points)),
		Parts:     []int32{0},
		Points:    points,
	}
}

// writeFixture writes a polygon shapefile with a URN attribute column and
// returns its path.
func writeFixture(t *testing.T, records map[string]*shp.Polygon) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catchments.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	w.SetFields([]shp.Field{shp.StringField("URN", 10)})

	row := 0
	for urn, poly := range records {
		w.Write(poly)
		w.WriteAttribute(row, 0, urn)
		row++
	}
	w.Close()
	return path
}

func TestReadCatchments(t *testing.T) {
	path := writeFixture(t, map[string]*shp.Polygon{
		"100001": square(51.50, -0.12, 0.05, true),
	})

	catchments, err := ReadCatchments(path, "URN")
	require.NoError(t, err)
	require.Len(t, catchments, 1)

	c := catchments[0]
	assert.Equal(t, "100001", c.URN)
	require.NotNil(t, c.Boundary)
	assert.Equal(t, 1, c.Boundary.NumLinearRings())
	assert.Equal(t, 4326, c.Boundary.SRID())

	ring := c.Boundary.LinearRing(0).Coords()
	require.Len(t, ring, 5)
	assert.InDelta(t, -0.17, ring[0][0], 1e-9)
	assert.InDelta(t, 51.45, ring[0][1], 1e-9)
}

func TestReadCatchmentsClosesOpenRings(t *testing.T) {
	path := writeFixture(t, map[string]*shp.Polygon{
		"100001": square(51.50, -0.12, 0.05, false),
	})

	catchments, err := ReadCatchments(path, "URN")
	require.NoError(t, err)
	require.Len(t, catchments, 1)

	ring := catchments[0].Boundary.LinearRing(0).Coords()
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestReadCatchmentsFieldMatchIsCaseInsensitive(t *testing.T) {
	path := writeFixture(t, map[string]*shp.Polygon{
		"100001": square(51.50, -0.12, 0.05, true),
	})

	catchments, err := ReadCatchments(path, "urn")
	require.NoError(t, err)
	assert.Len(t, catchments, 1)
}

func TestReadCatchmentsMissingField(t *testing.T) {
	path := writeFixture(t, map[string]*shp.Polygon{
		"100001": square(51.50, -0.12, 0.05, true),
	})

	_, err := ReadCatchments(path, "SCHOOL_ID")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no field")
}

func TestReadCatchmentsSkipsJunkRecords(t *testing.T) {
	path := writeFixture(t, map[string]*shp.Polygon{
		"100001": square(51.50, -0.12, 0.05, true),
		// Latitude out of range: the record is dropped, not fatal.
		"100002": square(95.0, -0.12, 0.05, true),
		// No URN value.
		"": square(51.60, -0.12, 0.05, true),
	})

	catchments, err := ReadCatchments(path, "URN")
	require.NoError(t, err)
	require.Len(t, catchments, 1)
	assert.Equal(t, "100001", catchments[0].URN)
}

func TestReadCatchmentsMultiPartPolygon(t *testing.T) {
	outer := square(51.50, -0.12, 0.10, true)
	inner := square(51.50, -0.12, 0.02, true)

	poly := &shp.Polygon{
		Box:       outer.Box,
		NumParts:  2,
		NumPoints: outer.NumPoints + inner.NumPoints,
		Parts:     []int32{0, outer.NumPoints},
		Points:    append(append([]shp.Point{}, outer.Points...), inner.Points...),
	}
	path := writeFixture(t, map[string]*shp.Polygon{"100001": poly})

	catchments, err := ReadCatchments(path, "URN")
	require.NoError(t, err)
	require.Len(t, catchments, 1)

	// First part is the exterior, the second a hole.
	assert.Equal(t, 2, catchments[0].Boundary.NumLinearRings())
}

func TestReadCatchmentsMissingFile(t *testing.T) {
	_, err := ReadCatchments(filepath.Join(t.TempDir(), "nope.shp"), "URN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open shapefile")
}
