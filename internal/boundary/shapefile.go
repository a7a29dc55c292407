// Package boundary reads catchment polygons from council shapefiles
// for import into the school store.
package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	geomath "github.com/catchment-tools/schoolsearch-cli/internal/geo"
)

// Catchment pairs a school reference with its boundary polygon.
type Catchment struct {
	URN      string
	Boundary *geom.Polygon
}

// ReadCatchments reads a polygon shapefile and returns one catchment
// per record, matched to a school by the named URN attribute field.
// Records without a URN value, without a polygon shape, or with
// out-of-range coordinates are skipped and counted, not fatal: council
// exports routinely carry a few junk records.
func ReadCatchments(shpPath, urnField string) ([]Catchment, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	urnIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, urnField) {
			urnIdx = i
			break
		}
	}
	if urnIdx < 0 {
		return nil, eris.Errorf("boundary: shapefile %s has no field %q", shpPath, urnField)
	}

	var catchments []Catchment
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		urn := strings.TrimSpace(strings.TrimRight(reader.Attribute(urnIdx), "\x00"))
		if urn == "" {
			skipped++
			continue
		}

		polyShape, ok := shape.(*shp.Polygon)
		if !ok || polyShape == nil {
			skipped++
			continue
		}

		poly, err := convertPolygon(polyShape)
		if err != nil {
			zap.L().Debug("boundary: skipping record",
				zap.String("urn", urn),
				zap.Error(err),
			)
			skipped++
			continue
		}

		catchments = append(catchments, Catchment{URN: urn, Boundary: poly})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return catchments, nil
}

// convertPolygon converts a shapefile polygon part by part: the first
// part becomes the exterior ring, the rest become holes. Shapefile
// parts are X=longitude, Y=latitude, which matches the go-geom layout.
func convertPolygon(p *shp.Polygon) (*geom.Polygon, error) {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil, eris.New("boundary: polygon has no parts")
	}

	poly := geom.NewPolygon(geom.XY)
	poly.SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		points := p.Points[start:end]
		if len(points) < 3 {
			return nil, eris.Errorf("boundary: ring %d has %d points, need 3", i, len(points))
		}

		coords := make([]geom.Coord, 0, len(points)+1)
		for _, pt := range points {
			if err := geomath.ValidateCoordinate(pt.Y, pt.X); err != nil {
				return nil, err
			}
			coords = append(coords, geom.Coord{pt.X, pt.Y})
		}
		// Close unclosed rings.
		if coords[0][0] != coords[len(coords)-1][0] || coords[0][1] != coords[len(coords)-1][1] {
			coords = append(coords, geom.Coord{coords[0][0], coords[0][1]})
		}

		ring := geom.NewLinearRing(geom.XY)
		if _, err := ring.SetCoords(coords); err != nil {
			return nil, eris.Wrapf(err, "boundary: build ring %d", i)
		}
		if err := poly.Push(ring); err != nil {
			return nil, eris.Wrapf(err, "boundary: push ring %d", i)
		}
	}

	return poly, nil
}
