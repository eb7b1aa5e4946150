package geospatial

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Zone is a named protected area
type Zone struct {
	Name     string
	Geometry orb.Geometry
	bound    orb.Bound
}

// AreaHectares returns the geodesic area of the zone in hectares
func (z Zone) AreaHectares() float64 {
	return ConvertToHectares(geo.Area(z.Geometry))
}

// ZoneCatalog answers point-in-zone queries against a fixed set of polygons
type ZoneCatalog struct {
	zones []Zone
}

// LoadZones reads a GeoJSON FeatureCollection of protected zones from path
func LoadZones(path string) (*ZoneCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}
	return ParseZones(data)
}

// ParseZones builds a catalog from a GeoJSON FeatureCollection. Each feature must be a
// Polygon or MultiPolygon; its "name" property names the zone.
func ParseZones(data []byte) (*ZoneCatalog, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	catalog := &ZoneCatalog{zones: make([]Zone, 0, len(fc.Features))}
	for i, feature := range fc.Features {
		if feature.Geometry == nil {
			return nil, errors.New("invalid GeoJSON: no geometry")
		}
		switch feature.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d: unsupported geometry %s", i, feature.Geometry.GeoJSONType())
		}
		name := feature.Properties.MustString("name", "")
		if name == "" {
			name = fmt.Sprintf("zone-%d", i+1)
		}
		catalog.zones = append(catalog.zones, Zone{
			Name:     name,
			Geometry: feature.Geometry,
			bound:    feature.Geometry.Bound(),
		})
	}
	return catalog, nil
}

// Locate returns the first zone containing the WGS84 coordinate
func (c *ZoneCatalog) Locate(lat, lng float64) (string, bool) {
	if c == nil {
		return "", false
	}
	pt := orb.Point{lng, lat}
	for _, z := range c.zones {
		if !z.bound.Contains(pt) {
			continue
		}
		if contains(z.Geometry, pt) {
			return z.Name, true
		}
	}
	return "", false
}

// Zones returns the catalogued zones
func (c *ZoneCatalog) Zones() []Zone {
	if c == nil {
		return nil
	}
	return c.zones
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, pt)
	}
	return false
}

// ConvertToHectares converts square meters to hectares
func ConvertToHectares(sqMeters float64) float64 {
	return sqMeters / 10000
}
