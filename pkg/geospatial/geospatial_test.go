package geospatial

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zonesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "Sundarbans"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[88.0, 21.5], [89.5, 21.5], [89.5, 22.5], [88.0, 22.5], [88.0, 21.5]]]
      }
    },
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "MultiPolygon",
        "coordinates": [
          [[[72.80, 19.00], [72.90, 19.00], [72.90, 19.10], [72.80, 19.10], [72.80, 19.00]]],
          [[[73.00, 19.00], [73.10, 19.00], [73.10, 19.10], [73.00, 19.10], [73.00, 19.00]]]
        ]
      }
    }
  ]
}`

func TestParseZones_Locate(t *testing.T) {
	catalog, err := ParseZones([]byte(zonesGeoJSON))
	require.NoError(t, err)
	require.Len(t, catalog.Zones(), 2)

	name, ok := catalog.Locate(21.95, 89.18)
	assert.True(t, ok)
	assert.Equal(t, "Sundarbans", name)

	name, ok = catalog.Locate(19.05, 73.05)
	assert.True(t, ok)
	assert.Equal(t, "zone-2", name)

	_, ok = catalog.Locate(19.05, 72.95)
	assert.False(t, ok)

	_, ok = catalog.Locate(48.85, 2.35)
	assert.False(t, ok)
}

func TestParseZones_Errors(t *testing.T) {
	_, err := ParseZones([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseZones([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`))
	assert.Error(t, err)
}

func TestLoadZones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.geojson")
	require.NoError(t, os.WriteFile(path, []byte(zonesGeoJSON), 0o600))

	catalog, err := LoadZones(path)
	require.NoError(t, err)
	assert.Greater(t, catalog.Zones()[0].AreaHectares(), 1_000_000.0)

	_, err = LoadZones(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestNilCatalog(t *testing.T) {
	var catalog *ZoneCatalog
	_, ok := catalog.Locate(1, 2)
	assert.False(t, ok)
	assert.Nil(t, catalog.Zones())
}

func TestConvertToHectares(t *testing.T) {
	assert.Equal(t, 2.5, ConvertToHectares(25000))
}
