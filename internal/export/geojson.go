package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// FeatureCollection builds a collection with one Point per resolved result.
// Unresolved records are left out.
func FeatureCollection(rs *model.ResultSet) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, r := range rs.Resolved() {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.RecordID,
			Geometry: point(r.Coordinates),
			Properties: map[string]any{
				"id":           r.RecordID,
				"address":      r.Address,
				"postal_code":  r.PostalCode,
				"municipality": r.Municipality,
				"provider":     r.Provider,
				"method":       string(r.Method),
				"status":       string(r.Status),
				"attempts":     len(r.Attempts),
				"cached":       r.Cached,
			},
		})
	}
	return fc
}

// WriteGeoJSON writes the resolved results as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, rs *model.ResultSet) error {
	data, err := FeatureCollection(rs).MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "geojson: marshal")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "geojson: write")
	}
	return nil
}

// point converts WGS84 coordinates to an XY point in lon/lat order.
func point(c *model.Coordinates) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Longitude, c.Latitude})
}
