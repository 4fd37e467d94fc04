package export

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// wgs84PRJ is the ESRI WKT for EPSG:4326.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// shapeField is one DBF column. DBF names are limited to 10 characters.
type shapeField struct {
	field shp.Field
	value func(model.GeocodeResult) any
}

const (
	textWidth  = 254
	shortWidth = 32
)

var shapeFields = []shapeField{
	{shp.StringField("ID", shortWidth), func(r model.GeocodeResult) any { return r.RecordID }},
	{shp.StringField("ADDRESS", textWidth), func(r model.GeocodeResult) any { return r.Address }},
	{shp.StringField("CEP", 8), func(r model.GeocodeResult) any { return r.PostalCode }},
	{shp.StringField("MUNICIPIO", shortWidth), func(r model.GeocodeResult) any { return r.Municipality }},
	{shp.FloatField("LAT", 12, 7), func(r model.GeocodeResult) any { return r.Coordinates.Latitude }},
	{shp.FloatField("LON", 12, 7), func(r model.GeocodeResult) any { return r.Coordinates.Longitude }},
	{shp.StringField("PROVIDER", 16), func(r model.GeocodeResult) any { return r.Provider }},
	{shp.StringField("METHOD", 16), func(r model.GeocodeResult) any { return string(r.Method) }},
	{shp.StringField("STATUS", 8), func(r model.GeocodeResult) any { return string(r.Status) }},
}

// WriteShapefileZip writes the resolved results as a point shapefile and
// packs its .shp, .shx, .dbf, .prj and .cpg parts into a ZIP at zipPath.
func WriteShapefileZip(zipPath string, rs *model.ResultSet) error {
	dir, err := os.MkdirTemp("", "cnpj-geocoder-shp-*")
	if err != nil {
		return eris.Wrap(err, "shapefile: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	base := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	shpPath := filepath.Join(dir, base+".shp")
	if err := writeShapefile(shpPath, rs); err != nil {
		return err
	}

	stem := strings.TrimSuffix(shpPath, ".shp")
	if err := fixDBFName(stem); err != nil {
		return err
	}
	if err := os.WriteFile(stem+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return eris.Wrap(err, "shapefile: write prj")
	}
	if err := os.WriteFile(stem+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return eris.Wrap(err, "shapefile: write cpg")
	}

	parts := []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}
	return zipFiles(zipPath, stem, parts)
}

func writeShapefile(shpPath string, rs *model.ResultSet) error {
	w, err := shp.Create(shpPath, shp.POINT)
	if err != nil {
		return eris.Wrap(err, "shapefile: create")
	}
	defer w.Close()

	fields := make([]shp.Field, len(shapeFields))
	for i, f := range shapeFields {
		fields[i] = f.field
	}
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "shapefile: set fields")
	}

	for _, r := range rs.Resolved() {
		row := int(w.Write(&shp.Point{X: r.Coordinates.Longitude, Y: r.Coordinates.Latitude}))
		for j, f := range shapeFields {
			v := f.value(r)
			if s, ok := v.(string); ok {
				v = truncateRunes(s, int(f.field.Size))
			}
			if err := w.WriteAttribute(row, j, v); err != nil {
				return eris.Wrapf(err, "shapefile: write attribute %d of %s", j, r.RecordID)
			}
		}
	}
	return nil
}

// fixDBFName renames the attribute table go-shp writes as "<stem>dbf"
// (no dot) to "<stem>.dbf".
func fixDBFName(stem string) error {
	if _, err := os.Stat(stem + ".dbf"); err == nil {
		return nil
	}
	if err := os.Rename(stem+"dbf", stem+".dbf"); err != nil {
		return eris.Wrap(err, "shapefile: rename dbf")
	}
	return nil
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func zipFiles(zipPath, stem string, exts []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return eris.Wrap(err, "shapefile: create zip")
	}
	zw := zip.NewWriter(out)

	for _, ext := range exts {
		if err := addToZip(zw, stem+ext); err != nil {
			zw.Close()  //nolint:errcheck
			out.Close() //nolint:errcheck
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close() //nolint:errcheck
		return eris.Wrap(err, "shapefile: finish zip")
	}
	return eris.Wrap(out.Close(), "shapefile: close zip")
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "shapefile: open %s", filepath.Base(path))
	}
	defer f.Close() //nolint:errcheck

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return eris.Wrapf(err, "shapefile: add %s", filepath.Base(path))
	}
	_, err = io.Copy(w, f)
	return eris.Wrapf(err, "shapefile: copy %s", filepath.Base(path))
}
