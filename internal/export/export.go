// Package export writes a pipeline ResultSet to files and databases.
package export

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// Format names an export target.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
	FormatSQLite    Format = "sqlite"
	FormatPostgres  Format = "postgres"
	FormatSummary   Format = "summary"
)

var knownFormats = map[Format]string{
	FormatCSV:       ".csv",
	FormatGeoJSON:   ".geojson",
	FormatShapefile: ".zip",
	FormatSQLite:    ".sqlite",
	FormatSummary:   ".summary.yaml",
	FormatPostgres:  "",
}

// ParseFormats validates and de-duplicates format names, keeping their order.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool, len(names))
	var out []Format
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		if f == "" || seen[f] {
			continue
		}
		if _, ok := knownFormats[f]; !ok {
			return nil, eris.Errorf("export: unknown format %q", n)
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Row is the flat per-record view shared by the tabular exporters.
type Row struct {
	RecordID     string `csv:"id"`
	Address      string `csv:"address"`
	PostalCode   string `csv:"postal_code"`
	Municipality string `csv:"municipality"`
	Latitude     string `csv:"latitude"`
	Longitude    string `csv:"longitude"`
	Provider     string `csv:"provider"`
	Method       string `csv:"method"`
	Status       string `csv:"status"`
	Attempts     int    `csv:"attempts"`
	Cached       bool   `csv:"cached"`
}

// NewRow flattens one result. Coordinates are empty when unresolved.
func NewRow(r model.GeocodeResult) Row {
	row := Row{
		RecordID:     r.RecordID,
		Address:      r.Address,
		PostalCode:   r.PostalCode,
		Municipality: r.Municipality,
		Provider:     r.Provider,
		Method:       string(r.Method),
		Status:       string(r.Status),
		Attempts:     len(r.Attempts),
		Cached:       r.Cached,
	}
	if r.Coordinates != nil {
		row.Latitude = formatCoord(r.Coordinates.Latitude)
		row.Longitude = formatCoord(r.Coordinates.Longitude)
	}
	return row
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Options selects what WriteAll produces.
type Options struct {
	Dir      string
	BaseName string
	Formats  []Format
	Postgres *PostgresExporter
}

// WriteAll writes rs in every requested format and returns the files
// created. The Postgres format requires opts.Postgres.
func WriteAll(ctx context.Context, rs *model.ResultSet, opts Options) ([]string, error) {
	if opts.BaseName == "" {
		opts.BaseName = "geocoded"
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", opts.Dir)
	}

	var written []string
	for _, f := range opts.Formats {
		path := filepath.Join(opts.Dir, opts.BaseName+knownFormats[f])
		var err error
		switch f {
		case FormatCSV:
			err = writeFile(path, func(w *os.File) error { return WriteCSV(w, rs) })
		case FormatGeoJSON:
			err = writeFile(path, func(w *os.File) error { return WriteGeoJSON(w, rs) })
		case FormatSummary:
			err = writeFile(path, func(w *os.File) error { return WriteSummaryYAML(w, rs) })
		case FormatShapefile:
			err = WriteShapefileZip(path, rs)
		case FormatSQLite:
			err = WriteSQLite(ctx, path, rs)
		case FormatPostgres:
			if opts.Postgres == nil {
				return written, eris.New("export: postgres format requested without a connection")
			}
			var n int64
			n, err = opts.Postgres.Export(ctx, rs)
			path = opts.Postgres.table
			if err == nil {
				zap.L().Info("export: postgres rows upserted", zap.String("table", path), zap.Int64("rows", n))
			}
		default:
			err = eris.Errorf("export: unknown format %q", f)
		}
		if err != nil {
			return written, eris.Wrapf(err, "export: %s", f)
		}
		written = append(written, path)
	}

	zap.L().Info("export: complete",
		zap.String("run_id", rs.RunID),
		zap.Strings("outputs", written),
	)
	return written, nil
}

func writeFile(path string, fn func(w *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := fn(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}
