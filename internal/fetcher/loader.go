package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// LoadOptions configures LoadRecords.
type LoadOptions struct {
	Fields model.FieldMap
	Sheet  XLSXOptions
	// Delimiter forces the CSV delimiter; zero sniffs it from the header.
	Delimiter rune
}

// Table is one parsed input file.
type Table struct {
	Source  string
	Headers []string
	Rows    [][]string
}

// LoadRecords reads every path in order and returns their rows as records.
// Record indexes run across files so they stay unique within a run.
func LoadRecords(ctx context.Context, paths []string, opts LoadOptions) ([]model.RawRecord, error) {
	if len(paths) == 0 {
		return nil, eris.New("fetcher: no input files")
	}

	var records []model.RawRecord
	for _, path := range paths {
		table, err := ReadTable(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		records = table.AppendRecords(records, opts.Fields)

		zap.L().Info("fetcher: loaded input",
			zap.String("source", table.Source),
			zap.Int("rows", len(table.Rows)),
			zap.Int("columns", len(table.Headers)),
		)
	}
	return records, nil
}

// ReadTable parses one input file. XLSX, CSV/TXT, and a ZIP wrapping exactly
// one of those are accepted.
func ReadTable(ctx context.Context, path string, opts LoadOptions) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		rows, err = ReadXLSX(path, opts.Sheet)
	case ".csv", ".txt":
		rows, err = readDelimited(ctx, path, opts.Delimiter)
	case ".zip":
		return readZipped(ctx, path, opts)
	default:
		return nil, eris.Errorf("fetcher: unsupported file type %q for %s", ext, path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	return newTable(filepath.Base(path), rows)
}

func readZipped(ctx context.Context, path string, opts LoadOptions) (*Table, error) {
	dir, err := os.MkdirTemp("", "cnpj-geocoder-*")
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	inner, err := ExtractSingle(path, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	if strings.EqualFold(filepath.Ext(inner), ".zip") {
		return nil, eris.Errorf("fetcher: nested archive in %s", path)
	}
	t, err := ReadTable(ctx, inner, opts)
	if err != nil {
		return nil, err
	}
	t.Source = filepath.Base(path) + "!" + t.Source
	return t, nil
}

func readDelimited(ctx context.Context, path string, delim rune) ([][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read file")
	}
	data, err := DecodeText(raw)
	if err != nil {
		return nil, err
	}
	if delim == 0 {
		delim = SniffDelimiter(data)
	}
	return ReadCSV(ctx, bytes.NewReader(data), CSVOptions{Delimiter: delim, LazyQuotes: true})
}

func newTable(source string, rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, eris.Errorf("fetcher: %s has no header row", source)
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = CleanHeader(h)
	}
	return &Table{Source: source, Headers: headers, Rows: rows[1:]}, nil
}

// AppendRecords converts the table's rows to records and appends them to
// dst. Blank rows are skipped. When the configured postal-code column is
// absent, a column whose name looks like a postal code stands in for it.
// Rows with no id get "source:row".
func (t *Table) AppendRecords(dst []model.RawRecord, fields model.FieldMap) []model.RawRecord {
	postalFrom := ""
	if fields.PostalCode != "" && !t.hasHeader(fields.PostalCode) {
		if col := DetectPostalColumn(t.Headers); col != "" {
			postalFrom = col
			zap.L().Info("fetcher: using detected postal code column",
				zap.String("source", t.Source),
				zap.String("column", col),
				zap.String("field", fields.PostalCode),
			)
		}
	}

	for i, row := range t.Rows {
		if blank(row) {
			continue
		}
		values := make(map[string]string, len(t.Headers))
		for j, h := range t.Headers {
			if h == "" || j >= len(row) {
				continue
			}
			values[h] = row[j]
		}
		if postalFrom != "" {
			if v, ok := values[postalFrom]; ok {
				values[fields.PostalCode] = v
			}
		}

		id := CleanHeader(values[fields.ID])
		if id == "" {
			id = fmt.Sprintf("%s:%d", t.Source, i+1)
		}
		dst = append(dst, model.RawRecord{
			ID:     id,
			Index:  len(dst),
			Source: t.Source,
			Fields: values,
		})
	}
	return dst
}

func (t *Table) hasHeader(name string) bool {
	for _, h := range t.Headers {
		if h == name {
			return true
		}
	}
	return false
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
