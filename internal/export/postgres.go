package export

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/db"
	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
)

// DefaultPostgresTable receives one row per geocoded record.
const DefaultPostgresTable = "geocoded_records"

var resultColumns = []string{
	"record_id", "run_id", "record_index", "address", "postal_code", "municipality",
	"latitude", "longitude", "geom", "provider", "method", "status", "attempts", "cached", "geocoded_at",
}

var attemptColumns = []string{
	"run_id", "record_id", "seq", "provider", "query", "try", "status", "http_status", "latency_ms", "message",
}

// PostgresExporter upserts results keyed by record id and appends the
// attempt log. The geom column holds EWKB (SRID 4326) so PostGIS can read it
// with geom::geometry.
type PostgresExporter struct {
	pool  db.Pool
	table string
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewPostgresExporter creates an exporter writing to table and
// table_attempts.
func NewPostgresExporter(pool db.Pool, table string, retry resilience.RetryConfig) *PostgresExporter {
	if table == "" {
		table = DefaultPostgresTable
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool {
			return pgconn.SafeToRetry(err) || resilience.IsTransient(err)
		}
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("postgres", "export")
	}
	return &PostgresExporter{pool: pool, table: table, retry: retry, now: time.Now}
}

func (e *PostgresExporter) attemptsTable() string { return e.table + "_attempts" }

// EnsureSchema creates the result and attempt tables when missing.
func (e *PostgresExporter) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	record_id    TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	record_index INTEGER NOT NULL,
	address      TEXT,
	postal_code  TEXT,
	municipality TEXT,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	geom         BYTEA,
	provider     TEXT,
	method       TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL,
	cached       BOOLEAN NOT NULL DEFAULT false,
	geocoded_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id      TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	provider    TEXT NOT NULL,
	query       TEXT NOT NULL,
	try         INTEGER NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  BIGINT NOT NULL,
	message     TEXT,
	PRIMARY KEY (run_id, record_id, seq)
);`, db.Identifier(e.table).Sanitize(), db.Identifier(e.attemptsTable()).Sanitize())

	_, err := e.pool.Exec(ctx, ddl)
	return eris.Wrap(err, "postgres: ensure schema")
}

// Export upserts every result and copies its attempts. It returns the number
// of result rows written.
func (e *PostgresExporter) Export(ctx context.Context, rs *model.ResultSet) (int64, error) {
	if err := e.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	rows, err := e.resultRows(rs)
	if err != nil {
		return 0, err
	}

	var n int64
	err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		var upErr error
		n, upErr = db.BulkUpsert(ctx, e.pool, db.UpsertConfig{
			Table:        e.table,
			Columns:      resultColumns,
			ConflictKeys: []string{"record_id"},
		}, rows)
		return upErr
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert results")
	}

	attempts := attemptRows(rs)
	var copied int64
	err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		var cpErr error
		copied, cpErr = db.CopyFrom(ctx, e.pool, e.attemptsTable(), attemptColumns, attempts)
		return cpErr
	})
	if err != nil {
		return n, eris.Wrap(err, "postgres: copy attempts")
	}

	zap.L().Debug("postgres: export done",
		zap.String("run_id", rs.RunID),
		zap.Int64("results", n),
		zap.Int64("attempts", copied),
	)
	return n, nil
}

func (e *PostgresExporter) resultRows(rs *model.ResultSet) ([][]any, error) {
	at := e.now().UTC()
	rows := make([][]any, 0, len(rs.Results))
	for _, r := range rs.Results {
		var lat, lon, geomVal any
		if r.Coordinates != nil {
			lat, lon = r.Coordinates.Latitude, r.Coordinates.Longitude
			data, err := ewkb.Marshal(point(r.Coordinates).SetSRID(4326), ewkb.NDR)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: encode point for %s", r.RecordID)
			}
			geomVal = data
		}
		rows = append(rows, []any{
			r.RecordID, rs.RunID, r.Index, nullable(r.Address), nullable(r.PostalCode), nullable(r.Municipality),
			lat, lon, geomVal, nullable(r.Provider), string(r.Method), string(r.Status), len(r.Attempts), r.Cached, at,
		})
	}
	return rows, nil
}

func attemptRows(rs *model.ResultSet) [][]any {
	var rows [][]any
	for _, r := range rs.Results {
		for seq, a := range r.Attempts {
			var httpStatus any
			if a.HTTPStatus != 0 {
				httpStatus = a.HTTPStatus
			}
			rows = append(rows, []any{
				rs.RunID, r.RecordID, seq, a.Provider, a.Query, a.Try, string(a.Status),
				httpStatus, a.Latency.Milliseconds(), nullable(a.Message),
			})
		}
	}
	return rows
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
