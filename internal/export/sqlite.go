package export

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	requested   INTEGER NOT NULL,
	processed   INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	record_id    TEXT NOT NULL,
	record_index INTEGER NOT NULL,
	address      TEXT,
	postal_code  TEXT,
	municipality TEXT,
	latitude     REAL,
	longitude    REAL,
	provider     TEXT,
	method       TEXT NOT NULL,
	status       TEXT NOT NULL,
	cached       INTEGER NOT NULL,
	PRIMARY KEY (run_id, record_id)
);

CREATE TABLE IF NOT EXISTS attempts (
	run_id      TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	provider    TEXT NOT NULL,
	query       TEXT NOT NULL,
	try         INTEGER NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  INTEGER NOT NULL,
	message     TEXT,
	PRIMARY KEY (run_id, record_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`

// WriteSQLite stores rs in a SQLite database at path, creating the schema if
// needed. Several runs may share one database file.
func WriteSQLite(ctx context.Context, path string, rs *model.ResultSet) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "sqlite: open")
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return eris.Wrap(err, "sqlite: pragma")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, finished_at, requested, processed, cancelled) VALUES (?, ?, ?, ?, ?, ?)`,
		rs.RunID, rs.StartedAt.UTC(), rs.FinishedAt.UTC(), rs.Requested, len(rs.Results), rs.Cancelled,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert run")
	}

	resStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, record_id, record_index, address, postal_code, municipality,
			latitude, longitude, provider, method, status, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare results")
	}
	defer resStmt.Close() //nolint:errcheck

	attStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attempts (run_id, record_id, seq, provider, query, try, status, http_status, latency_ms, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare attempts")
	}
	defer attStmt.Close() //nolint:errcheck

	for _, r := range rs.Results {
		var lat, lon sql.NullFloat64
		if r.Coordinates != nil {
			lat = sql.NullFloat64{Float64: r.Coordinates.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: r.Coordinates.Longitude, Valid: true}
		}
		if _, err := resStmt.ExecContext(ctx,
			rs.RunID, r.RecordID, r.Index, nullString(r.Address), nullString(r.PostalCode), nullString(r.Municipality),
			lat, lon, nullString(r.Provider), string(r.Method), string(r.Status), r.Cached,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.RecordID)
		}

		for seq, a := range r.Attempts {
			if _, err := attStmt.ExecContext(ctx,
				rs.RunID, r.RecordID, seq, a.Provider, a.Query, a.Try, string(a.Status),
				nullInt(a.HTTPStatus), a.Latency.Milliseconds(), nullString(a.Message),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert attempt %s/%d", r.RecordID, seq)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
