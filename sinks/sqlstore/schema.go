package sqlstore

import (
	"fmt"
	"strings"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    failure TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    finished_at INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS records (
    run_id TEXT NOT NULL REFERENCES runs(id),
    seq INTEGER NOT NULL,
    path TEXT NOT NULL,
    step INTEGER NOT NULL,
    kind TEXT NOT NULL,
    num_value REAL,
    int_value INTEGER,
    text_value TEXT,
    blob_value BLOB,
    recorded_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_records_path ON records (run_id, path, step)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    failure TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    finished_at BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS records (
    run_id TEXT NOT NULL REFERENCES runs(id),
    seq BIGINT NOT NULL,
    path TEXT NOT NULL,
    step BIGINT NOT NULL,
    kind TEXT NOT NULL,
    num_value DOUBLE PRECISION,
    int_value BIGINT,
    text_value TEXT,
    blob_value BYTEA,
    recorded_at BIGINT NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_records_path ON records (run_id, path, step)`,
}

func schemaForDriver(driver string) ([]string, error) {
	switch driver {
	case DriverSQLite:
		return sqliteSchema, nil
	case DriverPostgres:
		return postgresSchema, nil
	default:
		return nil, unsupportedDriver(driver)
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	insertRunStmt    = `INSERT INTO runs (id, name, status, created_at) VALUES (?, ?, ?, ?)`
	finishRunStmt    = `UPDATE runs SET status = ?, failure = ?, finished_at = ? WHERE id = ?`
	insertRecordStmt = `INSERT INTO records (run_id, seq, path, step, kind, num_value, int_value, text_value, blob_value, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecordsStmt = `SELECT path, step, kind, num_value, int_value, text_value, blob_value, recorded_at
FROM records WHERE run_id = ? ORDER BY seq`
	selectRunStmt = `SELECT id, name, status, failure, created_at, finished_at FROM runs WHERE id = ?`
)
