package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// RunInfo is one row of the runs table.
type RunInfo struct {
	ID         string
	Name       string
	Status     string
	Failure    string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Reader queries runs written by Sink.
type Reader struct {
	db     *sql.DB
	driver string
}

// NewReader wraps an open pool. The caller keeps ownership of db.
func NewReader(db *sql.DB, driver string) (*Reader, error) {
	if _, err := schemaForDriver(driver); err != nil {
		return nil, err
	}
	return &Reader{db: db, driver: driver}, nil
}

// Run loads the run row with id.
func (r *Reader) Run(ctx context.Context, id string) (RunInfo, error) {
	var (
		info     RunInfo
		created  int64
		finished sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, rebind(r.driver, selectRunStmt), id).
		Scan(&info.ID, &info.Name, &info.Status, &info.Failure, &created, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, errors.Newf("run %s not found", id)
		}
		return info, errors.Wrap(err, "select run")
	}
	info.CreatedAt = time.Unix(0, created).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		info.FinishedAt = &t
	}
	return info, nil
}

// Records loads every record of run id in append order.
func (r *Reader) Records(ctx context.Context, id string) ([]tracking.Record, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.driver, selectRecordsStmt), id)
	if err != nil {
		return nil, errors.Wrap(err, "select records")
	}
	defer rows.Close()

	var out []tracking.Record
	for rows.Next() {
		var (
			rec  tracking.Record
			kind string
			col  columns
			ts   int64
		)
		if err := rows.Scan(&rec.Path, &rec.Step, &kind, &col.num, &col.int, &col.text, &col.blob, &ts); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.Value, err = valueFrom(kind, col)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func valueFrom(kind string, c columns) (tracking.Value, error) {
	switch kind {
	case tracking.KindFloat.String():
		return tracking.Float(c.num.Float64), nil
	case tracking.KindInt.String():
		return tracking.Int(c.int.Int64), nil
	case tracking.KindBool.String():
		return tracking.Bool(c.int.Int64 != 0), nil
	case tracking.KindString.String():
		return tracking.String(c.text.String), nil
	case tracking.KindBytes.String():
		return tracking.Bytes(c.blob), nil
	default:
		return tracking.Value{}, errors.Newf("unknown value kind %q", kind)
	}
}
