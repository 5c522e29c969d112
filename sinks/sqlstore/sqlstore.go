// Package sqlstore persists tracking records in a SQL database through
// database/sql. SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are
// supported.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	// postgres driver "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"
	// sqlite driver "sqlite"
	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// Run states.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// Config selects the database.
type Config struct {
	Driver          string         `mapstructure:"driver"`
	URL             string         `mapstructure:"url"`
	RunName         string         `mapstructure:"run_name,omitempty"`
	ConnMaxLifetime *time.Duration `mapstructure:"conn_max_lifetime,omitempty"`
	MaxOpenConns    *int           `mapstructure:"max_open_conns,omitempty"`
}

// DecodeConfig decodes a generic map, as found in config files, into Config.
func DecodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, errors.Wrap(err, "decode sql config")
	}
	return cfg, nil
}

func unsupportedDriver(driver string) error {
	return errors.NewValidationError("driver", "must be sqlite or pgx", driver)
}

// Sink writes records of one run. Each Append is one transaction.
type Sink struct {
	mu     sync.Mutex
	db     *sql.DB
	driver string
	runID  string
	seq    int64
	failed error
	closed bool
	logger log.Logger
}

var (
	_ tracking.Sink          = (*Sink)(nil)
	_ tracking.FailureMarker = (*Sink)(nil)
)

// Open connects, ensures the schema exists and registers a new run.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, unsupportedDriver(cfg.Driver)
	}
	logger := log.GetLogger().With(log.ComponentKey, "sqlstore", "driver", cfg.Driver)

	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if cfg.ConnMaxLifetime != nil {
		db.SetConnMaxLifetime(*cfg.ConnMaxLifetime)
	}
	if cfg.MaxOpenConns != nil {
		db.SetMaxOpenConns(*cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s, err := newSink(ctx, db, cfg.Driver, cfg.RunName, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSink(ctx context.Context, db *sql.DB, driver, runName string, logger log.Logger) (*Sink, error) {
	schema, err := schemaForDriver(driver)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "ensure schema")
		}
	}

	s := &Sink{db: db, driver: driver, runID: uuid.NewString()}
	if _, err := db.ExecContext(ctx, s.q(insertRunStmt), s.runID, runName, StatusRunning, time.Now().UnixNano()); err != nil {
		return nil, errors.Wrap(err, "insert run")
	}
	s.logger = logger.With(log.RunIDKey, s.runID)
	s.logger.Info("sql run created", log.RunNameKey, runName)
	return s, nil
}

func (s *Sink) q(query string) string { return rebind(s.driver, query) }

func (s *Sink) Name() string { return "sql" }

// RunID is the generated id of the run row.
func (s *Sink) RunID() string { return s.runID }

// DB exposes the underlying pool for queries.
func (s *Sink) DB() *sql.DB { return s.db }

// Append inserts records in one transaction.
func (s *Sink) Append(ctx context.Context, records []tracking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sql sink closed")
	}
	start := time.Now()
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(insertRecordStmt))
		if err != nil {
			return err
		}
		defer stmt.Close()

		seq := s.seq
		for _, r := range records {
			seq++
			col := columnsFor(r.Value)
			if _, err := stmt.ExecContext(ctx, s.runID, seq, r.Path, r.Step, r.Value.Kind.String(),
				col.num, col.int, col.text, col.blob, r.Timestamp.UnixNano()); err != nil {
				return errors.Wrapf(err, "insert %s", r.Path)
			}
		}
		s.seq = seq
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("records inserted", log.RecordCountKey, len(records), log.DurationMsKey, time.Since(start).Milliseconds())
	return nil
}

func (s *Sink) withTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", log.ErrAttrKey, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// MarkFailed makes Close record the run as failed.
func (s *Sink) MarkFailed(_ context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = cause
}

// Close finalizes the run row and closes the pool.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	status, failure := StatusFinished, ""
	if s.failed != nil {
		status, failure = StatusFailed, s.failed.Error()
	}
	_, err := s.db.ExecContext(ctx, s.q(finishRunStmt), status, failure, time.Now().UnixNano(), s.runID)
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "finish run")
	}
	s.logger.Info("sql run closed", "status", status)
	return nil
}

type columns struct {
	num  sql.NullFloat64
	int  sql.NullInt64
	text sql.NullString
	blob []byte
}

func columnsFor(v tracking.Value) columns {
	var c columns
	switch v.Kind {
	case tracking.KindFloat:
		c.num = sql.NullFloat64{Float64: v.Float, Valid: true}
	case tracking.KindInt:
		c.int = sql.NullInt64{Int64: v.Int, Valid: true}
	case tracking.KindBool:
		var b int64
		if v.Bool {
			b = 1
		}
		c.int = sql.NullInt64{Int64: b, Valid: true}
	case tracking.KindString:
		c.text = sql.NullString{String: v.Str, Valid: true}
	case tracking.KindBytes:
		c.blob = v.Bytes
		if c.blob == nil {
			c.blob = []byte{}
		}
	}
	return c
}
