package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

func openTestSink(t *testing.T) (*Sink, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, URL: dsn, RunName: "unit"})
	require.NoError(t, err)
	return s, dsn
}

func openReader(t *testing.T, dsn string) *Reader {
	t.Helper()
	db, err := sql.Open(DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r, err := NewReader(db, DriverSQLite)
	require.NoError(t, err)
	return r
}

func TestSinkPersistsRun(t *testing.T) {
	ctx := context.Background()
	s, dsn := openTestSink(t)
	runID := s.RunID()

	err := tracking.Run(ctx, s, func(a *tracking.Adapter) error {
		ev := event.Event{
			Kind:      event.IterationCompleted,
			Metrics:   map[string]float64{"loss": 0.5},
			Params:    map[string]any{"depth": 6, "objective": "l2", "bagging": true},
			Artifacts: []event.Artifact{{Name: "model", Data: []byte("m")}},
		}
		if err := a.OnEvent(ctx, ev); err != nil {
			return err
		}
		return a.OnEvent(ctx, event.Iteration(1, map[string]float64{"loss": 0.3}))
	})
	require.NoError(t, err)

	r := openReader(t, dsn)
	info, err := r.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "unit", info.Name)
	assert.Equal(t, StatusFinished, info.Status)
	require.NotNil(t, info.FinishedAt)

	recs, err := r.Records(ctx, runID)
	require.NoError(t, err)
	require.Len(t, recs, 6)

	byPath := map[string]tracking.Value{}
	for _, rec := range recs {
		byPath[rec.Path] = rec.Value
	}
	assert.Equal(t, tracking.Int(6), byPath["params/depth"])
	assert.Equal(t, tracking.String("l2"), byPath["params/objective"])
	assert.Equal(t, tracking.Bool(true), byPath["params/bagging"])
	assert.Equal(t, []byte("m"), byPath["artifacts/model"].Bytes)
	assert.Equal(t, 0.3, byPath["metrics/loss"].Float)
	assert.Equal(t, "metrics/loss", recs[len(recs)-1].Path)
}

func TestSinkMarksFailure(t *testing.T) {
	ctx := context.Background()
	s, dsn := openTestSink(t)

	err := tracking.Run(ctx, s, func(*tracking.Adapter) error {
		return errors.New("out of memory")
	})
	require.Error(t, err)

	info, err := openReader(t, dsn).Run(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Contains(t, info.Failure, "out of memory")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(map[string]any{
		"driver":            "pgx",
		"url":               "postgres://localhost/scitrack",
		"conn_max_lifetime": "5m",
		"max_open_conns":    4,
	})
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Driver)
	require.NotNil(t, cfg.ConnMaxLifetime)
	assert.Equal(t, "5m0s", cfg.ConnMaxLifetime.String())
	assert.Equal(t, 4, *cfg.MaxOpenConns)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "UPDATE runs SET status = $1 WHERE id = $2", rebind(DriverPostgres, "UPDATE runs SET status = ? WHERE id = ?"))
	assert.Equal(t, "SELECT ?", rebind(DriverSQLite, "SELECT ?"))
}
