package tracking_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/sinks/memory"
	"github.com/YuminosukeSato/scitrack/tracking"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestOnEventForwardsLossCurve(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	a := tracking.New(sink, tracking.WithClock(fixedClock))

	for step, loss := range []float64{0.5, 0.3, 0.1} {
		require.NoError(t, a.OnEvent(ctx, event.Iteration(int64(step), map[string]float64{"loss": loss})))
	}

	recs := sink.Path("metrics/loss")
	require.Len(t, recs, 3)
	for i, want := range []float64{0.5, 0.3, 0.1} {
		assert.Equal(t, int64(i), recs[i].Step)
		assert.Equal(t, tracking.KindFloat, recs[i].Value.Kind)
		assert.InDelta(t, want, recs[i].Value.Float, 1e-12)
		assert.Equal(t, fixedClock(), recs[i].Timestamp)
	}
}

func TestOnEventOneRecordPerMetric(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	metrics := map[string]float64{"train/l2": 1, "valid/l2": 2, "valid/l1": 3}
	require.NoError(t, a.OnEvent(context.Background(), event.Iteration(4, metrics)))

	recs := sink.Records()
	require.Len(t, recs, 3)
	paths := map[string]bool{}
	for _, r := range recs {
		paths[r.Path] = true
		assert.Equal(t, int64(4), r.Step)
	}
	assert.Len(t, paths, 3)
	assert.True(t, paths["metrics/valid/l1"])
	assert.Equal(t, 1, sink.Appends(), "one event is one append")
}

func TestOnEventParamsAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "model.txt")
	require.NoError(t, os.WriteFile(file, []byte("tree=0"), 0o600))

	sink := memory.New()
	a := tracking.New(sink)

	type depth int
	ev := event.Event{
		Kind: event.IterationCompleted,
		Params: map[string]any{
			"objective":     "regression",
			"max_depth":     depth(6),
			"learning_rate": 0.1,
			"verbose":       false,
			"bagging":       map[string]any{"fraction": 0.8, "freq": uint8(5)},
		},
		Artifacts: []event.Artifact{
			{Name: "model.txt", Path: file},
			{Name: "notes", Data: []byte{0x00, 0xff}},
		},
	}
	require.NoError(t, a.OnEvent(context.Background(), ev))

	rec, ok := sink.Last("params/objective")
	require.True(t, ok)
	assert.Equal(t, tracking.String("regression"), rec.Value)

	rec, _ = sink.Last("params/max_depth")
	assert.Equal(t, tracking.Int(6), rec.Value)

	rec, _ = sink.Last("params/verbose")
	assert.Equal(t, tracking.Bool(false), rec.Value)

	rec, _ = sink.Last("params/bagging/freq")
	assert.Equal(t, tracking.Int(5), rec.Value)

	rec, _ = sink.Last("params/bagging/fraction")
	assert.Equal(t, tracking.Float(0.8), rec.Value)

	rec, _ = sink.Last("artifacts/model.txt")
	assert.Equal(t, []byte("tree=0"), rec.Value.Bytes)

	rec, _ = sink.Last("artifacts/notes")
	assert.Equal(t, tracking.KindBytes, rec.Value.Kind)
	assert.Equal(t, []byte{0x00, 0xff}, rec.Value.Bytes)
}

func TestOnEventRejectsUnsupportedParam(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	ev := event.Event{
		Kind:    event.IterationCompleted,
		Metrics: map[string]float64{"loss": 0.2},
		Params:  map[string]any{"callbacks": []string{"a", "b"}},
	}
	err := a.OnEvent(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
	assert.Empty(t, sink.Records(), "nothing is forwarded on normalization failure")
}

func TestOnEventMissingArtifactFile(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	ev := event.Event{
		Kind:      event.IterationCompleted,
		Artifacts: []event.Artifact{{Name: "model", Path: filepath.Join(t.TempDir(), "missing")}},
	}
	err := a.OnEvent(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOnEventNonFinite(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		sink := memory.New()
		a := tracking.New(sink)
		err := a.OnEvent(context.Background(), event.Iteration(0, map[string]float64{"loss": math.NaN()}))
		require.Error(t, err)
		assert.True(t, errors.IsSerialization(err))
		assert.Empty(t, sink.Records())
	})

	t.Run("passed through with warning", func(t *testing.T) {
		var warnings []error
		errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
		t.Cleanup(func() { errors.SetWarningHandler(nil) })

		logger, _ := log.NewTestLogger(log.LevelDebug)
		sink := memory.New()
		a := tracking.New(sink,
			tracking.WithNonFinitePolicy(tracking.PassThroughNonFinite),
			tracking.WithLogger(logger),
		)
		require.NoError(t, a.OnEvent(context.Background(), event.Iteration(0, map[string]float64{"loss": math.Inf(1)})))

		rec, ok := sink.Last("metrics/loss")
		require.True(t, ok)
		assert.True(t, math.IsInf(rec.Value.Float, 1))
		require.Len(t, warnings, 1)
		var nf *errors.NonFiniteWarning
		require.True(t, errors.As(warnings[0], &nf))
		assert.Equal(t, "metrics/loss", nf.Path)
		assert.True(t, logger.ContainsMessage("non-finite value forwarded"))
	})
}

func TestParseNonFinitePolicy(t *testing.T) {
	p, err := tracking.ParseNonFinitePolicy("pass")
	require.NoError(t, err)
	assert.Equal(t, tracking.PassThroughNonFinite, p)

	p, err = tracking.ParseNonFinitePolicy("")
	require.NoError(t, err)
	assert.Equal(t, tracking.RejectNonFinite, p)

	_, err = tracking.ParseNonFinitePolicy("drop")
	assert.Error(t, err)
}

func TestOnEventStepRegression(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	a := tracking.New(sink)

	require.NoError(t, a.OnEvent(ctx, event.Iteration(5, map[string]float64{"loss": 0.4})))
	require.NoError(t, a.OnEvent(ctx, event.Iteration(5, map[string]float64{"loss": 0.39})))

	err := a.OnEvent(ctx, event.Iteration(3, map[string]float64{"loss": 0.3, "auc": 0.7}))
	require.Error(t, err)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "step", ve.ParamName)
	assert.Len(t, sink.Records(), 2)

	// A new path may start at any step.
	require.NoError(t, a.OnEvent(ctx, event.Iteration(3, map[string]float64{"auc": 0.7})))
}

func TestOnEventValidation(t *testing.T) {
	ctx := context.Background()
	a := tracking.New(memory.New())

	err := a.OnEvent(ctx, event.Event{Kind: event.Kind(42)})
	assert.Error(t, err)

	err = a.OnEvent(ctx, event.Iteration(0, map[string]float64{"": 1}))
	assert.Error(t, err)

	err = a.OnEvent(ctx, event.Iteration(0, map[string]float64{"valid//l2": 1}))
	assert.Error(t, err)

	// metric "x" collides with param "x" only across namespaces, so this is fine
	err = a.OnEvent(ctx, event.Event{
		Kind:    event.IterationCompleted,
		Metrics: map[string]float64{"x": 1},
		Params:  map[string]any{"x": 2},
	})
	assert.NoError(t, err)
}

func TestStudyCompletedSelectsBest(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	ev := event.Event{
		Kind:      event.StudyCompleted,
		Step:      2,
		Direction: event.Maximize,
		Trials: []event.Trial{
			{Number: 0, Step: 0, Value: 0.8, Params: map[string]any{"lr": 0.1}},
			{Number: 1, Step: 1, Value: 0.95, Params: map[string]any{"lr": 0.05}},
		},
	}
	require.NoError(t, a.OnStudy(context.Background(), ev))

	rec, ok := sink.Last("best/trial_index")
	require.True(t, ok)
	assert.Equal(t, tracking.Int(1), rec.Value)
	assert.Equal(t, int64(2), rec.Step)

	rec, _ = sink.Last("best/value")
	assert.Equal(t, 0.95, rec.Value.Float)

	rec, _ = sink.Last("best/params/lr")
	assert.Equal(t, 0.05, rec.Value.Float)

	rec, _ = sink.Last("trials/0/value")
	assert.Equal(t, 0.8, rec.Value.Float)
	assert.Equal(t, int64(0), rec.Step)

	rec, _ = sink.Last("trials/1/params/lr")
	assert.Equal(t, int64(1), rec.Step)
}

func TestStudyCompletedIgnoresNaNTrialForBest(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { errors.SetWarningHandler(nil) })

	sink := memory.New()
	a := tracking.New(sink, tracking.WithNonFinitePolicy(tracking.PassThroughNonFinite))

	ev := event.Event{
		Kind:      event.StudyCompleted,
		Step:      2,
		Direction: event.Maximize,
		Trials: []event.Trial{
			{Number: 0, Step: 0, Value: math.NaN()},
			{Number: 1, Step: 1, Value: 0.95},
		},
	}
	require.NoError(t, a.OnStudy(context.Background(), ev))

	rec, ok := sink.Last("best/trial_index")
	require.True(t, ok)
	assert.Equal(t, tracking.Int(1), rec.Value)

	rec, _ = sink.Last("best/value")
	assert.Equal(t, 0.95, rec.Value.Float)

	rec, ok = sink.Last("trials/0/value")
	require.True(t, ok)
	assert.True(t, math.IsNaN(rec.Value.Float))
	require.Len(t, warnings, 1)
}

func TestStudyCompletedSkipsIncompleteTrials(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	ev := event.Event{
		Kind:      event.StudyCompleted,
		Step:      3,
		Direction: event.Minimize,
		Trials: []event.Trial{
			{Number: 0, Step: 0, Value: 0.1, State: event.TrialFailed},
			{Number: 1, Step: 1, Value: 0.4},
			{Number: 2, Step: 2, Value: 0.4},
		},
	}
	require.NoError(t, a.OnEvent(context.Background(), ev))

	rec, _ := sink.Last("best/trial_index")
	assert.Equal(t, tracking.Int(1), rec.Value, "tie goes to the lowest step")

	_, ok := sink.Last("trials/0/value")
	assert.False(t, ok, "failed trials carry no value")
	rec, _ = sink.Last("trials/0/state")
	assert.Equal(t, "failed", rec.Value.Str)
}

func TestStudyCompletedWithoutCompleteTrials(t *testing.T) {
	sink := memory.New()
	a := tracking.New(sink)

	ev := event.Event{
		Kind:      event.StudyCompleted,
		Direction: event.Maximize,
		Trials:    []event.Trial{{Number: 0, State: event.TrialPruned}},
	}
	require.NoError(t, a.OnEvent(context.Background(), ev))
	_, ok := sink.Last("best/trial_index")
	assert.False(t, ok)
}

func TestStudyCompletedNeedsDirection(t *testing.T) {
	a := tracking.New(memory.New())
	ev := event.Event{
		Kind:   event.StudyCompleted,
		Trials: []event.Trial{{Number: 0, Value: 1}},
	}
	assert.Error(t, a.OnEvent(context.Background(), ev))
}

func TestObserverRejectsWrongKind(t *testing.T) {
	a := tracking.New(memory.New())
	err := a.OnTrial(context.Background(), event.Iteration(0, map[string]float64{"loss": 1}))
	assert.Error(t, err)

	// kind is filled in when unset
	err = a.OnTrial(context.Background(), event.Event{Metrics: map[string]float64{"value": 1}})
	assert.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	a := tracking.New(sink)
	require.NoError(t, a.OnEvent(ctx, event.Iteration(0, map[string]float64{"loss": 1})))

	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, sink.CloseCalls())
	assert.Len(t, sink.Records(), 1)

	err := a.OnEvent(ctx, event.Iteration(1, map[string]float64{"loss": 0.5}))
	require.Error(t, err)
	assert.True(t, errors.IsSinkUnavailable(err))
	assert.Len(t, sink.Records(), 1)
}

func TestNilSinkIsUnavailable(t *testing.T) {
	a := tracking.New(nil)
	err := a.OnEvent(context.Background(), event.Iteration(0, map[string]float64{"loss": 1}))
	assert.True(t, errors.IsSinkUnavailable(err))
	assert.NoError(t, a.Close(context.Background()))
}

func TestTransportErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	sink := memory.New()
	sink.FailAppend = cause
	a := tracking.New(sink)

	err := a.OnEvent(context.Background(), event.Iteration(0, map[string]float64{"loss": 1}))
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.True(t, errors.Is(err, cause))

	// the failed batch does not advance the step watermark
	sink.FailAppend = nil
	require.NoError(t, a.OnEvent(context.Background(), event.Iteration(0, map[string]float64{"loss": 1})))
}

func TestCancelledContextSurfacesAsTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := tracking.New(memory.New())

	err := a.OnEvent(ctx, event.Iteration(0, map[string]float64{"loss": 1}))
	assert.True(t, errors.IsTransport(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
