package tuning

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/sinks/memory"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// scriptedSampler returns values[name][trial.Number].
type scriptedSampler struct {
	values map[string][]any
}

func (s scriptedSampler) Sample(_ *Study, t *Trial, name string, _ Distribution) (any, error) {
	vs, ok := s.values[name]
	if !ok || t.Number >= len(vs) {
		return nil, errors.Newf("no scripted value for %s/%d", name, t.Number)
	}
	return vs[t.Number], nil
}

func newStudy(t *testing.T, dir event.Direction, sampler Sampler) *Study {
	t.Helper()
	s, err := NewStudy("test", dir, WithSampler(sampler), WithStudyLogger(log.Nop()))
	require.NoError(t, err)
	return s
}

func TestRandomSamplerIsDeterministic(t *testing.T) {
	draw := func() []any {
		s := newStudy(t, event.Minimize, NewRandomSampler(42))
		var out []any
		err := s.Optimize(context.Background(), func(_ context.Context, tr *Trial) (float64, error) {
			x, err := tr.SuggestFloat("x", -1, 1)
			if err != nil {
				return 0, err
			}
			n, err := tr.SuggestInt("n", 3, 7)
			if err != nil {
				return 0, err
			}
			lr, err := tr.SuggestLogFloat("lr", 1e-4, 1e-1)
			if err != nil {
				return 0, err
			}
			c, err := tr.SuggestCategorical("booster", "gbdt", "dart")
			if err != nil {
				return 0, err
			}
			out = append(out, x, n, lr, c)
			return x, nil
		}, 20)
		require.NoError(t, err)
		return out
	}

	first, second := draw(), draw()
	assert.Equal(t, first, second)
	for i := 0; i < len(first); i += 4 {
		x := first[i].(float64)
		n := first[i+1].(int)
		lr := first[i+2].(float64)
		assert.True(t, x >= -1 && x <= 1, "x=%v", x)
		assert.True(t, n >= 3 && n <= 7, "n=%v", n)
		assert.True(t, lr >= 1e-4 && lr <= 1e-1, "lr=%v", lr)
		assert.Contains(t, []any{"gbdt", "dart"}, first[i+3])
	}
}

func TestRandomSamplerIntStep(t *testing.T) {
	sampler := NewRandomSampler(7)
	dist := IntDistribution{Low: 10, High: 50, Step: 10}
	for range 50 {
		v, err := sampler.Sample(nil, nil, "n", dist)
		require.NoError(t, err)
		assert.True(t, dist.Contains(v), "%v", v)
	}
	dist.Log = true
	for range 50 {
		v, err := sampler.Sample(nil, nil, "n", dist)
		require.NoError(t, err)
		assert.True(t, dist.Contains(v), "%v", v)
	}
}

func TestOptimizeTrialStates(t *testing.T) {
	s := newStudy(t, event.Minimize, scriptedSampler{values: map[string][]any{
		"x": {1, 2, 3, 4, 5},
	}})

	err := s.Optimize(context.Background(), func(_ context.Context, tr *Trial) (float64, error) {
		x, err := tr.SuggestInt("x", 0, 10)
		if err != nil {
			return 0, err
		}
		switch x {
		case 2:
			return 0, errors.New("diverged")
		case 3:
			return 0, errors.Wrap(ErrPruned, "at step 4")
		case 4:
			return math.NaN(), nil
		case 5:
			panic("boom")
		}
		return float64(x), nil
	}, 5)
	require.NoError(t, err)

	trials := s.Trials()
	require.Len(t, trials, 5)
	states := make([]event.TrialState, len(trials))
	for i, tr := range trials {
		states[i] = tr.State
		assert.Equal(t, i, tr.Number)
	}
	assert.Equal(t, []event.TrialState{
		event.TrialComplete, event.TrialFailed, event.TrialPruned, event.TrialFailed, event.TrialFailed,
	}, states)
	assert.ErrorContains(t, trials[4].Err, "boom")

	best, err := s.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, 0, best.Number)
}

func TestOptimizeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStudy(t, event.Maximize, NewRandomSampler(1))

	calls := 0
	err := s.Optimize(ctx, func(context.Context, *Trial) (float64, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return float64(calls), nil
	}, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
	assert.Len(t, s.Trials(), 3)
}

func TestOptimizeValidation(t *testing.T) {
	s := newStudy(t, event.Maximize, NewRandomSampler(1))
	var verr *errors.ValidationError

	err := s.Optimize(context.Background(), nil, 3)
	assert.True(t, errors.As(err, &verr))
	err = s.Optimize(context.Background(), func(context.Context, *Trial) (float64, error) { return 0, nil }, 0)
	assert.True(t, errors.As(err, &verr))

	_, err = NewStudy("bad", event.Direction(0))
	assert.True(t, errors.As(err, &verr))
}

func TestBestTrialTieKeepsEarliest(t *testing.T) {
	s := newStudy(t, event.Maximize, NewRandomSampler(1))
	_, err := s.BestTrial()
	assert.ErrorIs(t, err, ErrNoCompleteTrials)

	values := []float64{0.5, 0.9, 0.9, 0.1}
	require.NoError(t, s.Optimize(context.Background(), func(_ context.Context, tr *Trial) (float64, error) {
		return values[tr.Number], nil
	}, len(values)))

	best, err := s.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, 1, best.Number)
}

func TestSuggestReusesValue(t *testing.T) {
	s := newStudy(t, event.Minimize, NewRandomSampler(3))
	require.NoError(t, s.Optimize(context.Background(), func(_ context.Context, tr *Trial) (float64, error) {
		a, err := tr.SuggestFloat("x", 0, 1)
		require.NoError(t, err)
		b, err := tr.SuggestFloat("x", 0, 1)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		_, err = tr.SuggestFloat("x", 0, 2)
		assert.Error(t, err)
		_, err = tr.SuggestInt("bad", 5, 1)
		assert.Error(t, err)
		_, err = tr.SuggestCategorical("empty")
		assert.Error(t, err)
		_, err = tr.SuggestCategorical("slice", []int{1})
		assert.Error(t, err)
		return a, nil
	}, 1))
}

func TestCallbackErrorAbortsOptimize(t *testing.T) {
	s := newStudy(t, event.Minimize, NewRandomSampler(3))
	cb := CallbackFunc(func(_ context.Context, _ *Study, tr *Trial) error {
		if tr.Number == 1 {
			return errors.New("tracking down")
		}
		return nil
	})
	err := s.Optimize(context.Background(), func(context.Context, *Trial) (float64, error) { return 1, nil }, 5, WithCallbacks(cb))
	assert.ErrorContains(t, err, "tracking down")
	assert.Len(t, s.Trials(), 2)
}

func TestParamImportances(t *testing.T) {
	s := newStudy(t, event.Minimize, scriptedSampler{values: map[string][]any{
		"x":     {1, 2, 3, 4},
		"y":     {1.0, -1.0, 1.0, -1.0},
		"kind":  {"a", "b", "a", "b"},
		"const": {7, 7, 7, 7},
	}})
	require.NoError(t, s.Optimize(context.Background(), func(_ context.Context, tr *Trial) (float64, error) {
		x, _ := tr.SuggestInt("x", 0, 10)
		_, _ = tr.SuggestFloat("y", -1, 1)
		_, _ = tr.SuggestCategorical("kind", "a", "b")
		_, _ = tr.SuggestInt("const", 0, 10)
		return 2 * float64(x), nil
	}, 4))

	names, scores := ParamImportances(s)
	require.Equal(t, []string{"x", "y"}, names)
	total := 1 + math.Sqrt(0.2)
	assert.InDelta(t, 1/total, scores[0], 1e-9)
	assert.InDelta(t, math.Sqrt(0.2)/total, scores[1], 1e-9)
}

func TestTrackingCallbackAndStudyMetadata(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	a := tracking.New(sink)

	s := newStudy(t, event.Minimize, scriptedSampler{values: map[string][]any{
		"x":       {3, 1, 2},
		"booster": {"gbdt", "dart", "gbdt"},
	}})
	err := s.Optimize(ctx, func(_ context.Context, tr *Trial) (float64, error) {
		x, _ := tr.SuggestInt("x", 0, 5)
		_, _ = tr.SuggestCategorical("booster", "gbdt", "dart")
		if tr.Number == 2 {
			return 0, errors.New("oom")
		}
		return float64(x * x), nil
	}, 3, WithCallbacks(NewTrackingCallback(a)))
	require.NoError(t, err)
	require.NoError(t, LogStudyMetadata(ctx, a, s))
	require.NoError(t, a.Close(ctx))

	values := sink.Path("metrics/value")
	require.Len(t, values, 2)
	assert.Equal(t, int64(0), values[0].Step)
	assert.Equal(t, 9.0, values[0].Value.Float)
	assert.Equal(t, int64(1), values[1].Step)

	best := sink.Path("metrics/best_value")
	require.Len(t, best, 4)
	assert.Equal(t, []float64{9, 1, 1, 1}, []float64{best[0].Value.Float, best[1].Value.Float, best[2].Value.Float, best[3].Value.Float})
	assert.Equal(t, int64(3), best[3].Step)

	rec, ok := sink.Last("params/trials/1/params/booster")
	require.True(t, ok)
	assert.Equal(t, "dart", rec.Value.Str)
	rec, _ = sink.Last("params/trials/2/state")
	assert.Equal(t, "failed", rec.Value.Str)

	rec, ok = sink.Last("metrics/n_trials")
	require.True(t, ok)
	assert.Equal(t, 3.0, rec.Value.Float)
	rec, _ = sink.Last("best/trial_number")
	assert.Equal(t, tracking.Int(1), rec.Value)
	rec, _ = sink.Last("best/params/x")
	assert.Equal(t, tracking.Int(1), rec.Value)
	rec, _ = sink.Last("trials/2/state")
	assert.Equal(t, "failed", rec.Value.Str)
	_, ok = sink.Last("trials/2/value")
	assert.False(t, ok)

	for _, name := range []string{HistoryArtifact, ImportanceArtifact, StudyDumpArtifact} {
		rec, ok := sink.Last("artifacts/" + name)
		require.True(t, ok, name)
		assert.NotEmpty(t, rec.Value.Bytes)
	}

	rec, _ = sink.Last("artifacts/" + StudyDumpArtifact)
	dump, err := LoadStudyDump(rec.Value.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "test", dump.Name)
	assert.Equal(t, "minimize", dump.Direction)
	require.Len(t, dump.Trials, 3)
	assert.Equal(t, 9.0, dump.Trials[0].Value)
	assert.Equal(t, "oom", dump.Trials[2].Error)
}

func TestLogStudyMetadataWithoutArtifacts(t *testing.T) {
	ctx := context.Background()
	sink := memory.New()
	a := tracking.New(sink)

	s := newStudy(t, event.Maximize, NewRandomSampler(1))
	require.NoError(t, s.Optimize(ctx, func(context.Context, *Trial) (float64, error) {
		return 0, errors.New("always fails")
	}, 2))
	require.NoError(t, LogStudyMetadata(ctx, a, s, WithoutStudyPlots(), WithoutStudyDump()))

	for _, r := range sink.Records() {
		assert.NotEqual(t, tracking.KindBytes, r.Value.Kind, r.Path)
	}
	_, ok := sink.Last("best/value")
	assert.False(t, ok)
	_, ok = sink.Last("metrics/best_value")
	assert.False(t, ok)
}
