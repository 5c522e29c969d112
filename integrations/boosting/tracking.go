package boosting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/charts"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// ModelDumper is implemented by models that can serialize themselves.
type ModelDumper interface {
	DumpModel() ([]byte, error)
}

// TreeDumper is implemented by models that can render a single tree.
type TreeDumper interface {
	NumTrees() int
	DumpTree(i int) ([]byte, error)
}

// FeatureImporter is implemented by models that report feature importance.
type FeatureImporter interface {
	FeatureImportance() (names []string, importance []float64, err error)
}

// TrackingOption configures a TrackingCallback.
type TrackingOption func(*TrackingCallback)

// WithoutPlots disables the feature-importance chart.
func WithoutPlots() TrackingOption {
	return func(cb *TrackingCallback) { cb.plots = false }
}

// WithoutModel disables the model artifact.
func WithoutModel() TrackingOption {
	return func(cb *TrackingCallback) { cb.model = false }
}

// WithTrees logs the given tree indices as artifacts when the model
// implements TreeDumper. Out-of-range indices are skipped.
func WithTrees(indices ...int) TrackingOption {
	return func(cb *TrackingCallback) { cb.trees = append(cb.trees, indices...) }
}

// TrackingCallback reports a boosting run to an IterationObserver.
//
//   - Init: params (plus num_boost_round) at step 0
//   - AfterIteration: latest eval results as "<dataset>/<metric>" and the
//     current learning_rate, at the iteration index
//   - Finalize: best_score, best_iteration, model, trees and a
//     feature-importance chart at the last iteration index
type TrackingCallback struct {
	obs   tracking.IterationObserver
	plots bool
	model bool
	trees []int

	lastStep int64
}

var _ Callback = (*TrackingCallback)(nil)

// NewTrackingCallback creates a callback reporting to obs.
func NewTrackingCallback(obs tracking.IterationObserver, opts ...TrackingOption) *TrackingCallback {
	cb := &TrackingCallback{obs: obs, plots: true, model: true}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *TrackingCallback) Init(env *CallbackEnv) error {
	params := make(map[string]any, len(env.Params)+1)
	for k, v := range env.Params {
		params[k] = v
	}
	params["num_boost_round"] = env.NumBoostRound
	cb.lastStep = 0
	return cb.obs.OnIteration(env.context(), event.Event{
		Kind:   event.IterationCompleted,
		Step:   0,
		Params: params,
	})
}

func (cb *TrackingCallback) BeforeIteration(_ *CallbackEnv) error { return nil }

func (cb *TrackingCallback) AfterIteration(env *CallbackEnv) error {
	latest := env.Latest()
	metrics := make(map[string]float64, len(latest)+1)
	for key, v := range latest {
		metrics[MetricName(key)] = v
	}
	if lr, ok := toFloat(env.Params["learning_rate"]); ok {
		metrics["learning_rate"] = lr
	}
	cb.lastStep = int64(env.Iteration)
	return cb.obs.OnIteration(env.context(), event.Iteration(cb.lastStep, metrics))
}

func (cb *TrackingCallback) Finalize(env *CallbackEnv) error {
	ev := event.Event{
		Kind:    event.IterationCompleted,
		Step:    cb.lastStep,
		Metrics: map[string]float64{},
	}
	if env.BestIteration >= 0 {
		ev.Metrics["best_iteration"] = float64(env.BestIteration)
		ev.Metrics["best_score"] = env.BestScore
	}

	var errs []error
	if d, ok := env.Model.(ModelDumper); ok && cb.model {
		data, err := d.DumpModel()
		if err != nil {
			errs = append(errs, errors.Wrap(err, "dump model"))
		} else {
			ev.Artifacts = append(ev.Artifacts, event.Artifact{Name: "model/model.txt", Data: data})
		}
	}
	if td, ok := env.Model.(TreeDumper); ok {
		for _, i := range cb.trees {
			if i < 0 || i >= td.NumTrees() {
				continue
			}
			data, err := td.DumpTree(i)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "dump tree %d", i))
				continue
			}
			ev.Artifacts = append(ev.Artifacts, event.Artifact{Name: fmt.Sprintf("trees/tree_%d.txt", i), Data: data})
		}
	}
	if fi, ok := env.Model.(FeatureImporter); ok && cb.plots {
		img, err := featureImportanceChart(fi)
		if err != nil {
			errs = append(errs, err)
		} else if img != nil {
			ev.Artifacts = append(ev.Artifacts, event.Artifact{Name: "charts/feature_importance.png", Data: img})
		}
	}

	if err := cb.obs.OnIteration(env.context(), ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func featureImportanceChart(fi FeatureImporter) ([]byte, error) {
	names, values, err := fi.FeatureImportance()
	if err != nil {
		return nil, errors.Wrap(err, "feature importance")
	}
	if len(names) == 0 {
		return nil, nil
	}
	return charts.Bar("Feature importance", "importance", names, values)
}

// MetricName turns an eval key "<dataset>-<metric>" into
// "<dataset>/<metric>". The split happens at the last dash so dataset
// names may contain dashes.
func MetricName(key string) string {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return key
	}
	return key[:i] + "/" + key[i+1:]
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
