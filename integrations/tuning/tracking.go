package tuning

import (
	"context"
	"maps"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/charts"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// Artifact names written by LogStudyMetadata.
const (
	HistoryArtifact    = "plots/optimization_history.png"
	ImportanceArtifact = "plots/param_importances.png"
	StudyDumpArtifact  = "study/study.cbor"
)

// TrackingCallback forwards every finished trial to a TrialObserver as a
// TrialCompleted event at step = trial number. Complete trials carry the
// metric "value" and the running "best_value". The trial state and the
// sampled params are nested under trials/<number> so repeated trials never
// rewrite a param.
type TrackingCallback struct {
	obs tracking.TrialObserver
}

var _ Callback = (*TrackingCallback)(nil)

// NewTrackingCallback creates a callback reporting to obs.
func NewTrackingCallback(obs tracking.TrialObserver) *TrackingCallback {
	return &TrackingCallback{obs: obs}
}

func (cb *TrackingCallback) AfterTrial(ctx context.Context, s *Study, t *Trial) error {
	ev := event.Event{
		Kind:    event.TrialCompleted,
		Step:    int64(t.Number),
		Metrics: map[string]float64{},
	}
	if t.State == event.TrialComplete {
		ev.Metrics["value"] = t.Value
	}
	if best, err := s.BestTrial(); err == nil {
		ev.Metrics["best_value"] = best.Value
	}
	trial := map[string]any{"state": t.State.String()}
	if len(t.Params) > 0 {
		trial["params"] = maps.Clone(t.Params)
	}
	ev.Params = map[string]any{
		"trials": map[string]any{strconv.Itoa(t.Number): trial},
	}
	return cb.obs.OnTrial(ctx, ev)
}

type metadataConfig struct {
	plots bool
	dump  bool
}

// MetadataOption configures LogStudyMetadata.
type MetadataOption func(*metadataConfig)

// WithoutStudyPlots skips the history and importance charts.
func WithoutStudyPlots() MetadataOption {
	return func(c *metadataConfig) { c.plots = false }
}

// WithoutStudyDump skips the CBOR study dump.
func WithoutStudyDump() MetadataOption {
	return func(c *metadataConfig) { c.dump = false }
}

// LogStudyMetadata reports the whole study as one StudyCompleted event.
// The event step is one past the highest trial number so it sorts after
// the per-trial events of the same run.
func LogStudyMetadata(ctx context.Context, obs tracking.StudyObserver, s *Study, opts ...MetadataOption) error {
	cfg := &metadataConfig{plots: true, dump: true}
	for _, opt := range opts {
		opt(cfg)
	}

	trials := s.Trials()
	ev := event.Event{
		Kind:      event.StudyCompleted,
		Step:      int64(len(trials)),
		Direction: s.Direction,
		Trials:    s.Summaries(),
		Metrics:   map[string]float64{"n_trials": float64(len(trials))},
		Params: map[string]any{
			"study_name": s.Name,
			"direction":  s.Direction.String(),
		},
	}
	if best, err := s.BestTrial(); err == nil {
		ev.Metrics["best_value"] = best.Value
	}

	if cfg.plots {
		arts, err := studyPlots(s)
		if err != nil {
			return err
		}
		ev.Artifacts = append(ev.Artifacts, arts...)
	}
	if cfg.dump {
		data, err := DumpStudy(s)
		if err != nil {
			return err
		}
		ev.Artifacts = append(ev.Artifacts, event.Artifact{Name: StudyDumpArtifact, Data: data})
	}
	return obs.OnStudy(ctx, ev)
}

func studyPlots(s *Study) ([]event.Artifact, error) {
	var arts []event.Artifact

	var xs, ys, bestY []float64
	best := math.NaN()
	for _, t := range s.Trials() {
		if t.State != event.TrialComplete {
			continue
		}
		if math.IsNaN(best) || s.Direction.Better(t.Value, best) {
			best = t.Value
		}
		xs = append(xs, float64(t.Number))
		ys = append(ys, t.Value)
		bestY = append(bestY, best)
	}
	if len(xs) > 0 {
		png, err := charts.Line("Optimization History", "trial", "objective value",
			charts.Series{Name: "objective", X: xs, Y: ys, Points: true},
			charts.Series{Name: "best", X: xs, Y: bestY},
		)
		if err != nil {
			return nil, err
		}
		arts = append(arts, event.Artifact{Name: HistoryArtifact, Data: png})
	}

	names, scores := ParamImportances(s)
	if len(names) > 0 {
		png, err := charts.Bar("Parameter Importances", "importance", names, scores)
		if err != nil {
			return nil, err
		}
		arts = append(arts, event.Artifact{Name: ImportanceArtifact, Data: png})
	}
	return arts, nil
}

// ParamImportances scores every numeric parameter by the absolute Pearson
// correlation between its values and the objective over complete trials.
// Scores are normalized to sum to one and returned in descending order.
// Parameters with fewer than two distinct values or non-numeric values
// are left out.
func ParamImportances(s *Study) (names []string, scores []float64) {
	var values []float64
	columns := map[string][]float64{}
	complete := 0
	for _, t := range s.Trials() {
		if t.State != event.TrialComplete {
			continue
		}
		for name, v := range t.Params {
			f, ok := numeric(v)
			if !ok {
				continue
			}
			col := columns[name]
			for len(col) < complete {
				col = append(col, math.NaN())
			}
			columns[name] = append(col, f)
		}
		values = append(values, t.Value)
		complete++
	}

	type scored struct {
		name  string
		score float64
	}
	var ranked []scored
	total := 0.0
	for name, col := range columns {
		if len(col) != complete || hasNaN(col) {
			continue
		}
		r := math.Abs(stat.Correlation(col, values, nil))
		if math.IsNaN(r) {
			continue
		}
		ranked = append(ranked, scored{name, r})
		total += r
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	for _, r := range ranked {
		names = append(names, r.name)
		if total > 0 {
			scores = append(scores, r.score/total)
		} else {
			scores = append(scores, 0)
		}
	}
	return names, scores
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

// StudyDump is the CBOR document written as the study artifact.
type StudyDump struct {
	Name      string      `cbor:"name"`
	Direction string      `cbor:"direction"`
	Trials    []TrialDump `cbor:"trials"`
}

// TrialDump is one trial inside a StudyDump.
type TrialDump struct {
	Number   int            `cbor:"number"`
	State    string         `cbor:"state"`
	Value    float64        `cbor:"value,omitempty"`
	Params   map[string]any `cbor:"params,omitempty"`
	Error    string         `cbor:"error,omitempty"`
	Start    time.Time      `cbor:"start"`
	Complete time.Time      `cbor:"complete"`
}

var dumpEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// DumpStudy encodes the study as CBOR.
func DumpStudy(s *Study) ([]byte, error) {
	d := StudyDump{Name: s.Name, Direction: s.Direction.String()}
	for _, t := range s.Trials() {
		td := TrialDump{
			Number:   t.Number,
			State:    t.State.String(),
			Params:   t.Params,
			Start:    t.Start,
			Complete: t.Complete,
		}
		if t.State == event.TrialComplete {
			td.Value = t.Value
		}
		if t.Err != nil {
			td.Error = t.Err.Error()
		}
		d.Trials = append(d.Trials, td)
	}
	data, err := dumpEncMode.Marshal(d)
	if err != nil {
		return nil, errors.WrapSerializationError(StudyDumpArtifact, "encode study", err)
	}
	return data, nil
}

// LoadStudyDump decodes a document written by DumpStudy.
func LoadStudyDump(data []byte) (*StudyDump, error) {
	var d StudyDump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, errors.WrapSerializationError(StudyDumpArtifact, "decode study", err)
	}
	return &d, nil
}
