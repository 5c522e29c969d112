// Package tracking converts training lifecycle events into namespaced
// records and forwards them to an experiment-tracking sink.
//
// An Adapter exclusively owns one Sink for the duration of a run:
//
//	err := tracking.Run(ctx, sink, func(a *tracking.Adapter) error {
//	    for step := int64(0); step < rounds; step++ {
//	        loss := train()
//	        if err := a.OnEvent(ctx, event.Iteration(step, map[string]float64{"loss": loss})); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//
// The adapter is synchronous and not safe for concurrent use. Concurrent
// runs each need their own Adapter and Sink.
package tracking

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

// NonFinitePolicy decides what happens to NaN and ±Inf metric values.
type NonFinitePolicy int

const (
	// RejectNonFinite fails the event with a SerializationError.
	RejectNonFinite NonFinitePolicy = iota
	// PassThroughNonFinite forwards the value and raises a NonFiniteWarning.
	PassThroughNonFinite
)

// ParseNonFinitePolicy accepts "reject" or "pass".
func ParseNonFinitePolicy(s string) (NonFinitePolicy, error) {
	switch strings.ToLower(s) {
	case "reject", "":
		return RejectNonFinite, nil
	case "pass", "passthrough", "pass-through":
		return PassThroughNonFinite, nil
	default:
		return RejectNonFinite, errors.NewValidationError("non_finite", "must be reject or pass", s)
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for debug output.
func WithLogger(l log.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithNonFinitePolicy sets the NaN/Inf policy. The default rejects.
func WithNonFinitePolicy(p NonFinitePolicy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter forwards TrainingEvents to a Sink.
type Adapter struct {
	sink     Sink
	closed   bool
	lastStep map[string]int64
	policy   NonFinitePolicy
	logger   log.Logger
	now      func() time.Time
}

// New returns an Adapter owning sink. A nil sink yields an Adapter whose
// OnEvent always fails with SinkUnavailable.
func New(sink Sink, opts ...Option) *Adapter {
	a := &Adapter{
		sink:     sink,
		lastStep: make(map[string]int64),
		logger:   log.GetLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if sink != nil {
		a.logger = a.logger.With(log.ComponentKey, "tracking", log.SinkNameKey, SinkName(sink))
	}
	return a
}

// OnEvent converts ev into records and appends them to the sink in a
// single call. Nothing is forwarded when any part of ev fails to normalize.
func (a *Adapter) OnEvent(ctx context.Context, ev event.Event) error {
	if a.sink == nil {
		return errors.NewSinkUnavailableError("OnEvent", "sink was never opened")
	}
	if a.closed {
		return errors.NewSinkUnavailableError("OnEvent", "sink already released")
	}
	if !ev.Kind.Valid() {
		return errors.NewValidationError("kind", "unknown event kind", ev.Kind)
	}

	b := &builder{
		ts:     a.now(),
		policy: a.policy,
		seen:   make(map[string]struct{}),
	}
	if err := b.event(ev); err != nil {
		return err
	}
	if err := a.checkSteps(b.records); err != nil {
		return err
	}
	if len(b.records) == 0 {
		return nil
	}

	err := errors.SafeExecute("sink.Append", func() error {
		return a.sink.Append(ctx, b.records)
	})
	if err != nil {
		return errors.NewTransportError("Append", SinkName(a.sink), len(b.records), err)
	}

	for _, r := range b.records {
		a.lastStep[r.Path] = r.Step
	}
	for _, w := range b.warnings {
		errors.Warn(w)
		a.logger.Warn("non-finite value forwarded", log.PathKey, w.Path, log.StepKey, w.Step)
	}
	a.logger.Debug("records forwarded",
		log.EventKindKey, ev.Kind.String(),
		log.StepKey, ev.Step,
		log.RecordCountKey, len(b.records),
	)
	return nil
}

// checkSteps enforces non-decreasing steps per path before anything is sent.
func (a *Adapter) checkSteps(records []Record) error {
	for _, r := range records {
		if last, ok := a.lastStep[r.Path]; ok && r.Step < last {
			return errors.NewValidationError("step", "step decreased for "+r.Path, r.Step)
		}
	}
	return nil
}

// OnIteration implements IterationObserver.
func (a *Adapter) OnIteration(ctx context.Context, ev event.Event) error {
	return a.observe(ctx, event.IterationCompleted, ev)
}

// OnTrial implements TrialObserver.
func (a *Adapter) OnTrial(ctx context.Context, ev event.Event) error {
	return a.observe(ctx, event.TrialCompleted, ev)
}

// OnStudy implements StudyObserver.
func (a *Adapter) OnStudy(ctx context.Context, ev event.Event) error {
	return a.observe(ctx, event.StudyCompleted, ev)
}

func (a *Adapter) observe(ctx context.Context, want event.Kind, ev event.Event) error {
	if ev.Kind == 0 {
		ev.Kind = want
	}
	if ev.Kind != want {
		return errors.NewValidationError("kind", "observer expects "+want.String()+" events", ev.Kind.String())
	}
	return a.OnEvent(ctx, ev)
}

// Close releases the sink. Only the first call reaches the sink; later
// calls return nil.
func (a *Adapter) Close(ctx context.Context) error {
	if a.sink == nil || a.closed {
		return nil
	}
	a.closed = true
	err := errors.SafeExecute("sink.Close", func() error {
		return a.sink.Close(ctx)
	})
	if err != nil {
		return errors.NewTransportError("Close", SinkName(a.sink), 0, err)
	}
	a.logger.Debug("sink released")
	return nil
}

// Closed reports whether Close has been called.
func (a *Adapter) Closed() bool {
	return a.closed
}

type builder struct {
	ts       time.Time
	policy   NonFinitePolicy
	records  []Record
	seen     map[string]struct{}
	warnings []*errors.NonFiniteWarning
}

func (b *builder) add(path string, v Value, step int64) error {
	if _, dup := b.seen[path]; dup {
		return errors.NewValidationError("path", "duplicate record path in one event", path)
	}
	b.seen[path] = struct{}{}
	b.records = append(b.records, Record{Path: path, Value: v, Step: step, Timestamp: b.ts})
	return nil
}

func (b *builder) event(ev event.Event) error {
	for _, name := range ev.MetricNames() {
		if err := validateName("metric", name); err != nil {
			return err
		}
		if err := b.metric(JoinPath(MetricsNamespace, name), ev.Metrics[name], ev.Step); err != nil {
			return err
		}
	}
	if err := b.params(ParamsNamespace, ev.Params, ev.Step); err != nil {
		return err
	}
	for _, art := range ev.Artifacts {
		if err := b.artifact(art, ev.Step); err != nil {
			return err
		}
	}
	if ev.Kind == event.StudyCompleted {
		return b.study(ev)
	}
	return nil
}

func (b *builder) metric(path string, v float64, step int64) error {
	if !errors.IsFinite(v) {
		if b.policy == RejectNonFinite {
			return errors.CheckScalar(path, v)
		}
		b.warnings = append(b.warnings, errors.NewNonFiniteWarning(path, step, v))
	}
	return b.add(path, Float(v), step)
}

// params flattens nested maps recursively into prefix/<outer>/<inner>.
func (b *builder) params(prefix string, params map[string]any, step int64) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		if err := validateName("param", name); err != nil {
			return err
		}
		path := JoinPath(prefix, name)
		switch v := params[name].(type) {
		case map[string]any:
			if err := b.params(path, v, step); err != nil {
				return err
			}
		case float64:
			if err := b.metric(path, v, step); err != nil {
				return err
			}
		case float32:
			if err := b.metric(path, float64(v), step); err != nil {
				return err
			}
		default:
			val, err := Normalize(path, v)
			if err != nil {
				return err
			}
			if err := b.add(path, val, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) artifact(art event.Artifact, step int64) error {
	if err := validateName("artifact", art.Name); err != nil {
		return err
	}
	path := JoinPath(ArtifactsNamespace, art.Name)
	data := art.Data
	if data == nil && art.Path != "" {
		raw, err := os.ReadFile(art.Path)
		if err != nil {
			return errors.WrapSerializationError(path, "read artifact file", err)
		}
		data = raw
	}
	if data == nil {
		return errors.NewSerializationError(path, "artifact has neither data nor path", art)
	}
	return b.add(path, Bytes(data), step)
}

func (b *builder) study(ev event.Event) error {
	if len(ev.Trials) == 0 {
		return nil
	}
	if !ev.Direction.Valid() {
		return errors.NewValidationError("direction", "study events need maximize or minimize", ev.Direction.String())
	}

	for i, t := range ev.Trials {
		if err := b.add(TrialPath(i, "number"), Int(int64(t.Number)), t.Step); err != nil {
			return err
		}
		if err := b.add(TrialPath(i, "state"), String(t.State.String()), t.Step); err != nil {
			return err
		}
		if t.State == event.TrialComplete {
			if err := b.metric(TrialPath(i, "value"), t.Value, t.Step); err != nil {
				return err
			}
		}
		if err := b.params(TrialPath(i, ParamsNamespace), t.Params, t.Step); err != nil {
			return err
		}
	}

	idx, ok := event.SelectBest(ev.Trials, ev.Direction)
	if !ok {
		return nil
	}
	best := ev.Trials[idx]
	if err := b.add(JoinPath(BestNamespace, "trial_index"), Int(int64(idx)), ev.Step); err != nil {
		return err
	}
	if err := b.add(JoinPath(BestNamespace, "trial_number"), Int(int64(best.Number)), ev.Step); err != nil {
		return err
	}
	if err := b.metric(JoinPath(BestNamespace, "value"), best.Value, ev.Step); err != nil {
		return err
	}
	if err := b.add(JoinPath(BestNamespace, "direction"), String(ev.Direction.String()), ev.Step); err != nil {
		return err
	}
	return b.params(JoinPath(BestNamespace, ParamsNamespace), best.Params, ev.Step)
}
