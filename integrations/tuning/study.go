// Package tuning is a small hyperparameter search driver whose trials and
// studies can be reported through the tracking adapter.
package tuning

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

// ErrPruned can be returned (or wrapped) by an objective to stop a trial
// early without marking it failed.
var ErrPruned = errors.New("trial pruned")

// ErrNoCompleteTrials is returned by BestTrial before any trial completed.
var ErrNoCompleteTrials = errors.New("no complete trials")

// Objective evaluates one trial and returns the value to optimize.
type Objective func(ctx context.Context, t *Trial) (float64, error)

// Callback is notified after every finished trial. A non-nil error aborts
// Optimize.
type Callback interface {
	AfterTrial(ctx context.Context, s *Study, t *Trial) error
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, s *Study, t *Trial) error

func (f CallbackFunc) AfterTrial(ctx context.Context, s *Study, t *Trial) error {
	return f(ctx, s, t)
}

// Study holds the trials of one search.
type Study struct {
	Name      string
	Direction event.Direction

	sampler Sampler
	logger  log.Logger

	mu     sync.Mutex
	trials []*Trial
}

// StudyOption configures a Study.
type StudyOption func(*Study)

// WithSampler replaces the default RandomSampler.
func WithSampler(s Sampler) StudyOption {
	return func(st *Study) {
		if s != nil {
			st.sampler = s
		}
	}
}

// WithStudyLogger sets the logger used for per-trial output.
func WithStudyLogger(l log.Logger) StudyOption {
	return func(st *Study) {
		if l != nil {
			st.logger = l
		}
	}
}

// NewStudy creates an empty study. The default sampler is a RandomSampler
// seeded from the current time.
func NewStudy(name string, direction event.Direction, opts ...StudyOption) (*Study, error) {
	if !direction.Valid() {
		return nil, errors.NewValidationError("direction", "must be maximize or minimize", direction.String())
	}
	s := &Study{
		Name:      name,
		Direction: direction,
		sampler:   NewRandomSampler(uint64(time.Now().UnixNano())),
		logger:    log.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.ComponentKey, "tuning", "study", name)
	return s, nil
}

type optimizeConfig struct {
	callbacks []Callback
	timeout   time.Duration
}

// OptimizeOption configures a single Optimize call.
type OptimizeOption func(*optimizeConfig)

// WithCallbacks registers callbacks run after each trial, in order.
func WithCallbacks(cbs ...Callback) OptimizeOption {
	return func(c *optimizeConfig) { c.callbacks = append(c.callbacks, cbs...) }
}

// WithTimeout stops starting new trials once d has elapsed.
func WithTimeout(d time.Duration) OptimizeOption {
	return func(c *optimizeConfig) { c.timeout = d }
}

// Optimize runs up to nTrials trials sequentially. Objective errors and
// panics mark the trial failed and the search continues. Context
// cancellation stops the loop and is returned; the trial in flight is
// recorded as failed.
func (s *Study) Optimize(ctx context.Context, objective Objective, nTrials int, opts ...OptimizeOption) error {
	if objective == nil {
		return errors.NewValidationError("objective", "must not be nil", nil)
	}
	if nTrials <= 0 {
		return errors.NewValidationError("n_trials", "must be positive", nTrials)
	}
	cfg := &optimizeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	for range nTrials {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := s.newTrial()
		s.run(ctx, objective, t)

		for _, cb := range cfg.callbacks {
			if err := cb.AfterTrial(ctx, s, t); err != nil {
				return errors.Wrapf(err, "callback after trial %d", t.Number)
			}
		}
		if t.State == event.TrialFailed && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Study) newTrial() *Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Trial{
		Number:        len(s.trials),
		Params:        make(map[string]any),
		Distributions: make(map[string]Distribution),
		Start:         time.Now(),
		study:         s,
	}
	s.trials = append(s.trials, t)
	return t
}

func (s *Study) run(ctx context.Context, objective Objective, t *Trial) {
	var value float64
	err := errors.SafeExecute(fmt.Sprintf("trial %d", t.Number), func() error {
		v, err := objective(ctx, t)
		value = v
		return err
	})

	s.mu.Lock()
	t.Complete = time.Now()
	switch {
	case err == nil && math.IsNaN(value):
		t.State = event.TrialFailed
		t.Err = errors.NewValidationError("value", "objective returned NaN", value)
	case err == nil:
		t.State = event.TrialComplete
		t.Value = value
	case errors.Is(err, ErrPruned):
		t.State = event.TrialPruned
		t.Err = err
	default:
		t.State = event.TrialFailed
		t.Err = err
	}
	s.mu.Unlock()

	if t.State == event.TrialFailed {
		s.logger.Warn("trial failed", log.TrialNumberKey, t.Number, log.ErrAttrKey, t.Err)
		return
	}
	s.logger.Info("trial finished",
		log.TrialNumberKey, t.Number,
		log.TrialStateKey, t.State.String(),
		"value", t.Value,
	)
}

// Trials returns a snapshot of all trials in creation order.
func (s *Study) Trials() []*Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Trial, len(s.trials))
	copy(out, s.trials)
	return out
}

// Summaries converts the trials into the event representation. Step equals
// the trial number.
func (s *Study) Summaries() []event.Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Trial, len(s.trials))
	for i, t := range s.trials {
		out[i] = t.summary()
	}
	return out
}

// BestTrial returns the best complete trial. Ties go to the earlier trial.
func (s *Study) BestTrial() (*Trial, error) {
	summaries := s.Summaries()
	idx, ok := event.SelectBest(summaries, s.Direction)
	if !ok {
		return nil, ErrNoCompleteTrials
	}
	return s.Trials()[idx], nil
}

// Trial is one evaluation of the objective.
type Trial struct {
	Number        int
	Params        map[string]any
	Distributions map[string]Distribution
	State         event.TrialState
	Value         float64
	Err           error
	Start         time.Time
	Complete      time.Time

	study *Study
}

func (t *Trial) summary() event.Trial {
	return event.Trial{
		Number: t.Number,
		Step:   int64(t.Number),
		Value:  t.Value,
		Params: maps.Clone(t.Params),
		State:  t.State,
	}
}

// Duration is the wall time spent in the objective.
func (t *Trial) Duration() time.Duration {
	if t.Complete.IsZero() {
		return 0
	}
	return t.Complete.Sub(t.Start)
}

// SuggestInt samples an integer in [low, high].
func (t *Trial) SuggestInt(name string, low, high int) (int, error) {
	v, err := t.suggest(name, IntDistribution{Low: low, High: high, Step: 1})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SuggestIntStep samples an integer in [low, high] on a step grid,
// optionally log-scaled.
func (t *Trial) SuggestIntStep(name string, low, high, step int, logScale bool) (int, error) {
	v, err := t.suggest(name, IntDistribution{Low: low, High: high, Step: step, Log: logScale})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SuggestFloat samples a float in [low, high].
func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	v, err := t.suggest(name, FloatDistribution{Low: low, High: high})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestLogFloat samples a float in [low, high] on a log scale. low must
// be positive.
func (t *Trial) SuggestLogFloat(name string, low, high float64) (float64, error) {
	if low <= 0 {
		return 0, errors.NewValidationError(name, "log scale needs a positive lower bound", low)
	}
	v, err := t.suggest(name, FloatDistribution{Low: low, High: high, Log: true})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestCategorical picks one of choices.
func (t *Trial) SuggestCategorical(name string, choices ...any) (any, error) {
	if len(choices) == 0 {
		return nil, errors.NewValidationError(name, "no choices", choices)
	}
	for _, c := range choices {
		switch c.(type) {
		case string, bool, int, int64, float64:
		default:
			return nil, errors.NewValidationError(name, "choices must be string, int, float64 or bool", c)
		}
	}
	return t.suggest(name, CategoricalDistribution{Choices: choices})
}

func (t *Trial) suggest(name string, dist Distribution) (any, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "parameter name must not be empty", name)
	}
	if err := checkBounds(name, dist); err != nil {
		return nil, err
	}
	if v, ok := t.Params[name]; ok {
		if t.Distributions[name].String() != dist.String() {
			return nil, errors.NewValidationError(name, "suggested again with a different distribution", dist.String())
		}
		return v, nil
	}

	v, err := t.study.sampler.Sample(t.study, t, name, dist)
	if err != nil {
		return nil, err
	}
	if !dist.Contains(v) {
		return nil, errors.NewValidationError(name, "sampler returned a value outside "+dist.String(), v)
	}
	t.Params[name] = v
	t.Distributions[name] = dist
	return v, nil
}

func checkBounds(name string, dist Distribution) error {
	switch d := dist.(type) {
	case IntDistribution:
		if d.Low > d.High {
			return errors.NewValidationError(name, "low must not exceed high", d.String())
		}
		if d.Log && d.Low <= 0 {
			return errors.NewValidationError(name, "log scale needs a positive lower bound", d.Low)
		}
	case FloatDistribution:
		if d.Low > d.High || math.IsNaN(d.Low) || math.IsNaN(d.High) {
			return errors.NewValidationError(name, "low must not exceed high", d.String())
		}
	}
	return nil
}
