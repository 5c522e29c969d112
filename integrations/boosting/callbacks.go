// Package boosting connects gradient-boosting training loops to tracking.
//
// A loop drives a CallbackList through Init, BeforeIteration,
// AfterIteration and Finalize. TrackingCallback turns those calls into
// IterationCompleted events for a tracking.IterationObserver:
//
//	adapter := tracking.New(sink)
//	defer adapter.Close(ctx)
//	env, err := boosting.Train(ctx, booster, params, 100,
//	    boosting.WithCallbacks(boosting.NewTrackingCallback(adapter)),
//	    boosting.WithEarlyStopping(10, event.Minimize),
//	)
package boosting

import (
	"context"
	"errors"
	"math"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

// ErrEarlyStop is returned by a callback to end training early.
var ErrEarlyStop = errors.New("early stopping")

// Callback is an interface for training callbacks.
type Callback interface {
	Init(env *CallbackEnv) error
	BeforeIteration(env *CallbackEnv) error
	AfterIteration(env *CallbackEnv) error
	Finalize(env *CallbackEnv) error
}

// CallbackEnv holds the environment for callbacks.
type CallbackEnv struct {
	// Ctx is the context of the training call.
	Ctx           context.Context
	Iteration     int
	NumBoostRound int
	Model         any
	Params        map[string]any
	// EvalResults maps "<dataset>-<metric>" to the values of every
	// iteration so far.
	EvalResults   map[string][]float64
	BestIteration int
	BestScore     float64
	ShouldStop    bool
}

// Latest returns the most recent value of every eval result.
func (env *CallbackEnv) Latest() map[string]float64 {
	out := make(map[string]float64, len(env.EvalResults))
	for k, v := range env.EvalResults {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

func (env *CallbackEnv) context() context.Context {
	if env.Ctx == nil {
		return context.Background()
	}
	return env.Ctx
}

// CallbackList fans calls out to callbacks in order and stops at the
// first error.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList creates a new callback list.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{callbacks: callbacks}
}

// Add adds a callback to the list.
func (cl *CallbackList) Add(callback Callback) {
	cl.callbacks = append(cl.callbacks, callback)
}

// Len returns the number of callbacks.
func (cl *CallbackList) Len() int { return len(cl.callbacks) }

func (cl *CallbackList) Init(env *CallbackEnv) error {
	for _, cb := range cl.callbacks {
		if err := cb.Init(env); err != nil {
			return err
		}
	}
	return nil
}

func (cl *CallbackList) BeforeIteration(env *CallbackEnv) error {
	for _, cb := range cl.callbacks {
		if err := cb.BeforeIteration(env); err != nil {
			return err
		}
	}
	return nil
}

// AfterIteration runs every callback even when one asks to stop early, so
// that trackers still see the last iteration. ErrEarlyStop is returned after
// the loop; any other error is returned at once.
func (cl *CallbackList) AfterIteration(env *CallbackEnv) error {
	stop := false
	for _, cb := range cl.callbacks {
		err := cb.AfterIteration(env)
		if errors.Is(err, ErrEarlyStop) {
			stop = true
			continue
		}
		if err != nil {
			return err
		}
	}
	if stop {
		env.ShouldStop = true
		return ErrEarlyStop
	}
	return nil
}

func (cl *CallbackList) Finalize(env *CallbackEnv) error {
	for _, cb := range cl.callbacks {
		if err := cb.Finalize(env); err != nil {
			return err
		}
	}
	return nil
}

// EarlyStoppingCallback stops training when the watched metric has not
// improved for a number of rounds. It records BestIteration and BestScore
// on the env.
type EarlyStoppingCallback struct {
	stoppingRounds int
	direction      event.Direction
	minDelta       float64
	metricName     string

	bestScore     float64
	bestIteration int
	waitCount     int
	logger        log.Logger
}

// NewEarlyStoppingCallback watches metric (an EvalResults key) under
// direction. An empty metric watches the first key in sorted order.
func NewEarlyStoppingCallback(stoppingRounds int, metric string, direction event.Direction) *EarlyStoppingCallback {
	return &EarlyStoppingCallback{
		stoppingRounds: stoppingRounds,
		direction:      direction,
		metricName:     metric,
		logger:         log.GetLogger().With(log.ComponentKey, "early_stopping"),
	}
}

// WithMinDelta sets the minimum change that counts as an improvement.
func (cb *EarlyStoppingCallback) WithMinDelta(d float64) *EarlyStoppingCallback {
	cb.minDelta = d
	return cb
}

func (cb *EarlyStoppingCallback) Init(env *CallbackEnv) error {
	if cb.stoppingRounds <= 0 {
		cb.stoppingRounds = 1
	}
	if !cb.direction.Valid() {
		cb.direction = event.Minimize
	}
	cb.bestScore = math.Inf(1)
	if cb.direction == event.Maximize {
		cb.bestScore = math.Inf(-1)
	}
	cb.waitCount = 0
	env.BestScore = cb.bestScore
	return nil
}

func (cb *EarlyStoppingCallback) BeforeIteration(_ *CallbackEnv) error { return nil }

func (cb *EarlyStoppingCallback) AfterIteration(env *CallbackEnv) error {
	if cb.metricName == "" {
		keys := sortedKeys(env.EvalResults)
		if len(keys) == 0 {
			return nil
		}
		cb.metricName = keys[0]
	}
	values := env.EvalResults[cb.metricName]
	if len(values) == 0 {
		return nil
	}
	current := values[len(values)-1]

	improved := false
	if cb.direction == event.Maximize {
		improved = current > cb.bestScore+cb.minDelta
	} else {
		improved = current < cb.bestScore-cb.minDelta
	}

	if improved {
		cb.bestScore = current
		cb.bestIteration = env.Iteration
		cb.waitCount = 0
		env.BestIteration = env.Iteration
		env.BestScore = current
		return nil
	}

	cb.waitCount++
	if cb.waitCount >= cb.stoppingRounds {
		cb.logger.Info("early stopping",
			log.StepKey, env.Iteration,
			"best_iteration", cb.bestIteration,
			"metric", cb.metricName,
			"best_score", cb.bestScore,
		)
		return ErrEarlyStop
	}
	return nil
}

func (cb *EarlyStoppingCallback) Finalize(_ *CallbackEnv) error { return nil }

// LearningRateScheduler sets params["learning_rate"] before each iteration.
type LearningRateScheduler struct {
	schedule func(iteration int) float64
}

// NewLearningRateScheduler creates a scheduler from schedule.
func NewLearningRateScheduler(schedule func(iteration int) float64) *LearningRateScheduler {
	return &LearningRateScheduler{schedule: schedule}
}

func (cb *LearningRateScheduler) Init(env *CallbackEnv) error {
	if env.Params == nil {
		env.Params = make(map[string]any)
	}
	return nil
}

func (cb *LearningRateScheduler) BeforeIteration(env *CallbackEnv) error {
	env.Params["learning_rate"] = cb.schedule(env.Iteration)
	return nil
}

func (cb *LearningRateScheduler) AfterIteration(_ *CallbackEnv) error { return nil }

func (cb *LearningRateScheduler) Finalize(_ *CallbackEnv) error { return nil }
