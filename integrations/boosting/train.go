package boosting

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/YuminosukeSato/scitrack/core/event"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

// Booster is the model side of a boosting loop. The boosting algorithm
// itself lives outside this package.
type Booster interface {
	// UpdateOneIter fits one more round using params.
	UpdateOneIter(params map[string]any) error
	// Eval scores the model on every evaluation set. Keys have the form
	// "<dataset>-<metric>".
	Eval() (map[string]float64, error)
}

// TrainOption configures Train.
type TrainOption func(*trainOptions)

type trainOptions struct {
	callbacks []Callback
}

// WithCallbacks adds callbacks to the training process.
func WithCallbacks(callbacks ...Callback) TrainOption {
	return func(o *trainOptions) {
		o.callbacks = append(o.callbacks, callbacks...)
	}
}

// WithEarlyStopping stops when the first eval result (in sorted key order)
// has not improved under direction for rounds iterations.
func WithEarlyStopping(rounds int, direction event.Direction) TrainOption {
	return func(o *trainOptions) {
		o.callbacks = append(o.callbacks, NewEarlyStoppingCallback(rounds, "", direction))
	}
}

// Train runs up to numBoostRound iterations of booster and drives the
// callbacks. Finalize runs whenever Init succeeded, also after a failed
// iteration, so trackers can record what happened before the failure.
func Train(ctx context.Context, booster Booster, params map[string]any, numBoostRound int, options ...TrainOption) (env *CallbackEnv, err error) {
	defer errors.Recover(&err, "boosting.Train")

	opts := &trainOptions{}
	for _, opt := range options {
		opt(opts)
	}
	callbacks := NewCallbackList(opts.callbacks...)
	logger := log.GetLogger().With(log.ComponentKey, "boosting")

	p := maps.Clone(params)
	if p == nil {
		p = make(map[string]any)
	}
	env = &CallbackEnv{
		Ctx:           ctx,
		NumBoostRound: numBoostRound,
		Model:         booster,
		Params:        p,
		EvalResults:   make(map[string][]float64),
		BestIteration: -1,
	}
	if err := callbacks.Init(env); err != nil {
		return env, errors.Wrap(err, "callback initialization failed")
	}

	start := time.Now()
	loopErr := trainLoop(ctx, booster, callbacks, env)
	logger.Info("training finished",
		log.StepKey, env.Iteration,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	finalErr := callbacks.Finalize(env)
	if finalErr != nil {
		finalErr = errors.Wrap(finalErr, "callback finalize failed")
	}
	return env, errors.Join(loopErr, finalErr)
}

func trainLoop(ctx context.Context, booster Booster, callbacks *CallbackList, env *CallbackEnv) error {
	for iter := 0; iter < env.NumBoostRound; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		env.Iteration = iter

		if err := callbacks.BeforeIteration(env); err != nil {
			if errors.Is(err, ErrEarlyStop) {
				return nil
			}
			return err
		}
		if env.ShouldStop {
			return nil
		}

		if err := booster.UpdateOneIter(env.Params); err != nil {
			return errors.Wrapf(err, "training iteration %d failed", iter)
		}
		scores, err := booster.Eval()
		if err != nil {
			return errors.Wrapf(err, "evaluation at iteration %d failed", iter)
		}
		for key, score := range scores {
			env.EvalResults[key] = append(env.EvalResults[key], score)
		}

		if err := callbacks.AfterIteration(env); err != nil {
			if errors.Is(err, ErrEarlyStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// EvalKey builds the "<dataset>-<metric>" key used in EvalResults.
func EvalKey(dataset, metric string) string {
	return fmt.Sprintf("%s-%s", dataset, metric)
}
