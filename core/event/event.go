// Package event defines the lifecycle events a training or tuning loop
// reports to the tracking adapter.
package event

import (
	"fmt"
	"sort"
)

// Kind tags which lifecycle point produced an Event.
type Kind int

const (
	// IterationCompleted is emitted after each boosting round (or any other
	// unit of training progress).
	IterationCompleted Kind = iota + 1
	// TrialCompleted is emitted when one hyperparameter configuration has been evaluated.
	TrialCompleted
	// StudyCompleted is emitted once after a hyperparameter search finished.
	StudyCompleted
)

func (k Kind) String() string {
	switch k {
	case IterationCompleted:
		return "iteration"
	case TrialCompleted:
		return "trial"
	case StudyCompleted:
		return "study"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= IterationCompleted && k <= StudyCompleted
}

// Artifact is a named opaque payload. Exactly one of Data or Path is
// expected: Data carries the bytes inline, Path references a local file
// whose contents are read when the event is forwarded.
type Artifact struct {
	Name string
	Data []byte
	Path string
}

// Event is a single lifecycle notification.
type Event struct {
	Kind Kind
	// Step is monotonically increasing within a run.
	Step int64
	// Metrics maps metric names to scalar values.
	Metrics map[string]float64
	// Params maps parameter names to string, number or bool values.
	// Nested map[string]any values are flattened into slash separated names.
	Params map[string]any
	// Artifacts are forwarded as opaque byte streams.
	Artifacts []Artifact

	// Direction and Trials are only meaningful for StudyCompleted.
	Direction Direction
	Trials    []Trial
}

// Iteration builds an IterationCompleted event.
func Iteration(step int64, metrics map[string]float64) Event {
	return Event{Kind: IterationCompleted, Step: step, Metrics: metrics}
}

// MetricNames returns the metric names of e in sorted order.
func (e Event) MetricNames() []string {
	return sortedKeys(e.Metrics)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
