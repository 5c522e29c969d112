package event

import (
	"fmt"
	"math"
	"strings"
)

// Direction is the optimization direction of a study.
type Direction int

const (
	Maximize Direction = iota + 1
	Minimize
)

func (d Direction) String() string {
	switch d {
	case Maximize:
		return "maximize"
	case Minimize:
		return "minimize"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Valid reports whether d is Maximize or Minimize.
func (d Direction) Valid() bool {
	return d == Maximize || d == Minimize
}

// ParseDirection accepts "maximize" or "minimize" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "maximize", "max":
		return Maximize, nil
	case "minimize", "min":
		return Minimize, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// TrialState is the terminal state of a trial.
type TrialState int

const (
	TrialComplete TrialState = iota
	TrialPruned
	TrialFailed
)

func (s TrialState) String() string {
	switch s {
	case TrialComplete:
		return "complete"
	case TrialPruned:
		return "pruned"
	case TrialFailed:
		return "failed"
	default:
		return fmt.Sprintf("TrialState(%d)", int(s))
	}
}

// Trial summarizes one finished evaluation inside a study.
type Trial struct {
	Number int
	// Step orders trials for tie breaking; usually equal to Number.
	Step   int64
	Value  float64
	Params map[string]any
	State  TrialState
}

// Better reports whether a beats b under direction d. Equal values never win,
// so the earlier candidate is kept on ties.
func (d Direction) Better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// SelectBest returns the index in trials of the best complete trial under d.
// Ties on Value are broken by the lowest Step. Trials whose value is NaN
// cannot be ranked and are never selected. ok is false when no complete trial
// has a comparable value.
func SelectBest(trials []Trial, d Direction) (index int, ok bool) {
	index = -1
	for i, t := range trials {
		if t.State != TrialComplete || math.IsNaN(t.Value) {
			continue
		}
		if index < 0 {
			index = i
			continue
		}
		best := trials[index]
		switch {
		case d.Better(t.Value, best.Value):
			index = i
		case t.Value == best.Value && t.Step < best.Step:
			index = i
		}
	}
	return index, index >= 0
}
