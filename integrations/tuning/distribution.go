package tuning

import (
	"fmt"
	"math"
)

// Distribution describes the search space of one parameter.
type Distribution interface {
	// Contains reports whether v is a legal value.
	Contains(v any) bool
	fmt.Stringer
}

// IntDistribution is an inclusive integer range. Step defaults to 1.
type IntDistribution struct {
	Low, High, Step int
	Log             bool
}

func (d IntDistribution) Contains(v any) bool {
	i, ok := v.(int)
	if !ok || i < d.Low || i > d.High {
		return false
	}
	step := d.Step
	if step <= 0 {
		step = 1
	}
	return (i-d.Low)%step == 0
}

func (d IntDistribution) String() string {
	return fmt.Sprintf("int[%d,%d] step=%d log=%t", d.Low, d.High, d.Step, d.Log)
}

// FloatDistribution is an inclusive float range, optionally log-scaled.
type FloatDistribution struct {
	Low, High float64
	Log       bool
}

func (d FloatDistribution) Contains(v any) bool {
	f, ok := v.(float64)
	return ok && !math.IsNaN(f) && f >= d.Low && f <= d.High
}

func (d FloatDistribution) String() string {
	return fmt.Sprintf("float[%g,%g] log=%t", d.Low, d.High, d.Log)
}

// CategoricalDistribution picks one of Choices. Choices must be strings,
// numbers or bools so they can be tracked.
type CategoricalDistribution struct {
	Choices []any
}

func (d CategoricalDistribution) Contains(v any) bool {
	for _, c := range d.Choices {
		if c == v {
			return true
		}
	}
	return false
}

func (d CategoricalDistribution) String() string {
	return fmt.Sprintf("categorical%v", d.Choices)
}
