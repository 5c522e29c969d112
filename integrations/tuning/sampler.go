package tuning

import (
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// Sampler proposes parameter values. Smarter strategies (TPE, CMA-ES) can
// be plugged in by implementing it.
type Sampler interface {
	Sample(study *Study, trial *Trial, name string, dist Distribution) (any, error)
}

// RandomSampler draws independent uniform samples. It is safe for
// concurrent use.
type RandomSampler struct {
	mu  sync.Mutex
	src rand.Source
	rng *rand.Rand
}

// NewRandomSampler returns a sampler seeded with seed.
func NewRandomSampler(seed uint64) *RandomSampler {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &RandomSampler{src: src, rng: rand.New(src)}
}

func (s *RandomSampler) Sample(_ *Study, _ *Trial, name string, dist Distribution) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch d := dist.(type) {
	case IntDistribution:
		step := d.Step
		if step <= 0 {
			step = 1
		}
		if d.Log {
			lo, hi := math.Log(float64(d.Low)), math.Log(float64(d.High)+1)
			v := int(math.Floor(math.Exp(s.uniform(lo, hi))))
			v = min(max(v, d.Low), d.High)
			return d.Low + (v-d.Low)/step*step, nil
		}
		n := (d.High-d.Low)/step + 1
		return d.Low + s.rng.IntN(n)*step, nil
	case FloatDistribution:
		if d.Log {
			v := math.Exp(s.uniform(math.Log(d.Low), math.Log(d.High)))
			return min(max(v, d.Low), d.High), nil
		}
		return s.uniform(d.Low, d.High), nil
	case CategoricalDistribution:
		return d.Choices[s.rng.IntN(len(d.Choices))], nil
	default:
		return nil, errors.NewValidationError(name, "unsupported distribution", dist)
	}
}

func (s *RandomSampler) uniform(lo, hi float64) float64 {
	if lo == hi {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: s.src}.Rand()
}
