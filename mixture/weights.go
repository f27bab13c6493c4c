package mixture

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
)

// Parameterization selects how the Dirichlet prior on the component
// probabilities enters the MAP estimate.
type Parameterization int

const (
	// Theta estimates the probabilities themselves: the mode of the
	// posterior, hyper-parameter minus one pseudo-count per component.
	Theta Parameterization = iota
	// Lambda estimates the log-probabilities: the posterior mean in the
	// natural parameterisation, no pseudo-count correction.
	Lambda
)

// Count returns the pseudo-count added to every component statistic under MAP.
func (p Parameterization) Count() float64 {
	if p == Theta {
		return -1
	}
	return 0
}

func (p Parameterization) String() string {
	if p == Theta {
		return "theta"
	}
	return "lambda"
}

// weightEstimator turns accumulated component statistics into the mixture
// component probabilities.
type weightEstimator struct {
	estimate bool
	hyper    []float64
	ess      float64
	param    Parameterization
}

func newWeightEstimator(estimate bool, hyper []float64, param Parameterization) weightEstimator {
	return weightEstimator{
		estimate: estimate,
		hyper:    hyper,
		ess:      floats.Sum(hyper),
		param:    param,
	}
}

func (e *weightEstimator) mapMode() bool { return e.hyper[0] != 0 }

// initWithPrior resets w to the hyper-parameters, the starting point of every
// statistic.
func (e *weightEstimator) initWithPrior(w []float64) {
	copy(w, e.hyper)
}

// estimateEM writes the normalised statistic w into weights.
func (e *weightEstimator) estimateEM(w, weights []float64) error {
	if e.mapMode() {
		c := e.param.Count()
		for i := range w {
			w[i] += c
		}
	}
	for i, v := range w {
		if v < 0 {
			return errors.Errorf("negative component weight %g at index %d", v, i)
		}
	}
	sum := floats.Sum(w)
	if sum <= 0 {
		return errors.New("all component weights are zero")
	}
	for i, v := range w {
		weights[i] = v / sum
	}
	return nil
}

// drawGibbs samples weights from a Dirichlet distribution with concentration w.
func (e *weightEstimator) drawGibbs(src rand.Source, w, weights []float64) error {
	for i, v := range w {
		if !(v > 0) {
			return errors.Errorf("non-positive Dirichlet concentration %g at index %d", v, i)
		}
	}
	distmv.NewDirichlet(w, src).Rand(weights)
	return nil
}

// logPrior returns the log density of weights under the Dirichlet prior,
// corrected by the Jacobian of the chosen parameterisation. It is 0 unless
// weights are estimated under MAP.
func (e *weightEstimator) logPrior(weights []float64) float64 {
	if !e.estimate || !e.mapMode() {
		return 0
	}
	lp := distmv.NewDirichlet(e.hyper, nil).LogProb(weights)
	if e.param == Lambda {
		for _, w := range weights {
			lp += math.Log(w)
		}
	}
	return lp
}
