package mixture

import (
	"encoding/gob"
	"fmt"
	"math"
	"time"
)

func init() {
	gob.Register(SmallDifference{})
	gob.Register(MaxIterations{})
	gob.Register(TimeLimit{})
	gob.Register(Combined{})
}

// TerminationCondition decides whether an iterative optimisation continues.
type TerminationCondition interface {
	// DoNextIteration reports whether another iteration should be run after
	// iteration iter moved the score from oldScore to newScore. grad, dir and
	// step describe the last step of gradient based optimisers and may be
	// nil or NaN.
	DoNextIteration(iter int, oldScore, newScore float64, grad, dir []float64, step float64, elapsed time.Duration) bool
	// IsSimple reports whether the condition keeps no state between calls.
	IsSimple() bool
}

// SmallDifference continues while the score changes by more than Epsilon.
type SmallDifference struct {
	Epsilon float64
}

func (s SmallDifference) DoNextIteration(_ int, oldScore, newScore float64, _, _ []float64, _ float64, _ time.Duration) bool {
	if math.IsInf(oldScore, -1) {
		return true
	}
	return math.Abs(newScore-oldScore) > s.Epsilon
}

func (s SmallDifference) IsSimple() bool { return true }

func (s SmallDifference) String() string { return fmt.Sprintf("score difference > %g", s.Epsilon) }

// MaxIterations continues until N iterations have been run.
type MaxIterations struct {
	N int
}

func (m MaxIterations) DoNextIteration(iter int, _, _ float64, _, _ []float64, _ float64, _ time.Duration) bool {
	return iter < m.N
}

func (m MaxIterations) IsSimple() bool { return true }

func (m MaxIterations) String() string { return fmt.Sprintf("at most %d iterations", m.N) }

// TimeLimit continues until Limit has elapsed since the iterations started.
type TimeLimit struct {
	Limit time.Duration
}

func (t TimeLimit) DoNextIteration(_ int, _, _ float64, _, _ []float64, _ float64, elapsed time.Duration) bool {
	return elapsed < t.Limit
}

func (t TimeLimit) IsSimple() bool { return true }

func (t TimeLimit) String() string { return fmt.Sprintf("at most %v", t.Limit) }

// Combined continues while at least Threshold of its conditions want to
// continue. A Threshold of 0 requires all of them.
type Combined struct {
	Threshold  int
	Conditions []TerminationCondition
}

func (c Combined) DoNextIteration(iter int, oldScore, newScore float64, grad, dir []float64, step float64, elapsed time.Duration) bool {
	need := c.Threshold
	if need <= 0 || need > len(c.Conditions) {
		need = len(c.Conditions)
	}
	yes := 0
	for _, tc := range c.Conditions {
		if tc.DoNextIteration(iter, oldScore, newScore, grad, dir, step, elapsed) {
			yes++
		}
	}
	return yes >= need
}

func (c Combined) IsSimple() bool {
	for _, tc := range c.Conditions {
		if !tc.IsSimple() {
			return false
		}
	}
	return true
}

// DefaultTermination stops EM once the score improves by at most 1e-6.
func DefaultTermination() TerminationCondition { return SmallDifference{Epsilon: 1e-6} }
