package gibbs

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

func init() {
	gob.Register(&FixedBurnIn{})
	gob.Register(&VarianceRatio{})
}

// BurnInTest receives one score per step for each chain and derives a single
// burn-in length shared by all chains.
type BurnInTest interface {
	// ResetAllValues forgets every recorded value.
	ResetAllValues()
	// SetCurrentSamplingIndex selects the chain that following SetValue
	// calls belong to.
	SetCurrentSamplingIndex(chain int)
	// SetValue records the score of the next step of the current chain.
	SetValue(v float64)
	// LengthOfBurnIn returns the number of leading steps to discard.
	LengthOfBurnIn() int
	// Clone returns an independent copy including recorded values.
	Clone() BurnInTest
}

// Trace stores the recorded values of every chain. It implements the
// bookkeeping half of BurnInTest and is embedded by the concrete tests.
type Trace struct {
	Values  [][]float64
	Current int
}

func (t *Trace) ResetAllValues() {
	t.Current = -1
	for i := range t.Values {
		t.Values[i] = t.Values[i][:0]
	}
}

func (t *Trace) SetCurrentSamplingIndex(chain int) {
	for len(t.Values) <= chain {
		t.Values = append(t.Values, nil)
	}
	t.Current = chain
}

func (t *Trace) SetValue(v float64) {
	if t.Current < 0 {
		panic("gibbs: SetValue before SetCurrentSamplingIndex")
	}
	t.Values[t.Current] = append(t.Values[t.Current], v)
}

func (t *Trace) clone() Trace {
	values := make([][]float64, len(t.Values))
	for i, v := range t.Values {
		values[i] = append([]float64(nil), v...)
	}
	return Trace{Values: values, Current: t.Current}
}

// minLength returns the length of the shortest non-empty chain trace and the
// number of such chains.
func (t *Trace) minLength() (n, chains int) {
	n = math.MaxInt
	for _, v := range t.Values {
		if len(v) == 0 {
			continue
		}
		chains++
		if len(v) < n {
			n = len(v)
		}
	}
	if chains == 0 {
		return 0, 0
	}
	return n, chains
}

// FixedBurnIn discards a constant number of steps.
type FixedBurnIn struct {
	Trace
	Length int
}

// NewFixedBurnIn returns a burn-in test that always reports length.
func NewFixedBurnIn(length int) *FixedBurnIn {
	return &FixedBurnIn{Trace: Trace{Current: -1}, Length: length}
}

func (f *FixedBurnIn) LengthOfBurnIn() int { return f.Length }

func (f *FixedBurnIn) Clone() BurnInTest {
	return &FixedBurnIn{Trace: f.clone(), Length: f.Length}
}

func (f *FixedBurnIn) String() string { return fmt.Sprintf("fixed burn-in (%d)", f.Length) }

// VarianceRatio estimates the burn-in with the Gelman-Rubin potential scale
// reduction factor. Candidate burn-in lengths are tried from the front; the
// first one whose chain tails give R <= Threshold wins. If none does, half of
// the shortest chain is discarded.
type VarianceRatio struct {
	Trace
	Threshold float64
	// Candidates is the number of burn-in lengths tried in [0, n/2].
	Candidates int
}

// NewVarianceRatio returns a variance ratio burn-in test. threshold must be
// greater than 1; 1.1 is customary.
func NewVarianceRatio(threshold float64) *VarianceRatio {
	return &VarianceRatio{Trace: Trace{Current: -1}, Threshold: threshold, Candidates: 20}
}

func (v *VarianceRatio) LengthOfBurnIn() int {
	n, chains := v.minLength()
	if chains < 2 || n < 4 {
		return n / 2
	}
	candidates := v.Candidates
	if candidates < 1 {
		candidates = 1
	}
	stride := n / (2 * candidates)
	if stride < 1 {
		stride = 1
	}
	for b := 0; b <= n/2; b += stride {
		if r := v.psrf(b, n); r <= v.Threshold {
			return b
		}
	}
	return n / 2
}

// psrf computes the potential scale reduction factor on steps [b, n) of every
// chain.
func (v *VarianceRatio) psrf(b, n int) float64 {
	l := float64(n - b)
	means := make([]float64, 0, len(v.Values))
	w := 0.0
	for _, values := range v.Values {
		if len(values) == 0 {
			continue
		}
		mean, variance := stat.MeanVariance(values[b:n], nil)
		means = append(means, mean)
		w += variance
	}
	w /= float64(len(means))
	between := stat.Variance(means, nil) // B/L
	if w == 0 {
		if between == 0 {
			return 1
		}
		return math.Inf(1)
	}
	pooled := (l-1)/l*w + between
	return math.Sqrt(pooled / w)
}

func (v *VarianceRatio) Clone() BurnInTest {
	return &VarianceRatio{Trace: v.clone(), Threshold: v.Threshold, Candidates: v.Candidates}
}

func (v *VarianceRatio) String() string {
	return fmt.Sprintf("variance ratio burn-in (R <= %g)", v.Threshold)
}
