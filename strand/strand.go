// Package strand implements a two-component mixture that models sequences
// which may stem from either strand of a double stranded molecule. One inner
// model is used for the forward strand and, on the reverse complement, for
// the backward strand.
package strand

import (
	"encoding/gob"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/mixture"
	"github.com/n0madic/go-mixture/sequence"
)

// HooksName is the name under which the strand hooks are registered.
const HooksName = "strand"

func init() {
	mixture.RegisterHooks(hooks{})
	gob.Register(&Model{})
}

// Forward and Backward index the two components.
const (
	Forward  = 0
	Backward = 1
)

// Model is a strand mixture. The embedded Mixture provides training, scoring
// and persistence.
type Model struct {
	*mixture.Mixture
}

// New creates a strand mixture of model configured by options.
func New(model mixture.Component, options ...mixture.Option) (*Model, error) {
	if model == nil {
		return nil, &mixture.ConstructionError{Field: "model", Reason: "nil"}
	}
	if a := model.Alphabet(); a == nil || !a.Complementable() {
		return nil, &mixture.ConstructionError{Field: "alphabet", Reason: "strand models need a reverse complementable alphabet"}
	}
	m, err := mixture.New(hooks{}, model.Length(), 2, []mixture.Component{model}, options...)
	if err != nil {
		return nil, err
	}
	return &Model{m}, nil
}

// NewEM creates a strand mixture trained by EM that estimates the strand
// probabilities under the Dirichlet prior hyper.
func NewEM(model mixture.Component, starts int, hyper []float64, alpha float64, tc mixture.TerminationCondition, param mixture.Parameterization, options ...mixture.Option) (*Model, error) {
	base := []mixture.Option{
		mixture.WithStarts(starts),
		mixture.WithHyperParams(hyper...),
		mixture.WithEM(alpha, tc, param),
	}
	return New(model, append(base, options...)...)
}

// NewEMFixed creates a strand mixture trained by EM with a fixed forward
// strand probability.
func NewEMFixed(model mixture.Component, starts int, forward, alpha float64, tc mixture.TerminationCondition, options ...mixture.Option) (*Model, error) {
	base := []mixture.Option{
		mixture.WithStarts(starts),
		mixture.WithFixedWeights(forward, 1-forward),
		mixture.WithEM(alpha, tc, mixture.Lambda),
	}
	return New(model, append(base, options...)...)
}

// NewGibbs creates a strand mixture trained by Gibbs sampling that samples
// the strand probabilities from their Dirichlet posterior.
func NewGibbs(model mixture.Component, starts int, hyper []float64, initial, stationary int, burnIn gibbs.BurnInTest, options ...mixture.Option) (*Model, error) {
	base := []mixture.Option{
		mixture.WithStarts(starts),
		mixture.WithHyperParams(hyper...),
		mixture.WithGibbs(initial, stationary, burnIn),
	}
	return New(model, append(base, options...)...)
}

// NewGibbsFixed creates a strand mixture trained by Gibbs sampling with a
// fixed forward strand probability.
func NewGibbsFixed(model mixture.Component, starts int, forward float64, initial, stationary int, burnIn gibbs.BurnInTest, options ...mixture.Option) (*Model, error) {
	base := []mixture.Option{
		mixture.WithStarts(starts),
		mixture.WithFixedWeights(forward, 1-forward),
		mixture.WithGibbs(initial, stationary, burnIn),
	}
	return New(model, append(base, options...)...)
}

// Load reads a strand mixture written by Save.
func Load(r io.Reader, seed int64) (*Model, error) {
	m, err := mixture.Load(r, seed)
	if err != nil {
		return nil, err
	}
	if m.Hooks().Name() != HooksName {
		return nil, errors.Errorf("loaded a %s mixture, not a strand mixture", m.Hooks().Name())
	}
	return &Model{m}, nil
}

// ForwardProbability returns the probability of the forward strand.
func (m *Model) ForwardProbability() float64 { return m.Weight(Forward) }

// Inner returns the current inner model. It is not a copy.
func (m *Model) Inner() mixture.Component { return m.Current(0) }

func (m *Model) Clone() (mixture.Component, error) {
	c, err := m.CloneMixture()
	if err != nil {
		return nil, err
	}
	return &Model{c}, nil
}

func (m *Model) GobDecode(data []byte) error {
	m.Mixture = new(mixture.Mixture)
	return m.Mixture.GobDecode(data)
}

func (m *Model) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "strand model trained by %s\n", m.Algorithm())
	fmt.Fprintf(&sb, "number of starts:\t%d\n", m.Starts())
	switch m.Algorithm() {
	case mixture.EM:
		fmt.Fprintf(&sb, "%g\tforward strand\n", m.Weight(Forward))
		fmt.Fprintf(&sb, "%g\tbackward strand\n\n", m.Weight(Backward))
		fmt.Fprintf(&sb, "%v", m.Inner())
	case mixture.Gibbs:
		fmt.Fprintf(&sb, "burn-in test:\t%v\n", m.BurnIn())
		fmt.Fprintf(&sb, "inner model:\t%T\n", m.Inner())
	}
	return sb.String()
}

type hooks struct{}

func (hooks) Name() string { return HooksName }

// SetTrainData pairs every sequence with its reverse complement.
func (hooks) SetTrainData(_ *mixture.Mixture, data []sequence.Sequence) ([]sequence.Sequence, error) {
	out := make([]sequence.Sequence, 2*len(data))
	for i, s := range data {
		rc, err := s.ReverseComplement()
		if err != nil {
			return nil, errors.Wrapf(err, "sequence %d", i)
		}
		out[2*i] = s
		out[2*i+1] = rc
	}
	return out, nil
}

func (hooks) DoFirstIteration(m *mixture.Mixture, dataWeights []float64, gen mixture.RandomGenerator, params []mixture.GeneratorParams) (*mat.Dense, error) {
	sw := m.NewSeqWeights()
	w := make([]float64, 2)
	m.InitWithPrior(w)
	help := make([]float64, 2)
	for n := 0; n < len(m.Data())/2; n++ {
		gen.Generate(m.Source(), help, 0, 2, params[n])
		weight := 1.0
		if dataWeights != nil {
			weight = dataWeights[n]
		}
		for c, h := range help {
			sw.Set(0, 2*n+c, weight*h)
			w[c] += weight * h
		}
	}
	if err := m.NewParameters(0, sw, w); err != nil {
		return nil, err
	}
	return sw, nil
}

func (hooks) NewWeights(m *mixture.Mixture, dataWeights, w []float64, seqWeights *mat.Dense) (float64, error) {
	m.InitWithPrior(w)
	data := m.Data()
	inner := m.Current(0)
	help := make([]float64, 2)
	l := 0.0
	for n := 0; n < len(data)/2; n++ {
		for c := range help {
			s := data[2*n+c]
			lp, err := inner.LogProb(s, 0, s.Len()-1)
			if err != nil {
				return 0, errors.Wrapf(err, "sequence %d", n)
			}
			help[c] = lp + m.LogWeight(c)
		}
		weight := 1.0
		if dataWeights != nil {
			weight = dataWeights[n]
		}
		l += m.ModifyWeights(help) * weight
		for c, h := range help {
			seqWeights.Set(0, 2*n+c, h*weight)
			w[c] += h * weight
		}
	}
	return l, nil
}

// LogProbUsingCurrentParameterSet scores the backward strand on the reverse
// complement of s, on the window mirroring [start, end].
func (hooks) LogProbUsingCurrentParameterSet(m *mixture.Mixture, component int, s sequence.Sequence, start, end int) (float64, error) {
	inner := m.Current(0)
	switch component {
	case Forward:
		lp, err := inner.LogProb(s, start, end)
		if err != nil {
			return 0, err
		}
		return m.LogWeight(Forward) + lp, nil
	case Backward:
		rc, err := s.ReverseComplement()
		if err != nil {
			return 0, err
		}
		n := s.Len()
		lp, err := inner.LogProb(rc, n-end-1, n-start-1)
		if err != nil {
			return 0, err
		}
		return m.LogWeight(Backward) + lp, nil
	default:
		return 0, errors.Errorf("component %d out of range, 0 is the forward and 1 the backward strand", component)
	}
}

// EmitSampleUsingCurrentParameterSet draws from the inner model and turns
// every sequence into its reverse complement with the backward strand
// probability.
func (hooks) EmitSampleUsingCurrentParameterSet(m *mixture.Mixture, src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error) {
	seqs, err := m.Current(0).EmitSample(src, n, lengths...)
	if err != nil {
		return nil, err
	}
	backward := distuv.Bernoulli{P: m.Weight(Backward), Src: src}
	for i, s := range seqs {
		if backward.Rand() == 1 {
			if seqs[i], err = s.ReverseComplement(); err != nil {
				return nil, err
			}
		}
	}
	return seqs, nil
}
