package mixture

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-mixture/sequence"
)

func init() {
	RegisterHooks(standardHooks{})
}

// StandardHooksName is the name of the hooks of NewStandard.
const StandardHooksName = "standard"

// NewStandard creates a mixture in which component c is modelled by
// components[c] alone: P(s) = sum_c w_c P(s | c).
func NewStandard(length int, components []Component, options ...Option) (*Mixture, error) {
	return New(standardHooks{}, length, len(components), components, options...)
}

type standardHooks struct{}

func (standardHooks) Name() string { return StandardHooksName }

func (standardHooks) SetTrainData(_ *Mixture, data []sequence.Sequence) ([]sequence.Sequence, error) {
	return data, nil
}

func (standardHooks) DoFirstIteration(m *Mixture, dataWeights []float64, gen RandomGenerator, params []GeneratorParams) (*mat.Dense, error) {
	data := m.Data()
	k := m.Dimension()
	sw := m.NewSeqWeights()
	w := make([]float64, k)
	m.InitWithPrior(w)
	help := make([]float64, k)
	for n := range data {
		gen.Generate(m.Source(), help, 0, k, params[n])
		weight := 1.0
		if dataWeights != nil {
			weight = dataWeights[n]
		}
		for c, h := range help {
			v := weight * h
			sw.Set(c, n, v)
			w[c] += v
		}
	}
	if err := m.NewParameters(0, sw, w); err != nil {
		return nil, err
	}
	return sw, nil
}

func (standardHooks) NewWeights(m *Mixture, dataWeights, w []float64, seqWeights *mat.Dense) (float64, error) {
	m.InitWithPrior(w)
	help := make([]float64, m.Dimension())
	l := 0.0
	for n, s := range m.Data() {
		for c := range help {
			lp, err := m.Current(c).LogProb(s, 0, s.Len()-1)
			if err != nil {
				return 0, errors.Wrapf(err, "sequence %d, component %d", n, c)
			}
			help[c] = lp + m.LogWeight(c)
		}
		weight := 1.0
		if dataWeights != nil {
			weight = dataWeights[n]
		}
		l += m.ModifyWeights(help) * weight
		for c, h := range help {
			seqWeights.Set(c, n, h*weight)
			w[c] += h * weight
		}
	}
	return l, nil
}

func (standardHooks) LogProbUsingCurrentParameterSet(m *Mixture, component int, s sequence.Sequence, start, end int) (float64, error) {
	lp, err := m.Current(component).LogProb(s, start, end)
	if err != nil {
		return 0, err
	}
	return m.LogWeight(component) + lp, nil
}

func (standardHooks) EmitSampleUsingCurrentParameterSet(m *Mixture, src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error) {
	counts := make([]int, m.Dimension())
	cat := distuv.NewCategorical(m.Weights(), src)
	for i := 0; i < n; i++ {
		counts[int(cat.Rand())]++
	}
	out := make([]sequence.Sequence, 0, n)
	for c, k := range counts {
		if k == 0 {
			continue
		}
		lens := lengths
		if len(lengths) > 1 {
			lens = lengths[len(out) : len(out)+k]
		}
		seqs, err := m.Current(c).EmitSample(src, k, lens...)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d", c)
		}
		out = append(out, seqs...)
	}
	return out, nil
}

// DoFirstIterationWithPartition sets data as training data and runs the
// first iteration from a fixed membership: partition[n][c] is the share of
// sequence n assigned to component c, each row summing to one. It needs a
// mixture built by NewStandard with at least two components.
func (m *Mixture) DoFirstIterationWithPartition(data []sequence.Sequence, dataWeights []float64, partition [][]float64) (*mat.Dense, error) {
	if _, ok := m.hooks.(standardHooks); !ok {
		return nil, errors.Wrapf(ErrUnsupported, "partitioned start for %s mixtures", m.hooks.Name())
	}
	if m.dimension < 2 {
		return nil, errors.Wrap(ErrUnsupported, "partitioned start of a single component")
	}
	if len(partition) != len(data) {
		return nil, errors.Errorf("partition has %d rows for %d sequences", len(partition), len(data))
	}
	for n, row := range partition {
		if len(row) != m.dimension {
			return nil, errors.Errorf("partition of sequence %d has %d parts, need %d", n, len(row), m.dimension)
		}
		sum := 0.0
		for c, p := range row {
			if p < 0 || p > 1 {
				return nil, errors.Errorf("partition of sequence %d: part %d is %g", n, c, p)
			}
			sum += p
		}
		if !scalar.EqualWithinAbs(sum, 1, weightTolerance) {
			return nil, errors.Errorf("partition of sequence %d sums to %g", n, sum)
		}
	}
	if err := m.setTrainData(data, dataWeights); err != nil {
		return nil, err
	}

	sw := m.NewSeqWeights()
	w := make([]float64, m.dimension)
	m.InitWithPrior(w)
	for n, row := range partition {
		weight := 1.0
		if dataWeights != nil {
			weight = dataWeights[n]
		}
		for c, p := range row {
			sw.Set(c, n, weight*p)
			w[c] += weight * p
		}
	}
	if err := m.NewParameters(0, sw, w); err != nil {
		return nil, err
	}
	return sw, nil
}
