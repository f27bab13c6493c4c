package mixture

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/n0madic/go-mixture/sequence"
)

// LogProb returns log P(s[start..end]), end inclusive. A Gibbs sampled model
// averages the probability over all samples after the burn-in.
func (m *Mixture) LogProb(s sequence.Sequence, start, end int) (float64, error) {
	if !m.IsInitialized() {
		return 0, ErrNotTrained
	}
	comp := make([]float64, m.dimension)
	if m.algorithm == EM {
		return m.logProbCurrent(comp, s, start, end)
	}
	res := math.Inf(-1)
	n, err := m.replay(func(int) error {
		l, err := m.logProbCurrent(comp, s, start, end)
		if err != nil {
			return err
		}
		res = logAdd(res, l)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return res - math.Log(float64(n)), nil
}

// LogProbAll returns the log probability of the whole sequence s.
func (m *Mixture) LogProbAll(s sequence.Sequence) (float64, error) {
	return m.LogProb(s, 0, s.Len()-1)
}

// LogScores returns the log probability of every sequence in data. A Gibbs
// sampled model replays its chains only once for the whole batch.
func (m *Mixture) LogScores(data []sequence.Sequence) ([]float64, error) {
	if !m.IsInitialized() {
		return nil, ErrNotTrained
	}
	comp := make([]float64, m.dimension)
	res := make([]float64, len(data))
	if m.algorithm == EM {
		for k, s := range data {
			l, err := m.logProbCurrent(comp, s, 0, s.Len()-1)
			if err != nil {
				return nil, errors.Wrapf(err, "sequence %d", k)
			}
			res[k] = l
		}
		return res, nil
	}
	for k := range res {
		res[k] = math.Inf(-1)
	}
	n, err := m.replay(func(int) error {
		for k, s := range data {
			l, err := m.logProbCurrent(comp, s, 0, s.Len()-1)
			if err != nil {
				return errors.Wrapf(err, "sequence %d", k)
			}
			res[k] = logAdd(res[k], l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	floats.AddConst(-math.Log(float64(n)), res)
	return res, nil
}

func (m *Mixture) logProbCurrent(comp []float64, s sequence.Sequence, start, end int) (float64, error) {
	for c := range comp {
		l, err := m.hooks.LogProbUsingCurrentParameterSet(m, c, s, start, end)
		if err != nil {
			return 0, errors.Wrapf(err, "component %d", c)
		}
		comp[c] = l
	}
	return floats.LogSumExp(comp), nil
}

func logAdd(a, b float64) float64 {
	return floats.LogSumExp([]float64{a, b})
}

// ComponentLogProb returns log P(s, c) = log w_c + log P(s | c). It is not
// supported for Gibbs sampled models, whose samples may label the components
// differently.
func (m *Mixture) ComponentLogProb(component int, s sequence.Sequence) (float64, error) {
	if m.algorithm == Gibbs {
		return 0, errors.Wrap(ErrUnsupported, "per-component score of a Gibbs sampled model")
	}
	if component < 0 || component >= m.dimension {
		return 0, errors.Errorf("component %d out of range [0,%d)", component, m.dimension)
	}
	if !m.IsInitialized() {
		return 0, ErrNotTrained
	}
	return m.hooks.LogProbUsingCurrentParameterSet(m, component, s, 0, s.Len()-1)
}

// IndexOfMaximalComponent returns the component with the largest joint
// probability with s.
func (m *Mixture) IndexOfMaximalComponent(s sequence.Sequence) (int, error) {
	best, bestScore := 0, math.Inf(-1)
	for c := 0; c < m.dimension; c++ {
		l, err := m.ComponentLogProb(c, s)
		if err != nil {
			return 0, err
		}
		if c == 0 || l > bestScore {
			best, bestScore = c, l
		}
	}
	return best, nil
}

// EmitSample draws n sequences from the model. lengths is empty, a single
// length for all sequences or one length per sequence. A nil src uses the
// model's random source. Draws of a Gibbs sampled model are spread uniformly
// over the samples after the burn-in.
func (m *Mixture) EmitSample(src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error) {
	if !m.IsInitialized() {
		return nil, ErrNotTrained
	}
	if src == nil {
		src = m.src
	}
	if len(lengths) > 1 && len(lengths) != n {
		return nil, errors.Errorf("%d lengths for %d sequences", len(lengths), n)
	}
	if m.algorithm == EM {
		return m.hooks.EmitSampleUsingCurrentParameterSet(m, src, n, lengths...)
	}

	total, _ := m.postBurnIn(m.burnIn.LengthOfBurnIn())
	if total == 0 {
		return nil, errors.Wrap(ErrNotTrained, "no samples after the burn-in")
	}
	per := make([]int, total)
	r := rand.New(src)
	for i := 0; i < n; i++ {
		per[r.IntN(total)]++
	}
	out := make([]sequence.Sequence, 0, n)
	_, err := m.replay(func(k int) error {
		if k >= total || per[k] == 0 {
			return nil
		}
		lens := lengths
		if len(lengths) > 1 {
			lens = lengths[len(out) : len(out)+per[k]]
		}
		seqs, err := m.hooks.EmitSampleUsingCurrentParameterSet(m, src, per[k], lens...)
		if err != nil {
			return err
		}
		out = append(out, seqs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
