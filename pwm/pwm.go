// Package pwm implements a position weight matrix: a model of fixed length
// sequences with independent positions, each drawn from its own categorical
// distribution. It can be trained by EM and by Gibbs sampling.
package pwm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/mixture"
	"github.com/n0madic/go-mixture/sequence"
)

func init() {
	gob.Register(&Model{})
}

var (
	_ mixture.Component = (*Model)(nil)
	_ mixture.Sampler   = (*Model)(nil)
)

// Model is a position weight matrix with a symmetric Dirichlet prior of
// equivalent sample size ess per position.
type Model struct {
	alphabet *sequence.Alphabet
	length   int
	ess      float64

	probs   *mat.Dense // length x alphabet size
	trained bool

	drawn  *mat.Dense
	chains *gibbs.ChainStore
}

// New creates an untrained model of sequences of the given length over a.
// ess = 0 gives maximum likelihood estimates; Gibbs sampling needs ess > 0.
func New(a *sequence.Alphabet, length int, ess float64) (*Model, error) {
	if a == nil {
		return nil, errors.New("alphabet is nil")
	}
	if length < 1 {
		return nil, errors.Errorf("length must be positive, got %d", length)
	}
	if ess < 0 || math.IsNaN(ess) {
		return nil, errors.Errorf("equivalent sample size must not be negative, got %g", ess)
	}
	return &Model{
		alphabet: a,
		length:   length,
		ess:      ess,
		probs:    mat.NewDense(length, a.Size(), nil),
	}, nil
}

// SetProbs sets and fixes the distribution of every position: probs[pos][sym].
func (m *Model) SetProbs(probs [][]float64) error {
	if len(probs) != m.length {
		return errors.Errorf("need %d positions, got %d", m.length, len(probs))
	}
	for pos, row := range probs {
		if len(row) != m.alphabet.Size() {
			return errors.Errorf("position %d: need %d probabilities, got %d", pos, m.alphabet.Size(), len(row))
		}
		sum := 0.0
		for _, p := range row {
			if p < 0 {
				return errors.Errorf("position %d: negative probability %g", pos, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			return errors.Errorf("position %d: probabilities sum to %g", pos, sum)
		}
	}
	for pos, row := range probs {
		m.probs.SetRow(pos, row)
	}
	m.trained = true
	return nil
}

func (m *Model) Alphabet() *sequence.Alphabet { return m.alphabet }
func (m *Model) Length() int { return m.length }
func (m *Model) IsInitialized() bool { return m.trained }

// ESS returns the equivalent sample size of the prior.
func (m *Model) ESS() float64 { return m.ess }

// Prob returns P(symbol sym at position pos).
func (m *Model) Prob(pos, sym int) float64 { return m.probs.At(pos, sym) }

func (m *Model) pseudoCount() float64 {
	return m.ess / float64(m.alphabet.Size())
}

// counts returns the weighted symbol counts per position.
func (m *Model) counts(data []sequence.Sequence, weights []float64) (*mat.Dense, error) {
	if weights != nil && len(weights) != len(data) {
		return nil, errors.Errorf("%d weights for %d sequences", len(weights), len(data))
	}
	c := mat.NewDense(m.length, m.alphabet.Size(), nil)
	for n, s := range data {
		if s.Len() != m.length {
			return nil, errors.Errorf("sequence %d has length %d, model length is %d", n, s.Len(), m.length)
		}
		w := 1.0
		if weights != nil {
			w = weights[n]
		}
		if w == 0 {
			continue
		}
		for pos := 0; pos < m.length; pos++ {
			sym := s.At(pos)
			c.Set(pos, sym, c.At(pos, sym)+w)
		}
	}
	return c, nil
}

// Train sets every position to the posterior mean of its symbol distribution.
func (m *Model) Train(data []sequence.Sequence, weights []float64) error {
	c, err := m.counts(data, weights)
	if err != nil {
		return err
	}
	alpha := m.pseudoCount()
	size := m.alphabet.Size()
	for pos := 0; pos < m.length; pos++ {
		row := c.RawRowView(pos)
		total := m.ess
		for _, v := range row {
			total += v
		}
		for sym := range row {
			p := 1 / float64(size)
			if total > 0 {
				p = (row[sym] + alpha) / total
			}
			m.probs.Set(pos, sym, p)
		}
	}
	m.trained = true
	return nil
}

// LogProb returns log P(s[start..end]). The window must span the model length.
func (m *Model) LogProb(s sequence.Sequence, start, end int) (float64, error) {
	if !m.trained {
		return 0, mixture.ErrNotTrained
	}
	if end-start+1 != m.length || start < 0 || end >= s.Len() {
		return 0, errors.Errorf("window [%d,%d] of a sequence of length %d does not fit model length %d", start, end, s.Len(), m.length)
	}
	l := 0.0
	for pos := 0; pos < m.length; pos++ {
		l += math.Log(m.probs.At(pos, s.At(start+pos)))
	}
	return l, nil
}

// LogPriorTerm returns the log density of the parameters under the Dirichlet
// prior in the log-probability parameterisation.
func (m *Model) LogPriorTerm() float64 {
	if m.ess == 0 || !m.trained {
		return 0
	}
	alpha := make([]float64, m.alphabet.Size())
	for i := range alpha {
		alpha[i] = m.pseudoCount()
	}
	prior := distmv.NewDirichlet(alpha, nil)
	lp := 0.0
	for pos := 0; pos < m.length; pos++ {
		row := m.probs.RawRowView(pos)
		lp += prior.LogProb(row)
		for _, p := range row {
			lp += math.Log(p)
		}
	}
	return lp
}

// EmitSample draws n sequences. lengths must be empty or equal to the model
// length.
func (m *Model) EmitSample(src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error) {
	if !m.trained {
		return nil, mixture.ErrNotTrained
	}
	for _, l := range lengths {
		if l != m.length {
			return nil, errors.Errorf("cannot emit sequences of length %d from a model of length %d", l, m.length)
		}
	}
	cats := make([]distuv.Categorical, m.length)
	for pos := range cats {
		cats[pos] = distuv.NewCategorical(m.probs.RawRowView(pos), src)
	}
	out := make([]sequence.Sequence, n)
	for i := range out {
		codes := make([]byte, m.length)
		for pos, cat := range cats {
			codes[pos] = byte(cat.Rand())
		}
		out[i] = sequence.FromCodes(m.alphabet, codes)
	}
	return out, nil
}

// Clone returns a deep copy including copies of the chain files.
func (m *Model) Clone() (mixture.Component, error) {
	c := &Model{
		alphabet: m.alphabet,
		length:   m.length,
		ess:      m.ess,
		probs:    mat.DenseCopyOf(m.probs),
		trained:  m.trained,
	}
	if m.drawn != nil {
		c.drawn = mat.DenseCopyOf(m.drawn)
	}
	if m.chains != nil {
		chains, err := m.chains.Clone()
		if err != nil {
			return nil, err
		}
		c.chains = chains
	}
	return c, nil
}

func (m *Model) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pwm of length %d over %s, ess %g\n", m.length, m.alphabet.Name(), m.ess)
	sb.WriteString("pos")
	for sym := 0; sym < m.alphabet.Size(); sym++ {
		fmt.Fprintf(&sb, "\t%c", m.alphabet.Symbol(byte(sym)))
	}
	sb.WriteByte('\n')
	for pos := 0; pos < m.length; pos++ {
		fmt.Fprintf(&sb, "%d", pos)
		for _, p := range m.probs.RawRowView(pos) {
			fmt.Fprintf(&sb, "\t%.4f", p)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

type state struct {
	Version       int
	Alphabet      string
	Length        int
	ESS           float64
	Probs         []float64
	Trained       bool
	HasChains     bool
	Counters      []int
	ChainContents []string
}

func (m *Model) GobEncode() ([]byte, error) {
	st := state{
		Version:  1,
		Alphabet: m.alphabet.Name(),
		Length:   m.length,
		ESS:      m.ess,
		Probs:    m.probs.RawMatrix().Data,
		Trained:  m.trained,
	}
	if m.chains != nil && m.chains.Chains() > 0 {
		contents, err := m.chains.Contents()
		if err != nil {
			return nil, err
		}
		st.HasChains = true
		st.Counters = m.chains.Counters()
		st.ChainContents = contents
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Model) GobDecode(data []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if st.Version != 1 {
		return fmt.Errorf("unsupported pwm version: %d", st.Version)
	}
	a, ok := sequence.Lookup(st.Alphabet)
	if !ok {
		return errors.Errorf("alphabet %q is not registered", st.Alphabet)
	}
	if st.Length < 1 || len(st.Probs) != st.Length*a.Size() {
		return errors.Errorf("%d probabilities for length %d over %s", len(st.Probs), st.Length, a.Name())
	}
	*m = Model{
		alphabet: a,
		length:   st.Length,
		ess:      st.ESS,
		probs:    mat.NewDense(st.Length, a.Size(), st.Probs),
		trained:  st.Trained,
	}
	if st.HasChains {
		m.chains = gibbs.NewChainStore("", chainPrefix)
		return m.chains.Restore(st.Counters, st.ChainContents)
	}
	return nil
}
