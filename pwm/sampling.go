package pwm

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/sequence"
)

const chainPrefix = "pwm"

// InitForSampling prepares starts empty chains of parameter sets.
func (m *Model) InitForSampling(starts int) error {
	if m.chains == nil {
		m.chains = gibbs.NewChainStore("", chainPrefix)
	}
	return m.chains.Init(starts)
}

// DrawParameters draws every position from its Dirichlet posterior given the
// weighted counts of data.
func (m *Model) DrawParameters(src rand.Source, data []sequence.Sequence, weights []float64) error {
	if m.ess == 0 {
		return errors.New("sampling needs a positive equivalent sample size")
	}
	c, err := m.counts(data, weights)
	if err != nil {
		return err
	}
	if m.drawn == nil {
		m.drawn = mat.NewDense(m.length, m.alphabet.Size(), nil)
	}
	alpha := m.pseudoCount()
	for pos := 0; pos < m.length; pos++ {
		conc := c.RawRowView(pos)
		for sym := range conc {
			conc[sym] += alpha
		}
		distmv.NewDirichlet(conc, src).Rand(m.drawn.RawRowView(pos))
	}
	return nil
}

// AcceptParameters installs the last drawn parameters and appends them to the
// open chain.
func (m *Model) AcceptParameters() error {
	if m.drawn == nil {
		return errors.New("no parameters drawn")
	}
	m.probs.Copy(m.drawn)
	m.trained = true
	if m.InSamplingMode() {
		return m.chains.Append(m.probs.RawMatrix().Data)
	}
	return nil
}

// ExtendSampling opens chain for appending. With resume set the last stored
// parameter set becomes current, otherwise the chain is cleared first.
func (m *Model) ExtendSampling(chain int, resume bool) error {
	if m.chains == nil {
		return errors.Wrap(gibbs.ErrNoChain, "sampling not initialised")
	}
	if !resume {
		if err := m.chains.Truncate(chain); err != nil {
			return err
		}
	}
	last, err := m.chains.Extend(chain)
	if err != nil {
		return err
	}
	if last != nil {
		return m.setFlat(last)
	}
	return nil
}

// SamplingStopped closes the chain opened by ExtendSampling.
func (m *Model) SamplingStopped() error {
	if m.chains == nil {
		return nil
	}
	return m.chains.Stop()
}

// ParseParameterSet makes the parameter set at step of chain current.
func (m *Model) ParseParameterSet(chain, step int) (bool, error) {
	if m.chains == nil {
		return false, nil
	}
	values, ok, err := m.chains.Parse(chain, step)
	if err != nil || !ok {
		return false, err
	}
	return true, m.setFlat(values)
}

// ParseNextParameterSet makes the parameter set following the last parsed
// one current.
func (m *Model) ParseNextParameterSet() (bool, error) {
	if m.chains == nil {
		return false, nil
	}
	values, ok, err := m.chains.ParseNext()
	if err != nil || !ok {
		return false, err
	}
	return true, m.setFlat(values)
}

// InSamplingMode reports whether a chain is open for appending.
func (m *Model) InSamplingMode() bool {
	return m.chains != nil && m.chains.Active() >= 0
}

// Close removes all chain files.
func (m *Model) Close() error {
	if m.chains == nil {
		return nil
	}
	return m.chains.Close()
}

func (m *Model) setFlat(values []float64) error {
	r, c := m.probs.Dims()
	if len(values) != r*c {
		return errors.Errorf("parameter set holds %d values, need %d", len(values), r*c)
	}
	copy(m.probs.RawMatrix().Data, values)
	m.trained = true
	return nil
}
