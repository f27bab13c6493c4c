package mixture

import (
	"github.com/pkg/errors"

	"github.com/n0madic/go-mixture/gibbs"
)

const chainPrefix = "mixture"

// initSampling prepares starts empty chains for the component probabilities
// and every optimised component.
func (m *Mixture) initSampling(starts int) error {
	if m.chains == nil {
		m.chains = gibbs.NewChainStore(m.tempDir, chainPrefix)
	}
	if err := m.chains.Init(starts); err != nil {
		return err
	}
	for i, s := range m.active {
		if m.optimize[i] {
			if err := s.sampler.InitForSampling(starts); err != nil {
				return errors.Wrapf(err, "component %d", i)
			}
		}
	}
	return nil
}

// extendSampling opens chain for appending and restores its last sample.
func (m *Mixture) extendSampling(chain int) error {
	last, err := m.chains.Extend(chain)
	if err != nil {
		return err
	}
	if last != nil {
		if err := m.setSampledWeights(last); err != nil {
			return errors.Wrapf(err, "chain %d", chain)
		}
	}
	for i, s := range m.active {
		if m.optimize[i] {
			if err := s.sampler.ExtendSampling(chain, true); err != nil {
				return errors.Wrapf(err, "component %d", i)
			}
		}
	}
	return nil
}

func (m *Mixture) samplingStopped() error {
	for i, s := range m.active {
		if m.optimize[i] {
			if err := s.sampler.SamplingStopped(); err != nil {
				return errors.Wrapf(err, "component %d", i)
			}
		}
	}
	return m.chains.Stop()
}

// stopSampling closes open chains after a failure.
func (m *Mixture) stopSampling() {
	if m.algorithm != Gibbs || m.chains == nil {
		return
	}
	for i, s := range m.active {
		if m.optimize[i] && s.sampler.InSamplingMode() {
			s.sampler.SamplingStopped()
		}
	}
	m.chains.Stop()
}

func (m *Mixture) setSampledWeights(values []float64) error {
	if len(values) < m.dimension {
		return errors.Errorf("sample holds %d weights, need %d", len(values), m.dimension)
	}
	m.setWeights(values[:m.dimension])
	return nil
}

// parseParameterSet makes the sample at step of chain current.
func (m *Mixture) parseParameterSet(chain, step int) (bool, error) {
	parsed := true
	for i, s := range m.active {
		if !m.optimize[i] {
			continue
		}
		ok, err := s.sampler.ParseParameterSet(chain, step)
		if err != nil {
			return false, errors.Wrapf(err, "component %d", i)
		}
		parsed = parsed && ok
	}
	values, ok, err := m.chains.Parse(chain, step)
	if err != nil {
		return false, err
	}
	if ok {
		if err := m.setSampledWeights(values); err != nil {
			return false, err
		}
	}
	return parsed && ok, nil
}

// parseNextParameterSet makes the sample following the last parsed one
// current.
func (m *Mixture) parseNextParameterSet() (bool, error) {
	values, ok, err := m.chains.ParseNext()
	if err != nil || !ok {
		return false, err
	}
	if err := m.setSampledWeights(values); err != nil {
		return false, err
	}
	for i, s := range m.active {
		if !m.optimize[i] {
			continue
		}
		ok, err := s.sampler.ParseNextParameterSet()
		if err != nil {
			return false, errors.Wrapf(err, "component %d", i)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// replay makes every sample after the burn-in of every chain current in turn
// and calls visit with its running index. It returns the number of samples.
func (m *Mixture) replay(visit func(sample int) error) (int, error) {
	if m.chains == nil {
		return 0, ErrNotTrained
	}
	burnIn := m.burnIn.LengthOfBurnIn()
	n := 0
	for c := 0; c < m.chains.Chains(); c++ {
		ok, err := m.parseParameterSet(c, burnIn)
		for ; ok && err == nil; ok, err = m.parseNextParameterSet() {
			if verr := visit(n); verr != nil {
				return n, verr
			}
			n++
		}
		if err != nil {
			return n, errors.Wrapf(err, "replay chain %d", c)
		}
	}
	if n == 0 {
		return 0, errors.Wrap(ErrNotTrained, "no samples after the burn-in")
	}
	return n, nil
}
