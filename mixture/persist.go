package mixture

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/n0madic/go-mixture/gibbs"
)

const stateVersion = 1

// State is the persisted form of a Mixture. Chain files are inlined as
// ChainContents, indexed by chain.
type State struct {
	Version int

	Hooks     string
	Length    int
	Dimension int
	Starts    int

	Estimate    bool
	HyperParams []float64
	Components  []Component
	Optimize    []bool

	AlgorithmHasBeenRun bool
	Weights             []float64
	Algorithm           Algorithm

	// EM
	Alpha            float64
	Termination      TerminationCondition
	Parameterization Parameterization

	// Gibbs
	InitialIteration    int
	StationaryIteration int
	BurnIn              gibbs.BurnInTest
	HasChainFiles       bool
	Counters            []int
	ChainContents       []string

	Best          float64
	RestartScores []float64
}

func (m *Mixture) state() (*State, error) {
	st := &State{
		Version:             stateVersion,
		Hooks:               m.hooks.Name(),
		Length:              m.length,
		Dimension:           m.dimension,
		Starts:              m.starts,
		Estimate:            m.estimator.estimate,
		HyperParams:         m.estimator.hyper,
		Optimize:            m.optimize,
		AlgorithmHasBeenRun: m.algorithmHasBeenRun,
		Weights:             m.weights,
		Algorithm:           m.algorithm,
		Best:                m.best,
		RestartScores:       m.restartScores,
	}
	st.Components = make([]Component, len(m.active))
	for i, s := range m.active {
		st.Components[i] = s.model
	}
	switch m.algorithm {
	case EM:
		st.Alpha = m.alpha
		st.Termination = m.tc
		st.Parameterization = m.estimator.param
	case Gibbs:
		st.InitialIteration = m.initial
		st.StationaryIteration = m.stationary
		st.BurnIn = m.burnIn
		if m.chains != nil && m.chains.Chains() > 0 {
			contents, err := m.chains.Contents()
			if err != nil {
				return nil, err
			}
			st.HasChainFiles = true
			st.Counters = m.chains.Counters()
			st.ChainContents = contents
		}
	}
	return st, nil
}

func (m *Mixture) restore(st *State) error {
	if st.Version != stateVersion {
		return fmt.Errorf("unsupported state version: %d", st.Version)
	}
	hooks, ok := lookupHooks(st.Hooks)
	if !ok {
		return errors.Errorf("hooks %q are not registered", st.Hooks)
	}
	*m = Mixture{
		hooks:               hooks,
		length:              st.Length,
		dimension:           st.Dimension,
		starts:              st.Starts,
		weights:             st.Weights,
		estimator:           weightEstimator{estimate: st.Estimate, hyper: st.HyperParams, param: Lambda},
		optimize:            st.Optimize,
		algorithm:           st.Algorithm,
		alpha:               1,
		best:                st.Best,
		algorithmHasBeenRun: st.AlgorithmHasBeenRun,
		restartScores:       st.RestartScores,
		src:                 m.src,
		tempDir:             m.tempDir,
	}
	if math.IsNaN(m.best) {
		m.best = math.Inf(-1)
	}
	switch st.Algorithm {
	case EM:
		m.alpha = st.Alpha
		m.tc = st.Termination
		m.estimator.param = st.Parameterization
	case Gibbs:
		m.initial = st.InitialIteration
		m.stationary = st.StationaryIteration
		m.burnIn = st.BurnIn
	}
	if err := m.validate(st.Components); err != nil {
		return err
	}

	active := make([]slot, len(st.Components))
	for i, c := range st.Components {
		active[i] = resolveSlot(c, m.algorithm)
	}
	m.install(active)

	if st.HasChainFiles {
		m.chains = gibbs.NewChainStore(m.tempDir, chainPrefix)
		if err := m.chains.Restore(st.Counters, st.ChainContents); err != nil {
			return err
		}
	}
	if m.algorithmHasBeenRun {
		m.phase = PhaseFinalized
	}
	if m.src == nil {
		m.src = newSource(0)
	}
	return nil
}

// Save writes the model to w.
func (m *Mixture) Save(w io.Writer) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(st)
}

// Load reads a model written by Save. The hooks it was built with must be
// registered. seed seeds the random source of the loaded model, 0 uses the
// current time.
func Load(r io.Reader, seed int64) (*Mixture, error) {
	var st State
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, err
	}
	m := &Mixture{src: newSource(seed)}
	if err := m.restore(&st); err != nil {
		return nil, err
	}
	return m, nil
}

// GobEncode allows mixtures to be persisted as components of other models.
func (m *Mixture) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Mixture) GobDecode(data []byte) error {
	var st State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	return m.restore(&st)
}
