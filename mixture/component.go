package mixture

import (
	"math/rand/v2"

	"github.com/n0madic/go-mixture/sequence"
)

// Component is a trainable probabilistic sequence model that can be used as a
// mixture component.
type Component interface {
	// Train estimates the parameters from data, each sequence weighted by the
	// corresponding entry of weights. A nil weights slice means unit weights.
	Train(data []sequence.Sequence, weights []float64) error
	Clone() (Component, error)
	// LogProb returns log P(s[start..end]) with end inclusive.
	LogProb(s sequence.Sequence, start, end int) (float64, error)
	// LogPriorTerm returns the log density of the current parameters under
	// the component's prior, 0 for maximum likelihood models.
	LogPriorTerm() float64
	IsInitialized() bool
	Alphabet() *sequence.Alphabet
	// Length returns the modelled sequence length, 0 for variable length.
	Length() int
	EmitSample(src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error)
}

// Sampler is implemented by components that can be trained by Gibbs
// sampling. Sampled parameter sets are stored per chain so they can be
// replayed after sampling finished.
type Sampler interface {
	Component
	// DrawParameters draws a parameter set from the posterior given data and
	// weights. It becomes current only after AcceptParameters.
	DrawParameters(src rand.Source, data []sequence.Sequence, weights []float64) error
	// AcceptParameters installs the drawn parameters and records them in the
	// chain opened by ExtendSampling.
	AcceptParameters() error
	InitForSampling(starts int) error
	// ExtendSampling opens chain for appending. With resume set the last
	// stored parameter set becomes current, otherwise the chain is cleared.
	ExtendSampling(chain int, resume bool) error
	SamplingStopped() error
	// ParseParameterSet makes the parameter set of chain at step current and
	// positions the replay after it.
	ParseParameterSet(chain, step int) (bool, error)
	ParseNextParameterSet() (bool, error)
	InSamplingMode() bool
	// Close removes every stored parameter set.
	Close() error
}

// nestable is implemented by *Mixture and every type embedding it.
type nestable interface {
	asMixture() *Mixture
}

type slotKind int

const (
	kindPlain slotKind = iota
	kindNested
	kindSampling
)

func (k slotKind) String() string {
	switch k {
	case kindNested:
		return "nested mixture"
	case kindSampling:
		return "sampling"
	default:
		return "plain"
	}
}

// slot is a component resolved once to the capability the training algorithm
// dispatches on.
type slot struct {
	model   Component
	kind    slotKind
	nested  *Mixture
	sampler Sampler
}

func resolveSlot(c Component, alg Algorithm) slot {
	s := slot{model: c, kind: kindPlain}
	switch alg {
	case EM:
		if n, ok := c.(nestable); ok {
			s.kind = kindNested
			s.nested = n.asMixture()
		}
	case Gibbs:
		if smp, ok := c.(Sampler); ok {
			s.kind = kindSampling
			s.sampler = smp
		}
	}
	return s
}

func cloneSlots(src []slot, alg Algorithm) ([]slot, error) {
	out := make([]slot, len(src))
	for i, s := range src {
		c, err := s.model.Clone()
		if err != nil {
			return nil, err
		}
		out[i] = resolveSlot(c, alg)
	}
	return out, nil
}
