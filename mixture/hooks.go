package mixture

import (
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-mixture/sequence"
)

// Hooks supplies the parts of a mixture model that depend on how the
// components relate to the data. Implementations must be stateless: all
// state lives in the *Mixture passed to every call, so one Hooks value can
// serve many models and be re-bound by name when a model is loaded.
type Hooks interface {
	// Name identifies the hooks in the persisted form, see RegisterHooks.
	Name() string
	// SetTrainData derives the internal data set the components are trained
	// on from the data passed to Train.
	SetTrainData(m *Mixture, data []sequence.Sequence) ([]sequence.Sequence, error)
	// DoFirstIteration draws an initial membership for every sequence with
	// gen, one params entry per input sequence, runs the first M-step via
	// m.NewParameters(0, ...) and returns the sequence weights for reuse.
	DoFirstIteration(m *Mixture, dataWeights []float64, gen RandomGenerator, params []GeneratorParams) (*mat.Dense, error)
	// NewWeights runs an E-step: it fills seqWeights and the component
	// statistic w (starting from m.InitWithPrior) and returns the weighted
	// log-likelihood of the data. Per-sequence membership vectors are turned
	// into responsibilities with m.ModifyWeights.
	NewWeights(m *Mixture, dataWeights, w []float64, seqWeights *mat.Dense) (float64, error)
	// LogProbUsingCurrentParameterSet returns log w_c + log P(s[start..end] | c).
	LogProbUsingCurrentParameterSet(m *Mixture, component int, s sequence.Sequence, start, end int) (float64, error)
	// EmitSampleUsingCurrentParameterSet draws n sequences from the current
	// parameters.
	EmitSampleUsingCurrentParameterSet(m *Mixture, src rand.Source, n int, lengths ...int) ([]sequence.Sequence, error)
}

var (
	hooksMu       sync.RWMutex
	hooksRegistry = map[string]Hooks{}
)

// RegisterHooks makes h available to Load under h.Name(). Registering a
// second value under the same name replaces the first.
func RegisterHooks(h Hooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooksRegistry[h.Name()] = h
}

func lookupHooks(name string) (Hooks, bool) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	h, ok := hooksRegistry[name]
	return h, ok
}

// RegisteredHooks returns the sorted names of all registered hooks.
func RegisteredHooks() []string {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	names := make([]string, 0, len(hooksRegistry))
	for name := range hooksRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
