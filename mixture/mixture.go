package mixture

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/sequence"
)

func init() {
	gob.Register(&Mixture{})
}

// Algorithm is the training algorithm of a mixture model.
type Algorithm int

const (
	// EM is expectation maximisation with random restarts.
	EM Algorithm = iota
	// Gibbs is Gibbs sampling with one chain per start.
	Gibbs
)

func (a Algorithm) String() string {
	switch a {
	case EM:
		return "EM"
	case Gibbs:
		return "Gibbs sampling"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Phase is the training state of a model.
type Phase int

const (
	// PhaseInitializing holds before training and after a failed training.
	PhaseInitializing Phase = iota
	// PhaseIterating holds while a restart or chain trains the working
	// components.
	PhaseIterating
	// PhaseAccepted holds after an EM restart improved the best score and
	// its components were swapped into the best buffer.
	PhaseAccepted
	// PhaseFinalized holds after training installed its result.
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseIterating:
		return "iterating"
	case PhaseAccepted:
		return "accepted"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// weightTolerance bounds |sum(weights) - 1|.
const weightTolerance = 1e-9

// Mixture is a finite mixture of sequence models trained by EM or Gibbs
// sampling. How components map to the data is supplied by Hooks.
//
// A Mixture is not safe for concurrent use. Clones are independent and may be
// trained concurrently on the same data.
type Mixture struct {
	hooks     Hooks
	length    int
	alphabet  *sequence.Alphabet
	dimension int
	starts    int

	weights    []float64
	logWeights []float64
	estimator  weightEstimator

	active   []slot // components seen by the hooks
	spare    []slot // best EM restart so far, allocated on the first EM training
	optimize []bool

	algorithm Algorithm

	// EM
	alpha float64
	tc    TerminationCondition

	// Gibbs
	initial    int
	stationary int
	burnIn     gibbs.BurnInTest
	chains     *gibbs.ChainStore

	best                float64
	algorithmHasBeenRun bool
	restartScores       []float64
	restart             int
	phase               Phase

	data        []sequence.Sequence
	usedWeights []*mat.Dense

	src      rand.Source
	tempDir  string
	observer func(start, iter int, score float64)
}

// Option configures a Mixture.
type Option func(*Mixture)

// WithStarts sets the number of EM restarts or Gibbs chains.
func WithStarts(starts int) Option {
	return func(m *Mixture) {
		m.starts = starts
	}
}

// WithWeights sets the initial component probabilities.
func WithWeights(weights ...float64) Option {
	return func(m *Mixture) {
		m.weights = append([]float64(nil), weights...)
	}
}

// WithFixedWeights sets component probabilities that training keeps.
func WithFixedWeights(weights ...float64) Option {
	return func(m *Mixture) {
		m.weights = append([]float64(nil), weights...)
		m.estimator.estimate = false
	}
}

// WithHyperParams sets the Dirichlet prior of the component probabilities.
// All zero means maximum likelihood, all positive means MAP estimation.
func WithHyperParams(hyper ...float64) Option {
	return func(m *Mixture) {
		m.estimator.hyper = append([]float64(nil), hyper...)
	}
}

// WithOptimize selects which components are trained. Components with a false
// flag keep their parameters.
func WithOptimize(optimize ...bool) Option {
	return func(m *Mixture) {
		m.optimize = append([]bool(nil), optimize...)
	}
}

// WithEM selects EM training. alpha is the concentration of the Dirichlet
// draw that bootstraps every restart.
func WithEM(alpha float64, tc TerminationCondition, param Parameterization) Option {
	return func(m *Mixture) {
		m.algorithm = EM
		m.alpha = alpha
		m.tc = tc
		m.estimator.param = param
	}
}

// WithGibbs selects Gibbs sampling. Every chain first runs initial steps;
// chains are then extended until stationary samples after the burn-in
// determined by burnIn are available.
func WithGibbs(initial, stationary int, burnIn gibbs.BurnInTest) Option {
	return func(m *Mixture) {
		m.algorithm = Gibbs
		m.initial = initial
		m.stationary = stationary
		m.burnIn = burnIn
	}
}

// WithRandomSeed seeds the model's random source. 0 uses the current time.
func WithRandomSeed(seed int64) Option {
	return func(m *Mixture) {
		m.src = newSource(seed)
	}
}

// WithRandomSource sets the model's random source.
func WithRandomSource(src rand.Source) Option {
	return func(m *Mixture) {
		m.src = src
	}
}

// WithTempDir sets the directory of the Gibbs chain files.
func WithTempDir(dir string) Option {
	return func(m *Mixture) {
		m.tempDir = dir
	}
}

// WithObserver registers fn to be called with the score of every iteration.
func WithObserver(fn func(start, iter int, score float64)) Option {
	return func(m *Mixture) {
		m.observer = fn
	}
}

// New creates a mixture of dimension components over sequences of the given
// length (0 for variable length). components are cloned; hooks decide how
// they are used, so there may be fewer components than dimension.
func New(hooks Hooks, length, dimension int, components []Component, options ...Option) (*Mixture, error) {
	m := &Mixture{
		hooks:     hooks,
		length:    length,
		dimension: dimension,
		starts:    1,
		algorithm: EM,
		alpha:     1,
		tc:        DefaultTermination(),
		estimator: weightEstimator{estimate: true, param: Lambda},
		best:      math.Inf(-1),
	}
	if dimension > 0 {
		m.weights = make([]float64, dimension)
		for i := range m.weights {
			m.weights[i] = 1 / float64(dimension)
		}
		m.estimator.hyper = make([]float64, dimension)
	}
	m.optimize = make([]bool, len(components))
	for i := range m.optimize {
		m.optimize[i] = true
	}

	for _, opt := range options {
		opt(m)
	}

	if err := m.validate(components); err != nil {
		return nil, err
	}
	if m.src == nil {
		m.src = newSource(0)
	}

	active := make([]slot, len(components))
	for i, c := range components {
		clone, err := c.Clone()
		if err != nil {
			return nil, constructionErrorf("components", "clone component %d: %v", i, err)
		}
		active[i] = resolveSlot(clone, m.algorithm)
	}
	m.install(active)
	return m, nil
}

// install finishes construction once the fields are validated.
func (m *Mixture) install(active []slot) {
	m.active = active
	m.alphabet = active[0].model.Alphabet()
	m.estimator = newWeightEstimator(m.estimator.estimate, m.estimator.hyper, m.estimator.param)
	m.logWeights = make([]float64, m.dimension)
	m.setWeights(m.weights)
	m.usedWeights = make([]*mat.Dense, len(active))
}

func (m *Mixture) validate(components []Component) error {
	if m.hooks == nil {
		return constructionErrorf("hooks", "nil")
	}
	if m.dimension < 1 {
		return constructionErrorf("dimension", "must be positive, got %d", m.dimension)
	}
	if m.length < 0 {
		return constructionErrorf("length", "must not be negative, got %d", m.length)
	}
	if m.starts < 1 {
		return constructionErrorf("starts", "must be positive, got %d", m.starts)
	}
	if len(components) == 0 || len(components) > m.dimension {
		return constructionErrorf("components", "need between 1 and %d components, got %d", m.dimension, len(components))
	}
	for i, c := range components {
		if c == nil {
			return constructionErrorf("components", "component %d is nil", i)
		}
		if c.Alphabet() == nil || !c.Alphabet().Equal(components[0].Alphabet()) {
			return constructionErrorf("components", "component %d uses a different alphabet", i)
		}
		if l := c.Length(); l != 0 && l != m.length {
			return constructionErrorf("components", "component %d models length %d, mixture length is %d", i, l, m.length)
		}
	}
	if len(m.optimize) != len(components) {
		return constructionErrorf("optimize", "need %d flags, got %d", len(components), len(m.optimize))
	}
	if err := validateWeights(m.weights, m.dimension); err != nil {
		return err
	}
	if err := m.validateHyperParams(); err != nil {
		return err
	}

	switch m.algorithm {
	case EM:
		if m.estimator.param != Theta && m.estimator.param != Lambda {
			return constructionErrorf("parameterization", "unknown value %d", int(m.estimator.param))
		}
		if !(m.alpha > 0) {
			return constructionErrorf("alpha", "must be positive, got %g", m.alpha)
		}
		if err := validateTermination(m.tc); err != nil {
			return err
		}
		for i, c := range components {
			n, ok := c.(nestable)
			if ok && m.optimize[i] && n.asMixture().algorithm != EM {
				return constructionErrorf("components", "nested mixture %d must be trained by EM", i)
			}
		}
	case Gibbs:
		if m.estimator.estimate && m.estimator.hyper[0] == 0 {
			return constructionErrorf("hyper-parameters", "must be positive when component probabilities are sampled")
		}
		if m.initial < 1 {
			return constructionErrorf("initial iterations", "must be positive, got %d", m.initial)
		}
		if m.stationary < 1 {
			return constructionErrorf("stationary iterations", "must be positive, got %d", m.stationary)
		}
		if m.initial*m.starts > m.stationary {
			return constructionErrorf("stationary iterations", "%d initial iterations times %d starts exceed %d", m.initial, m.starts, m.stationary)
		}
		if m.burnIn == nil {
			return constructionErrorf("burn-in test", "nil")
		}
		for i, c := range components {
			if _, ok := c.(Sampler); m.optimize[i] && !ok {
				return constructionErrorf("components", "component %d cannot be trained by Gibbs sampling", i)
			}
		}
	default:
		return constructionErrorf("algorithm", "unknown value %d", int(m.algorithm))
	}
	return nil
}

func validateWeights(weights []float64, dimension int) error {
	if len(weights) != dimension {
		return constructionErrorf("weights", "need %d weights, got %d", dimension, len(weights))
	}
	sum := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return constructionErrorf("weights", "weight %d is %g", i, w)
		}
		sum += w
	}
	if !scalar.EqualWithinAbs(sum, 1, weightTolerance) {
		return constructionErrorf("weights", "sum to %g, not 1", sum)
	}
	return nil
}

func (m *Mixture) validateHyperParams() error {
	hyper := m.estimator.hyper
	if len(hyper) != m.dimension {
		return constructionErrorf("hyper-parameters", "need %d values, got %d", m.dimension, len(hyper))
	}
	zero := hyper[0] == 0
	for i, h := range hyper {
		if h < 0 || math.IsNaN(h) {
			return constructionErrorf("hyper-parameters", "value %d is %g", i, h)
		}
		if (h == 0) != zero {
			return constructionErrorf("hyper-parameters", "must be all zero or all positive")
		}
	}
	return nil
}

func validateTermination(tc TerminationCondition) error {
	if tc == nil {
		return constructionErrorf("termination condition", "nil")
	}
	if !tc.IsSimple() {
		return constructionErrorf("termination condition", "must be simple")
	}
	if c, ok := tc.(Combined); ok && len(c.Conditions) == 0 {
		return constructionErrorf("termination condition", "combined condition without conditions")
	}
	return nil
}

func (m *Mixture) asMixture() *Mixture { return m }

func (m *Mixture) setWeights(weights []float64) {
	copy(m.weights, weights)
	for i, w := range m.weights {
		m.logWeights[i] = math.Log(w)
	}
}

// SetWeights replaces the component probabilities.
func (m *Mixture) SetWeights(weights []float64) error {
	if err := validateWeights(weights, m.dimension); err != nil {
		return err
	}
	m.setWeights(weights)
	return nil
}

// Weights returns a copy of the component probabilities.
func (m *Mixture) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

// LogWeights returns a copy of the log component probabilities.
func (m *Mixture) LogWeights() []float64 {
	return append([]float64(nil), m.logWeights...)
}

// Weight returns the probability of component i.
func (m *Mixture) Weight(i int) float64 { return m.weights[i] }

// LogWeight returns the log probability of component i.
func (m *Mixture) LogWeight(i int) float64 { return m.logWeights[i] }

// ESS returns the equivalent sample size of the component prior.
func (m *Mixture) ESS() float64 { return m.estimator.ess }

// HyperParams returns a copy of the Dirichlet hyper-parameters.
func (m *Mixture) HyperParams() []float64 {
	return append([]float64(nil), m.estimator.hyper...)
}

// EstimatesWeights reports whether training estimates the component
// probabilities.
func (m *Mixture) EstimatesWeights() bool { return m.estimator.estimate }

// Dimension returns the number of mixture components.
func (m *Mixture) Dimension() int { return m.dimension }

// NumComponents returns the number of component models.
func (m *Mixture) NumComponents() int { return len(m.active) }

// Current returns component model i as used by training. It is not a copy.
func (m *Mixture) Current(i int) Component { return m.active[i].model }

// Component returns a copy of component model i.
func (m *Mixture) Component(i int) (Component, error) {
	return m.active[i].model.Clone()
}

// Components returns copies of all component models.
func (m *Mixture) Components() ([]Component, error) {
	out := make([]Component, len(m.active))
	for i, s := range m.active {
		c, err := s.model.Clone()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Optimized reports whether component model i is trained.
func (m *Mixture) Optimized(i int) bool { return m.optimize[i] }

func (m *Mixture) Algorithm() Algorithm { return m.algorithm }
func (m *Mixture) Starts() int { return m.starts }
func (m *Mixture) Length() int { return m.length }
func (m *Mixture) Alphabet() *sequence.Alphabet { return m.alphabet }
func (m *Mixture) Phase() Phase { return m.phase }
func (m *Mixture) AlgorithmHasBeenRun() bool { return m.algorithmHasBeenRun }
func (m *Mixture) Source() rand.Source { return m.src }
func (m *Mixture) Hooks() Hooks { return m.hooks }
func (m *Mixture) Termination() TerminationCondition { return m.tc }

// Alpha returns the concentration of the Dirichlet draw bootstrapping EM.
func (m *Mixture) Alpha() float64 { return m.alpha }

// SetAlpha sets the concentration of the Dirichlet draw bootstrapping EM.
func (m *Mixture) SetAlpha(alpha float64) error {
	if !(alpha > 0) {
		return constructionErrorf("alpha", "must be positive, got %g", alpha)
	}
	m.alpha = alpha
	return nil
}

// Data returns the internal data set of the last training.
func (m *Mixture) Data() []sequence.Sequence { return m.data }

// NewSeqWeights allocates sequence weights with one row per component model
// and one column per internal sequence.
func (m *Mixture) NewSeqWeights() *mat.Dense {
	return mat.NewDense(len(m.active), len(m.data), nil)
}

// InitWithPrior resets the component statistic w to the hyper-parameters.
func (m *Mixture) InitWithPrior(w []float64) { m.estimator.initWithPrior(w) }

// IsInitialized reports whether every component model is initialised.
func (m *Mixture) IsInitialized() bool {
	for _, s := range m.active {
		if !s.model.IsInitialized() {
			return false
		}
	}
	return true
}

// RestartScores returns the final score of every restart of the last EM
// training.
func (m *Mixture) RestartScores() []float64 {
	return append([]float64(nil), m.restartScores...)
}

// ChainCounters returns the number of steps of every Gibbs chain.
func (m *Mixture) ChainCounters() []int {
	if m.chains == nil {
		return nil
	}
	return m.chains.Counters()
}

// BurnIn returns the burn-in test of a Gibbs sampled model.
func (m *Mixture) BurnIn() gibbs.BurnInTest { return m.burnIn }

// CloneMixture returns an independent deep copy. Chain files are copied, the
// random source is derived from the receiver's.
func (m *Mixture) CloneMixture() (*Mixture, error) {
	c := *m
	c.weights = append([]float64(nil), m.weights...)
	c.logWeights = append([]float64(nil), m.logWeights...)
	c.estimator.hyper = append([]float64(nil), m.estimator.hyper...)
	c.optimize = append([]bool(nil), m.optimize...)
	c.restartScores = append([]float64(nil), m.restartScores...)
	c.spare = nil

	active, err := cloneSlots(m.active, m.algorithm)
	if err != nil {
		return nil, err
	}
	c.active = active

	c.usedWeights = make([]*mat.Dense, len(m.usedWeights))
	for i, u := range m.usedWeights {
		if u != nil {
			c.usedWeights[i] = mat.DenseCopyOf(u)
		}
	}
	if m.burnIn != nil {
		c.burnIn = m.burnIn.Clone()
	}
	if m.chains != nil {
		if c.chains, err = m.chains.Clone(); err != nil {
			return nil, err
		}
	}
	r := rand.New(m.src)
	c.src = rand.NewPCG(r.Uint64(), r.Uint64())
	return &c, nil
}

// Clone implements Component.
func (m *Mixture) Clone() (Component, error) {
	return m.CloneMixture()
}

// Close stops any open chain and removes every chain file of the model and
// its components. It can be called more than once.
func (m *Mixture) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if m.chains != nil {
		keep(m.chains.Close())
	}
	for _, buf := range [][]slot{m.active, m.spare} {
		for _, s := range buf {
			if c, ok := s.model.(interface{ Close() error }); ok {
				keep(c.Close())
			}
		}
	}
	return first
}

func (m *Mixture) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mixture (%s) trained by %s, %d starts\n", m.hooks.Name(), m.algorithm, m.starts)
	switch m.algorithm {
	case EM:
		for i, w := range m.weights {
			fmt.Fprintf(&sb, "%g\tcomponent %d\n", w, i)
		}
	case Gibbs:
		fmt.Fprintf(&sb, "burn-in test: %v\n", m.burnIn)
		fmt.Fprintf(&sb, "stationary phase: %d\n", m.stationary)
	}
	for i, s := range m.active {
		fmt.Fprintf(&sb, "model %d (%s):\n%v\n", i, s.kind, s.model)
	}
	return sb.String()
}
