package mixture

import (
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-mixture/sequence"
)

// scoreTolerance is the relative score decrease attributed to limited
// floating point precision.
const scoreTolerance = 1e-10

// Train fits the model to data. dataWeights holds one weight per sequence,
// nil means unit weights.
//
// EM runs one optimisation per start and keeps the best. Gibbs sampling runs
// one chain per start and extends all chains until enough samples follow the
// burn-in.
func (m *Mixture) Train(data []sequence.Sequence, dataWeights []float64) (err error) {
	if err := m.setTrainData(data, dataWeights); err != nil {
		return err
	}
	m.phase = PhaseInitializing
	defer func() {
		if err != nil {
			m.phase = PhaseInitializing
			m.stopSampling()
		}
	}()

	gen, params := m.generator(len(data))
	switch m.algorithm {
	case EM:
		return m.trainEM(dataWeights, gen, params)
	case Gibbs:
		return m.trainGibbs(dataWeights, gen, params)
	default:
		return errors.Errorf("unknown algorithm %d", int(m.algorithm))
	}
}

func (m *Mixture) trainEM(dataWeights []float64, gen RandomGenerator, params []GeneratorParams) error {
	if m.spare == nil {
		spare, err := cloneSlots(m.active, m.algorithm)
		if err != nil {
			return err
		}
		m.spare = spare
	}
	m.restartScores = m.restartScores[:0]
	best := math.Inf(-1)
	weights := m.Weights()
	accepted := false
	for i := 0; i < m.starts; i++ {
		m.phase = PhaseIterating
		current, err := m.iterate(i, dataWeights, gen, params)
		if err != nil {
			return errors.Wrapf(err, "restart %d", i)
		}
		m.restartScores = append(m.restartScores, current)
		if !accepted || current > best {
			m.swap()
			weights = m.Weights()
			best = current
			accepted = true
			m.phase = PhaseAccepted
		}
	}
	m.swap()
	m.setWeights(weights)
	m.best = best
	m.phase = PhaseFinalized
	glog.V(1).Infof("best = %g", best)
	return nil
}

func (m *Mixture) trainGibbs(dataWeights []float64, gen RandomGenerator, params []GeneratorParams) error {
	m.burnIn.ResetAllValues()
	if err := m.initSampling(m.starts); err != nil {
		return err
	}
	m.phase = PhaseIterating
	for i := 0; i < m.starts; i++ {
		if _, err := m.iterate(i, dataWeights, gen, params); err != nil {
			return errors.Wrapf(err, "chain %d", i)
		}
	}
	for round := 0; ; round++ {
		burnIn := m.burnIn.LengthOfBurnIn()
		post, finished := m.postBurnIn(burnIn)
		if finished && post >= m.stationary {
			glog.V(1).Infof("sampling finished after %d rounds: burn-in %d, %d samples", round, burnIn, post)
			break
		}
		extra := int(math.Ceil(float64(m.stationary-post) / float64(m.starts)))
		if extra < 1 {
			extra = 1
		}
		glog.V(1).Infof("round %d: burn-in %d, %d samples, extending every chain by %d", round, burnIn, post, extra)
		for i := 0; i < m.starts; i++ {
			if _, err := m.ContinueIterationsFor(dataWeights, nil, extra, i); err != nil {
				return errors.Wrapf(err, "extend chain %d", i)
			}
		}
	}
	m.algorithmHasBeenRun = true
	m.phase = PhaseFinalized
	return nil
}

// postBurnIn returns the number of samples after burnIn over all chains and
// whether every chain passed the burn-in.
func (m *Mixture) postBurnIn(burnIn int) (int, bool) {
	post, finished := 0, true
	for _, c := range m.chains.Counters() {
		if c > burnIn {
			post += c - burnIn
		} else {
			finished = false
		}
	}
	return post, finished
}

// Iterate runs a single restart on data and returns its score.
func (m *Mixture) Iterate(data []sequence.Sequence, dataWeights []float64, gen RandomGenerator, params []GeneratorParams) (score float64, err error) {
	if err := m.setTrainData(data, dataWeights); err != nil {
		return 0, err
	}
	if len(params) != len(data) {
		return 0, errors.Errorf("%d generator parameters for %d sequences", len(params), len(data))
	}
	if m.algorithm == Gibbs && (m.chains == nil || m.chains.Chains() == 0) {
		m.burnIn.ResetAllValues()
		if err := m.initSampling(m.starts); err != nil {
			return 0, err
		}
	}
	defer func() {
		if err != nil {
			m.stopSampling()
		}
	}()
	return m.iterate(0, dataWeights, gen, params)
}

func (m *Mixture) iterate(start int, dataWeights []float64, gen RandomGenerator, params []GeneratorParams) (float64, error) {
	glog.V(1).Infof("========== start: %d ==========", start)
	m.restart = start
	switch m.algorithm {
	case EM:
		sw, err := m.hooks.DoFirstIteration(m, dataWeights, gen, params)
		if err != nil {
			return 0, err
		}
		if m.best, err = m.ContinueIterations(dataWeights, sw); err != nil {
			return 0, err
		}
	case Gibbs:
		if err := m.extendSampling(start); err != nil {
			return 0, err
		}
		m.burnIn.SetCurrentSamplingIndex(start)
		sw, err := m.hooks.DoFirstIteration(m, dataWeights, gen, params)
		if err != nil {
			return 0, err
		}
		if err := m.samplingStopped(); err != nil {
			return 0, err
		}
		if _, err := m.ContinueIterationsFor(dataWeights, sw, m.initial, start); err != nil {
			return 0, err
		}
	}
	m.algorithmHasBeenRun = true
	return m.best, nil
}

// generator returns the membership generator of the first iteration with one
// parameter set per sequence.
func (m *Mixture) generator(n int) (RandomGenerator, []GeneratorParams) {
	params := make([]GeneratorParams, n)
	if m.algorithm == Gibbs {
		return OneOfN{}, params
	}
	p := DirichletParams{Alpha: m.alpha}
	for i := range params {
		params[i] = p
	}
	return DirichletGenerator{}, params
}

func (m *Mixture) setTrainData(data []sequence.Sequence, dataWeights []float64) error {
	m.data = nil
	if len(data) == 0 {
		return errors.Wrap(ErrNoTrainingData, "empty data set")
	}
	if dataWeights != nil && len(dataWeights) != len(data) {
		return errors.Errorf("%d data weights for %d sequences", len(dataWeights), len(data))
	}
	internal, err := m.hooks.SetTrainData(m, data)
	if err != nil {
		return err
	}
	m.data = internal
	return nil
}

// DoFirstIterationOn sets data as training data and runs the first iteration
// with memberships drawn from a symmetric Dirichlet distribution with
// concentration Alpha. The returned sequence weights can be passed to
// ContinueIterations.
func (m *Mixture) DoFirstIterationOn(data []sequence.Sequence, dataWeights []float64) (*mat.Dense, error) {
	if err := m.setTrainData(data, dataWeights); err != nil {
		return nil, err
	}
	gen, params := m.generator(len(data))
	if m.algorithm == Gibbs {
		gen = DirichletGenerator{}
		for i := range params {
			params[i] = DirichletParams{Alpha: m.alpha}
		}
	}
	return m.hooks.DoFirstIteration(m, dataWeights, gen, params)
}

// ContinueIterations runs EM iterations on the current training data until
// the termination condition stops them and returns the final score, the
// log-likelihood plus the log prior.
func (m *Mixture) ContinueIterations(dataWeights []float64, seqWeights *mat.Dense) (float64, error) {
	if m.data == nil {
		return 0, ErrNoTrainingData
	}
	if m.algorithm != EM {
		return 0, errors.Wrap(ErrUnsupported, "convergence iterations need EM")
	}
	if seqWeights == nil {
		seqWeights = m.NewSeqWeights()
	}
	w := make([]float64, m.dimension)
	began := time.Now()

	i := 0
	pr := m.LogPriorTerm()
	lOld := math.Inf(-1)
	l, err := m.hooks.NewWeights(m, dataWeights, w, seqWeights)
	if err != nil {
		return 0, err
	}
	lNew := l + pr
	m.trace(i, began, l, pr, lNew, lOld)
	for m.tc.DoNextIteration(i, lOld, lNew, nil, nil, math.NaN(), time.Since(began)) {
		i++
		if err := m.NewParameters(i, seqWeights, w); err != nil {
			return 0, err
		}
		lOld = lNew
		pr = m.LogPriorTerm()
		if l, err = m.hooks.NewWeights(m, dataWeights, w, seqWeights); err != nil {
			return 0, err
		}
		lNew = l + pr
		m.trace(i, began, l, pr, lNew, lOld)
		checkScore(i, lOld, lNew)
	}
	return lNew, nil
}

// ContinueIterationsFor runs exactly iterations steps on the current training
// data. Under Gibbs sampling the steps extend chain start and every score is
// passed to the burn-in test.
func (m *Mixture) ContinueIterationsFor(dataWeights []float64, seqWeights *mat.Dense, iterations, start int) (score float64, err error) {
	if m.data == nil {
		return 0, ErrNoTrainingData
	}
	if m.algorithm == Gibbs {
		if err := m.extendSampling(start); err != nil {
			return 0, err
		}
		defer func() {
			if serr := m.samplingStopped(); err == nil {
				err = serr
			}
		}()
		m.burnIn.SetCurrentSamplingIndex(start)
	}
	if seqWeights == nil {
		seqWeights = m.NewSeqWeights()
	}
	w := make([]float64, m.dimension)
	began := time.Now()

	step := 0
	if m.algorithm == Gibbs {
		step = m.chains.Counter(start)
	}
	pr := m.LogPriorTerm()
	lOld := math.Inf(-1)
	l, err := m.hooks.NewWeights(m, dataWeights, w, seqWeights)
	if err != nil {
		return 0, err
	}
	for i := 0; i < iterations; i, step = i+1, step+1 {
		lNew := l + pr
		m.trace(step, began, l, pr, lNew, lOld)
		if m.algorithm == Gibbs {
			m.burnIn.SetValue(lNew)
		}
		if err := m.NewParameters(i, seqWeights, w); err != nil {
			return 0, err
		}
		lOld = lNew
		pr = m.LogPriorTerm()
		if l, err = m.hooks.NewWeights(m, dataWeights, w, seqWeights); err != nil {
			return 0, err
		}
	}
	return l + pr, nil
}

func (m *Mixture) trace(iter int, began time.Time, l, pr, score, old float64) {
	if m.observer != nil {
		m.observer(m.restart, iter, score)
	}
	if glog.V(2) {
		glog.Infof("%d\t%v\t%g\t%g\t%g\t%g", iter, time.Since(began), l, pr, score, score-old)
	}
}

// checkScore logs a decrease of the EM score. Decreases within the relative
// precision of the score are expected.
func checkScore(iter int, old, score float64) {
	if score >= old || math.IsInf(old, -1) {
		return
	}
	if scalar.EqualWithinAbsOrRel(score, old, scoreTolerance, scoreTolerance) {
		glog.V(1).Infof("iteration %d: score decreased by %g (limited precision)", iter, old-score)
		return
	}
	glog.Warningf("iteration %d: score decreased from %g to %g", iter, old, score)
}

// NewParameters runs the M-step: every optimised component is re-estimated
// from its row of seqWeights, then the component probabilities from the
// statistic w.
func (m *Mixture) NewParameters(iteration int, seqWeights *mat.Dense, w []float64) error {
	for i, s := range m.active {
		if !m.optimize[i] {
			continue
		}
		row := seqWeights.RawRowView(i)
		var err error
		switch s.kind {
		case kindNested:
			if iteration == 0 || m.usedWeights[i] == nil {
				m.usedWeights[i], err = s.nested.DoFirstIterationOn(m.data, row)
			} else {
				_, err = s.nested.ContinueIterationsFor(row, m.usedWeights[i], 1, 0)
			}
		case kindSampling:
			if err = s.sampler.DrawParameters(m.src, m.data, row); err == nil {
				err = s.sampler.AcceptParameters()
			}
		default:
			err = s.model.Train(m.data, row)
		}
		if err != nil {
			return errors.Wrapf(err, "component %d", i)
		}
	}
	return m.newComponentProbs(w)
}

func (m *Mixture) newComponentProbs(w []float64) error {
	if m.estimator.estimate {
		var err error
		switch m.algorithm {
		case EM:
			err = m.estimator.estimateEM(w, m.weights)
		case Gibbs:
			err = m.estimator.drawGibbs(m.src, w, m.weights)
		}
		if err != nil {
			return err
		}
		for i, v := range m.weights {
			m.logWeights[i] = math.Log(v)
		}
	}
	if m.algorithm == Gibbs {
		if err := m.chains.Append(m.weights); err != nil {
			return err
		}
	}
	return nil
}

// ModifyWeights turns the log joint probabilities w of one sequence into
// component responsibilities in place and returns the log marginal. Under
// Gibbs sampling a single component is then drawn from the responsibilities
// and w becomes its indicator vector.
func (m *Mixture) ModifyWeights(w []float64) float64 {
	l := floats.LogSumExp(w)
	for i, v := range w {
		w[i] = math.Exp(v - l)
	}
	if m.algorithm == Gibbs {
		k := int(distuv.NewCategorical(w, m.src).Rand())
		for i := range w {
			w[i] = 0
		}
		w[k] = 1
	}
	return l
}

// swap exchanges the working components and the best restart in constant
// time.
func (m *Mixture) swap() {
	m.active, m.spare = m.spare, m.active
}

// LogPriorTerm returns the log prior of the current parameters: the priors of
// the optimised components plus the Dirichlet prior of the component
// probabilities. It is 0 for Gibbs sampled models.
func (m *Mixture) LogPriorTerm() float64 {
	if m.algorithm == Gibbs {
		return 0
	}
	pr := m.estimator.logPrior(m.weights)
	for i, s := range m.active {
		if m.optimize[i] {
			pr += s.model.LogPriorTerm()
		}
	}
	return pr
}

// ScoreForBestRun returns the score of the best EM restart.
func (m *Mixture) ScoreForBestRun() (float64, error) {
	if m.algorithm == Gibbs {
		return 0, errors.Wrap(ErrUnsupported, "best run score of a Gibbs sampled model")
	}
	if !m.algorithmHasBeenRun {
		return 0, ErrNotTrained
	}
	return m.best, nil
}
