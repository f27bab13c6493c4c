package mixture_test

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/mixture"
	"github.com/n0madic/go-mixture/pwm"
	"github.com/n0madic/go-mixture/sequence"
)

func encode(t testing.TB, a *sequence.Alphabet, ss ...string) []sequence.Sequence {
	t.Helper()
	data, err := sequence.Encode(a, ss...)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func newPWM(t testing.TB, a *sequence.Alphabet, length int, ess float64) *pwm.Model {
	t.Helper()
	m, err := pwm.New(a, length, ess)
	if err != nil {
		t.Fatalf("pwm.New() error = %v", err)
	}
	return m
}

func components(ms ...*pwm.Model) []mixture.Component {
	out := make([]mixture.Component, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

// stateful is a termination condition that keeps state between calls.
type stateful struct{ calls int }

func (s *stateful) DoNextIteration(int, float64, float64, []float64, []float64, float64, time.Duration) bool {
	s.calls++
	return s.calls < 10
}

func (s *stateful) IsSimple() bool { return false }

func TestNewValidation(t *testing.T) {
	binary := func(ess float64) *pwm.Model { return newPWM(t, sequence.Binary, 1, ess) }
	nested, err := mixture.NewStandard(1, components(binary(1), binary(1)))
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}

	tests := []struct {
		name       string
		length     int
		components []mixture.Component
		options    []mixture.Option
		wantField  string
	}{
		{
			name:       "valid EM",
			length:     1,
			components: components(binary(0), binary(0)),
		},
		{
			name:       "valid Gibbs",
			length:     1,
			components: components(binary(1), binary(1)),
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithStarts(2),
				mixture.WithGibbs(5, 20, gibbs.NewFixedBurnIn(2)),
			},
		},
		{
			name:       "valid Gibbs with fixed weights and no prior",
			length:     1,
			components: components(binary(1), binary(1)),
			options: []mixture.Option{
				mixture.WithFixedWeights(0.3, 0.7),
				mixture.WithGibbs(5, 20, gibbs.NewFixedBurnIn(2)),
			},
		},
		{
			name:       "no components",
			length:     1,
			components: nil,
			wantField:  "dimension",
		},
		{
			name:       "zero starts",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithStarts(0)},
			wantField:  "starts",
		},
		{
			name:       "weights do not sum to one",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithWeights(0.5, 0.6)},
			wantField:  "weights",
		},
		{
			name:       "negative weight",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithWeights(-0.5, 1.5)},
			wantField:  "weights",
		},
		{
			name:       "wrong number of weights",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithWeights(1)},
			wantField:  "weights",
		},
		{
			name:       "mixed hyper-parameters",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithHyperParams(0, 1)},
			wantField:  "hyper-parameters",
		},
		{
			name:       "negative hyper-parameter",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithHyperParams(1, -1)},
			wantField:  "hyper-parameters",
		},
		{
			name:       "wrong number of hyper-parameters",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithHyperParams(1, 1, 1)},
			wantField:  "hyper-parameters",
		},
		{
			name:       "wrong number of optimize flags",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithOptimize(true)},
			wantField:  "optimize",
		},
		{
			name:       "alphabet mismatch",
			length:     1,
			components: components(binary(0), newPWM(t, sequence.DNA, 1, 0)),
			wantField:  "components",
		},
		{
			name:       "length mismatch",
			length:     2,
			components: components(binary(0), binary(0)),
			wantField:  "components",
		},
		{
			name:       "zero alpha",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithEM(0, mixture.DefaultTermination(), mixture.Lambda)},
			wantField:  "alpha",
		},
		{
			name:       "nil termination",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithEM(1, nil, mixture.Lambda)},
			wantField:  "termination condition",
		},
		{
			name:       "stateful termination",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithEM(1, &stateful{}, mixture.Lambda)},
			wantField:  "termination condition",
		},
		{
			name:       "unknown parameterization",
			length:     1,
			components: components(binary(0), binary(0)),
			options:    []mixture.Option{mixture.WithEM(1, mixture.DefaultTermination(), mixture.Parameterization(7))},
			wantField:  "parameterization",
		},
		{
			name:       "Gibbs without prior",
			length:     1,
			components: components(binary(1), binary(1)),
			options:    []mixture.Option{mixture.WithGibbs(5, 20, gibbs.NewFixedBurnIn(2))},
			wantField:  "hyper-parameters",
		},
		{
			name:       "Gibbs without initial iterations",
			length:     1,
			components: components(binary(1), binary(1)),
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithGibbs(0, 20, gibbs.NewFixedBurnIn(2)),
			},
			wantField: "initial iterations",
		},
		{
			name:       "Gibbs initial iterations exceed stationary phase",
			length:     1,
			components: components(binary(1), binary(1)),
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithStarts(3),
				mixture.WithGibbs(10, 20, gibbs.NewFixedBurnIn(2)),
			},
			wantField: "stationary iterations",
		},
		{
			name:       "Gibbs without burn-in test",
			length:     1,
			components: components(binary(1), binary(1)),
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithGibbs(5, 20, nil),
			},
			wantField: "burn-in test",
		},
		{
			name:       "Gibbs with a component that cannot sample",
			length:     1,
			components: []mixture.Component{binary(1), nested},
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithGibbs(5, 20, gibbs.NewFixedBurnIn(2)),
			},
			wantField: "components",
		},
		{
			name:       "Gibbs with a frozen component that cannot sample",
			length:     1,
			components: []mixture.Component{binary(1), nested},
			options: []mixture.Option{
				mixture.WithHyperParams(1, 1),
				mixture.WithOptimize(true, false),
				mixture.WithGibbs(5, 20, gibbs.NewFixedBurnIn(2)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := mixture.NewStandard(tt.length, tt.components, tt.options...)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("NewStandard() error = %v", err)
				}
				if m.Phase() != mixture.PhaseInitializing {
					t.Errorf("Phase() = %v, want initializing", m.Phase())
				}
				return
			}
			if m != nil {
				t.Error("NewStandard() returned a model together with an error")
			}
			var ce *mixture.ConstructionError
			if !errors.As(err, &ce) {
				t.Fatalf("NewStandard() error = %v, want *ConstructionError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("ConstructionError.Field = %q, want %q (%v)", ce.Field, tt.wantField, err)
			}
		})
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	m, err := mixture.NewStandard(1, components(
		newPWM(t, sequence.Binary, 1, 0),
		newPWM(t, sequence.Binary, 1, 0),
		newPWM(t, sequence.Binary, 1, 0),
	))
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	for _, w := range [][]float64{
		{0.2, 0.3, 0.5},
		{1, 0, 0},
		{1.0 / 3, 1.0 / 3, 1.0 / 3},
	} {
		if err := m.SetWeights(w); err != nil {
			t.Fatalf("SetWeights(%v) error = %v", w, err)
		}
		if got := m.Weights(); !floats.EqualApprox(got, w, 1e-15) {
			t.Errorf("Weights() = %v, want %v", got, w)
		}
		for i, lw := range m.LogWeights() {
			if lw != math.Log(w[i]) {
				t.Errorf("LogWeights()[%d] = %g, want %g", i, lw, math.Log(w[i]))
			}
		}
	}
	if err := m.SetWeights([]float64{0.5, 0.5, 0.5}); err == nil {
		t.Error("SetWeights() accepted weights summing to 1.5")
	}
	if m.Dimension() != 3 || m.ESS() != 0 {
		t.Errorf("Dimension() = %d, ESS() = %g", m.Dimension(), m.ESS())
	}
}

func TestEMBernoulli(t *testing.T) {
	data := encode(t, sequence.Binary, "0", "0", "1", "1")
	m, err := mixture.NewStandard(1,
		components(newPWM(t, sequence.Binary, 1, 0), newPWM(t, sequence.Binary, 1, 0)),
		mixture.WithStarts(1),
		mixture.WithWeights(0.5, 0.5),
		mixture.WithRandomSeed(42),
	)
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	if m.IsInitialized() {
		t.Error("IsInitialized() = true before training")
	}
	if _, err := m.ScoreForBestRun(); !errors.Is(err, mixture.ErrNotTrained) {
		t.Errorf("ScoreForBestRun() before training error = %v, want ErrNotTrained", err)
	}
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if !m.AlgorithmHasBeenRun() || !m.IsInitialized() || m.Phase() != mixture.PhaseFinalized {
		t.Fatalf("after Train: run %v, initialized %v, phase %v", m.AlgorithmHasBeenRun(), m.IsInitialized(), m.Phase())
	}

	best, err := m.ScoreForBestRun()
	if err != nil {
		t.Fatalf("ScoreForBestRun() error = %v", err)
	}
	if want := 4 * math.Log(0.5); !scalar.EqualWithinAbs(best, want, 1e-9) {
		t.Errorf("ScoreForBestRun() = %g, want %g", best, want)
	}
	w := m.Weights()
	if !scalar.EqualWithinAbs(floats.Sum(w), 1, 1e-9) {
		t.Errorf("Weights() = %v do not sum to one", w)
	}
	marginal := 0.0
	for c := 0; c < 2; c++ {
		comp, err := m.Component(c)
		if err != nil {
			t.Fatal(err)
		}
		marginal += w[c] * comp.(*pwm.Model).Prob(0, 1)
	}
	if !scalar.EqualWithinAbs(marginal, 0.5, 1e-9) {
		t.Errorf("P(1) = %g, want 0.5", marginal)
	}
	for _, s := range data {
		lp, err := m.LogProbAll(s)
		if err != nil {
			t.Fatalf("LogProbAll() error = %v", err)
		}
		if !scalar.EqualWithinAbs(lp, math.Log(0.5), 1e-9) {
			t.Errorf("LogProbAll(%v) = %g, want log 0.5", s, lp)
		}
	}
}

func separatedData(t testing.TB) []sequence.Sequence {
	return encode(t, sequence.Binary, "000", "000", "000", "111", "111", "111")
}

func newSeparated(t testing.TB, options ...mixture.Option) *mixture.Mixture {
	t.Helper()
	base := []mixture.Option{
		mixture.WithStarts(5),
		mixture.WithHyperParams(1, 1),
		mixture.WithRandomSeed(7),
	}
	m, err := mixture.NewStandard(3,
		components(newPWM(t, sequence.Binary, 3, 0.1), newPWM(t, sequence.Binary, 3, 0.1)),
		append(base, options...)...,
	)
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	return m
}

func TestEMSeparatesClusters(t *testing.T) {
	data := separatedData(t)
	m := newSeparated(t)
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	w := m.Weights()
	if !floats.EqualApprox(w, []float64{0.5, 0.5}, 1e-3) {
		t.Errorf("Weights() = %v, want [0.5 0.5]", w)
	}
	zero, err := m.IndexOfMaximalComponent(data[0])
	if err != nil {
		t.Fatalf("IndexOfMaximalComponent() error = %v", err)
	}
	one, err := m.IndexOfMaximalComponent(data[3])
	if err != nil {
		t.Fatalf("IndexOfMaximalComponent() error = %v", err)
	}
	if zero == one {
		t.Fatalf("both clusters assigned to component %d", zero)
	}
	comp, err := m.Component(zero)
	if err != nil {
		t.Fatal(err)
	}
	for pos := 0; pos < 3; pos++ {
		if p := comp.(*pwm.Model).Prob(pos, 0); p < 0.95 {
			t.Errorf("P(0 at %d | zero cluster) = %g, want > 0.95", pos, p)
		}
	}

	// The installed parameters reproduce the best score.
	best, err := m.ScoreForBestRun()
	if err != nil {
		t.Fatal(err)
	}
	scores := m.RestartScores()
	if len(scores) != 5 || best != floats.Max(scores) {
		t.Errorf("ScoreForBestRun() = %g, restart scores %v", best, scores)
	}
	total := m.LogPriorTerm()
	for _, s := range data {
		lp, err := m.LogProbAll(s)
		if err != nil {
			t.Fatal(err)
		}
		total += lp
	}
	if !scalar.EqualWithinAbsOrRel(total, best, 1e-9, 1e-9) {
		t.Errorf("re-scored data = %g, best score %g", total, best)
	}

	// Component scores sum to the marginal.
	joint := make([]float64, 2)
	for c := range joint {
		if joint[c], err = m.ComponentLogProb(c, data[1]); err != nil {
			t.Fatal(err)
		}
	}
	lp, _ := m.LogProbAll(data[1])
	if !scalar.EqualWithinAbs(floats.LogSumExp(joint), lp, 1e-12) {
		t.Errorf("log sum of component scores = %g, LogProbAll() = %g", floats.LogSumExp(joint), lp)
	}
}

func TestEMScoresDoNotDecrease(t *testing.T) {
	type point struct {
		start, iter int
		score       float64
	}
	var trace []point
	m := newSeparated(t,
		mixture.WithStarts(3),
		mixture.WithObserver(func(start, iter int, score float64) {
			trace = append(trace, point{start, iter, score})
		}),
	)
	data := encode(t, sequence.Binary, "000", "001", "010", "111", "110", "011", "101", "000")
	if err := m.Train(data, []float64{1, 2, 1, 1, 0.5, 1, 1, 3}); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if len(trace) == 0 {
		t.Fatal("observer was not called")
	}
	for i := 1; i < len(trace); i++ {
		prev, cur := trace[i-1], trace[i]
		if prev.start != cur.start {
			continue
		}
		if cur.score < prev.score && !scalar.EqualWithinAbsOrRel(cur.score, prev.score, 1e-9, 1e-9) {
			t.Errorf("start %d: score decreased from %g to %g at iteration %d", cur.start, prev.score, cur.score, cur.iter)
		}
	}
}

func TestContinueWithoutData(t *testing.T) {
	m := newSeparated(t)
	if _, err := m.ContinueIterations(nil, nil); !errors.Is(err, mixture.ErrNoTrainingData) {
		t.Errorf("ContinueIterations() error = %v, want ErrNoTrainingData", err)
	}
	if _, err := m.ContinueIterationsFor(nil, nil, 3, 0); !errors.Is(err, mixture.ErrNoTrainingData) {
		t.Errorf("ContinueIterationsFor() error = %v, want ErrNoTrainingData", err)
	}
	if err := m.Train(nil, nil); !errors.Is(err, mixture.ErrNoTrainingData) {
		t.Errorf("Train(nil) error = %v, want ErrNoTrainingData", err)
	}
	if _, err := m.LogProbAll(separatedData(t)[0]); !errors.Is(err, mixture.ErrNotTrained) {
		t.Errorf("LogProbAll() before training error = %v, want ErrNotTrained", err)
	}
}

func TestPartitionedStart(t *testing.T) {
	data := separatedData(t)
	m := newSeparated(t)
	partition := [][]float64{{1, 0}, {1, 0}, {1, 0}, {0, 1}, {0, 1}, {0, 1}}
	sw, err := m.DoFirstIterationWithPartition(data, nil, partition)
	if err != nil {
		t.Fatalf("DoFirstIterationWithPartition() error = %v", err)
	}
	if _, err := m.ContinueIterations(nil, sw); err != nil {
		t.Fatalf("ContinueIterations() error = %v", err)
	}
	if got, _ := m.IndexOfMaximalComponent(data[0]); got != 0 {
		t.Errorf("IndexOfMaximalComponent(000) = %d, want 0", got)
	}
	if got, _ := m.IndexOfMaximalComponent(data[5]); got != 1 {
		t.Errorf("IndexOfMaximalComponent(111) = %d, want 1", got)
	}

	bad := [][][]float64{
		{{1, 0}},
		{{0.5, 0.4}, {1, 0}, {1, 0}, {0, 1}, {0, 1}, {0, 1}},
		{{1.5, -0.5}, {1, 0}, {1, 0}, {0, 1}, {0, 1}, {0, 1}},
		{{1}, {1}, {1}, {1}, {1}, {1}},
	}
	for i, p := range bad {
		if _, err := m.DoFirstIterationWithPartition(data, nil, p); err == nil {
			t.Errorf("partition %d accepted", i)
		}
	}
}

func TestSaveLoadEM(t *testing.T) {
	data := separatedData(t)
	m := newSeparated(t)
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := mixture.Load(&buf, 1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !floats.Equal(loaded.Weights(), m.Weights()) {
		t.Errorf("loaded weights %v, want %v", loaded.Weights(), m.Weights())
	}
	if loaded.Algorithm() != mixture.EM || loaded.Phase() != mixture.PhaseFinalized {
		t.Errorf("loaded algorithm %v, phase %v", loaded.Algorithm(), loaded.Phase())
	}
	want, _ := m.ScoreForBestRun()
	if got, err := loaded.ScoreForBestRun(); err != nil || got != want {
		t.Errorf("loaded ScoreForBestRun() = %g, %v, want %g", got, err, want)
	}
	for _, s := range data {
		a, _ := m.LogProbAll(s)
		b, err := loaded.LogProbAll(s)
		if err != nil || a != b {
			t.Errorf("LogProbAll(%v): original %g, loaded %g (%v)", s, a, b, err)
		}
	}
	if _, ok := loaded.Termination().(mixture.SmallDifference); !ok {
		t.Errorf("loaded termination %T", loaded.Termination())
	}
}

func TestNestedMixture(t *testing.T) {
	inner, err := mixture.NewStandard(3,
		components(newPWM(t, sequence.Binary, 3, 0.1), newPWM(t, sequence.Binary, 3, 0.1)),
		mixture.WithHyperParams(1, 1),
		mixture.WithRandomSeed(3),
	)
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	outer, err := mixture.NewStandard(3,
		[]mixture.Component{inner, newPWM(t, sequence.Binary, 3, 0.1)},
		mixture.WithStarts(2),
		mixture.WithHyperParams(1, 1),
		mixture.WithRandomSeed(4),
	)
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	data := encode(t, sequence.Binary, "000", "001", "111", "110", "010", "101")
	if err := outer.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if !outer.IsInitialized() {
		t.Fatal("IsInitialized() = false after training")
	}
	if w := outer.Weights(); !scalar.EqualWithinAbs(floats.Sum(w), 1, 1e-9) {
		t.Errorf("Weights() = %v", w)
	}

	var buf bytes.Buffer
	if err := outer.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := mixture.Load(&buf, 5)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := loaded.Current(0).(*mixture.Mixture); !ok {
		t.Fatalf("loaded component 0 is %T", loaded.Current(0))
	}
	for _, s := range data {
		a, err := outer.LogProbAll(s)
		if err != nil || math.IsInf(a, 0) || math.IsNaN(a) {
			t.Fatalf("LogProbAll(%v) = %g, %v", s, a, err)
		}
		if b, _ := loaded.LogProbAll(s); a != b {
			t.Errorf("LogProbAll(%v): original %g, loaded %g", s, a, b)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	data := separatedData(t)
	m := newSeparated(t)
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	before, _ := m.LogProbAll(data[0])

	clone, err := m.CloneMixture()
	if err != nil {
		t.Fatalf("CloneMixture() error = %v", err)
	}
	if got, _ := clone.LogProbAll(data[0]); got != before {
		t.Errorf("clone scores %g, original %g", got, before)
	}
	if err := clone.Train(encode(t, sequence.Binary, "010", "010", "101"), nil); err != nil {
		t.Fatalf("Train() on clone error = %v", err)
	}
	if got, _ := m.LogProbAll(data[0]); got != before {
		t.Errorf("training the clone changed the original: %g, want %g", got, before)
	}
}

func newGibbs(t testing.TB, dir string, burnIn gibbs.BurnInTest) *mixture.Mixture {
	t.Helper()
	m, err := mixture.NewStandard(3,
		components(newPWM(t, sequence.Binary, 3, 1), newPWM(t, sequence.Binary, 3, 1)),
		mixture.WithStarts(2),
		mixture.WithHyperParams(1, 1),
		mixture.WithGibbs(3, 40, burnIn),
		mixture.WithRandomSeed(11),
		mixture.WithTempDir(dir),
	)
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	return m
}

func chainFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "mixture-*.dat"))
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestGibbsSampling(t *testing.T) {
	dir := t.TempDir()
	const burnIn = 5
	m := newGibbs(t, dir, gibbs.NewFixedBurnIn(burnIn))
	defer m.Close()
	data := separatedData(t)
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	post := 0
	for i, c := range m.ChainCounters() {
		if c <= burnIn {
			t.Errorf("chain %d has %d steps, burn-in is %d", i, c, burnIn)
		}
		post += c - burnIn
	}
	if post < 40 {
		t.Errorf("%d samples after the burn-in, want at least 40", post)
	}
	if got := len(chainFiles(t, dir)); got != 2 {
		t.Errorf("%d chain files, want 2", got)
	}

	scores, err := m.LogScores(data)
	if err != nil {
		t.Fatalf("LogScores() error = %v", err)
	}
	for i, s := range data {
		lp, err := m.LogProbAll(s)
		if err != nil {
			t.Fatalf("LogProbAll() error = %v", err)
		}
		if !scalar.EqualWithinAbs(lp, scores[i], 1e-12) {
			t.Errorf("LogProbAll(%v) = %g, LogScores() = %g", s, lp, scores[i])
		}
		if !(lp < 0) {
			t.Errorf("LogProbAll(%v) = %g", s, lp)
		}
	}

	if _, err := m.ComponentLogProb(0, data[0]); !errors.Is(err, mixture.ErrUnsupported) {
		t.Errorf("ComponentLogProb() error = %v, want ErrUnsupported", err)
	}
	if _, err := m.ScoreForBestRun(); !errors.Is(err, mixture.ErrUnsupported) {
		t.Errorf("ScoreForBestRun() error = %v, want ErrUnsupported", err)
	}
	if got := m.LogPriorTerm(); got != 0 {
		t.Errorf("LogPriorTerm() = %g, want 0", got)
	}

	sample, err := m.EmitSample(nil, 25)
	if err != nil {
		t.Fatalf("EmitSample() error = %v", err)
	}
	if len(sample) != 25 {
		t.Errorf("EmitSample() returned %d sequences, want 25", len(sample))
	}
	for _, s := range sample {
		if s.Len() != 3 {
			t.Errorf("sampled sequence %v has length %d", s, s.Len())
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if files := chainFiles(t, dir); len(files) != 0 {
		t.Errorf("chain files left after Close: %v", files)
	}
}

func TestSaveLoadGibbs(t *testing.T) {
	dir := t.TempDir()
	m := newGibbs(t, dir, gibbs.NewVarianceRatio(1.2))
	defer m.Close()
	data := separatedData(t)
	if err := m.Train(data, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := mixture.Load(&buf, 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer loaded.Close()

	if got, want := loaded.ChainCounters(), m.ChainCounters(); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("loaded counters %v, want %v", got, want)
	}
	if got, want := loaded.BurnIn().LengthOfBurnIn(), m.BurnIn().LengthOfBurnIn(); got != want {
		t.Errorf("loaded burn-in %d, want %d", got, want)
	}
	want, err := m.LogScores(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.LogScores(data)
	if err != nil {
		t.Fatalf("LogScores() on loaded model error = %v", err)
	}
	if !floats.Equal(got, want) {
		t.Errorf("loaded LogScores() = %v, want %v", got, want)
	}
	if files := chainFiles(t, dir); len(files) != 2 {
		t.Errorf("%d chain files of the original model, want 2", len(files))
	}
}
