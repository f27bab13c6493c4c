package mixture

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distmv"
)

// GeneratorParams parameterises a single RandomGenerator draw.
type GeneratorParams interface{}

// RandomGenerator draws points of the probability simplex used to bootstrap
// the first E-step.
type RandomGenerator interface {
	// Generate writes a draw of count values summing to one into
	// dst[offset:offset+count].
	Generate(src rand.Source, dst []float64, offset, count int, params GeneratorParams)
}

// DirichletParams parameterises DirichletGenerator. Concentration, when set,
// must have one entry per drawn value; otherwise the symmetric concentration
// Alpha is used.
type DirichletParams struct {
	Alpha         float64
	Concentration []float64
}

// DirichletGenerator draws soft component memberships from a Dirichlet
// distribution.
type DirichletGenerator struct{}

func (DirichletGenerator) Generate(src rand.Source, dst []float64, offset, count int, params GeneratorParams) {
	p, _ := params.(DirichletParams)
	alpha := p.Concentration
	if len(alpha) != count {
		a := p.Alpha
		if a <= 0 {
			a = 1
		}
		alpha = make([]float64, count)
		for i := range alpha {
			alpha[i] = a
		}
	}
	distmv.NewDirichlet(alpha, src).Rand(dst[offset : offset+count])
}

// OneOfN draws a hard component membership: one entry set to 1, chosen
// uniformly, all others 0.
type OneOfN struct{}

func (OneOfN) Generate(src rand.Source, dst []float64, offset, count int, _ GeneratorParams) {
	part := dst[offset : offset+count]
	for i := range part {
		part[i] = 0
	}
	part[rand.New(src).IntN(count)] = 1
}

func newSource(seed int64) rand.Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
}
