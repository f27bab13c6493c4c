// Package config loads trainer settings from TOML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/n0madic/go-mixture/gibbs"
	"github.com/n0madic/go-mixture/mixture"
	"github.com/n0madic/go-mixture/sequence"
)

// Config holds the settings of a training run.
type Config struct {
	Model    ModelConfig    `toml:"model"`
	Training TrainingConfig `toml:"training"`
	EM       EMConfig       `toml:"em"`
	Gibbs    GibbsConfig    `toml:"gibbs"`
}

// ModelConfig describes the component model.
type ModelConfig struct {
	Alphabet string  `toml:"alphabet"` // registered alphabet name, e.g. "DNA"
	Length   int     `toml:"length"`   // sequence length
	ESS      float64 `toml:"ess"`      // equivalent sample size of the component prior
}

// TrainingConfig holds the settings shared by both algorithms.
type TrainingConfig struct {
	Algorithm    string    `toml:"algorithm"`     // "em" or "gibbs"
	Starts       int       `toml:"starts"`        // restarts or chains
	HyperParams  []float64 `toml:"hyper_params"`  // Dirichlet prior of the component probabilities
	FixedWeights []float64 `toml:"fixed_weights"` // keeps these probabilities if set
	Seed         int64     `toml:"seed"`          // 0 seeds from the clock
	TempDir      string    `toml:"temp_dir"`      // directory of chain files
}

// EMConfig holds the EM settings.
type EMConfig struct {
	Alpha            float64 `toml:"alpha"`            // concentration of the initial Dirichlet draw
	Epsilon          float64 `toml:"epsilon"`          // stop once the score improves by at most this
	MaxIterations    int     `toml:"max_iterations"`   // 0 = unlimited
	TimeLimit        string  `toml:"time_limit"`       // e.g. "30s", empty = none
	Parameterization string  `toml:"parameterization"` // "theta" or "lambda"
}

// GibbsConfig holds the Gibbs sampling settings.
type GibbsConfig struct {
	Initial      int     `toml:"initial"`        // steps per chain before the burn-in is checked
	Stationary   int     `toml:"stationary"`     // samples required after the burn-in
	BurnIn       string  `toml:"burn_in"`        // "fixed" or "variance_ratio"
	BurnInLength int     `toml:"burn_in_length"` // length of a fixed burn-in
	Threshold    float64 `toml:"threshold"`      // potential scale reduction threshold
}

// Default returns the default configuration: EM with ten restarts on DNA.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Alphabet: "DNA",
			Length:   8,
			ESS:      4,
		},
		Training: TrainingConfig{
			Algorithm:   "em",
			Starts:      10,
			HyperParams: []float64{1, 1},
		},
		EM: EMConfig{
			Alpha:            1,
			Epsilon:          1e-6,
			Parameterization: "lambda",
		},
		Gibbs: GibbsConfig{
			Initial:    50,
			Stationary: 1000,
			BurnIn:     "variance_ratio",
			Threshold:  1.1,
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// Validate checks the values that can be checked without building a model.
func (c *Config) Validate() error {
	if _, err := c.Alphabet(); err != nil {
		return err
	}
	if c.Model.Length < 1 {
		return errors.Errorf("model length must be positive: %d", c.Model.Length)
	}
	if c.Model.ESS < 0 {
		return errors.Errorf("model ess cannot be negative: %g", c.Model.ESS)
	}
	if c.Training.Starts < 1 {
		return errors.Errorf("starts must be positive: %d", c.Training.Starts)
	}
	switch c.algorithm() {
	case "em":
		if c.EM.Alpha <= 0 {
			return errors.Errorf("em alpha must be positive: %g", c.EM.Alpha)
		}
		if c.EM.Epsilon < 0 {
			return errors.Errorf("em epsilon cannot be negative: %g", c.EM.Epsilon)
		}
		if c.EM.MaxIterations < 0 {
			return errors.Errorf("em max iterations cannot be negative: %d", c.EM.MaxIterations)
		}
		if c.EM.TimeLimit != "" {
			if _, err := time.ParseDuration(c.EM.TimeLimit); err != nil {
				return errors.Wrapf(err, "invalid em time limit %q", c.EM.TimeLimit)
			}
		}
		if _, err := c.parameterization(); err != nil {
			return err
		}
	case "gibbs":
		if c.Gibbs.Initial < 1 || c.Gibbs.Stationary < 1 {
			return errors.Errorf("gibbs iterations must be positive: initial %d, stationary %d", c.Gibbs.Initial, c.Gibbs.Stationary)
		}
		if c.Gibbs.Initial*c.Training.Starts > c.Gibbs.Stationary {
			return errors.Errorf("gibbs: %d initial iterations on %d chains exceed %d stationary iterations",
				c.Gibbs.Initial, c.Training.Starts, c.Gibbs.Stationary)
		}
		if _, err := c.BurnInTest(); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown algorithm %q", c.Training.Algorithm)
	}
	return nil
}

func (c *Config) algorithm() string {
	return strings.ToLower(strings.TrimSpace(c.Training.Algorithm))
}

// Alphabet returns the registered alphabet named by the model section.
func (c *Config) Alphabet() (*sequence.Alphabet, error) {
	a, ok := sequence.Lookup(c.Model.Alphabet)
	if !ok {
		return nil, errors.Errorf("unknown alphabet %q", c.Model.Alphabet)
	}
	return a, nil
}

func (c *Config) parameterization() (mixture.Parameterization, error) {
	switch strings.ToLower(c.EM.Parameterization) {
	case "", "lambda":
		return mixture.Lambda, nil
	case "theta":
		return mixture.Theta, nil
	default:
		return 0, errors.Errorf("unknown parameterization %q", c.EM.Parameterization)
	}
}

// Termination returns the EM termination condition. Every configured limit
// must agree to continue.
func (c *Config) Termination() (mixture.TerminationCondition, error) {
	conditions := []mixture.TerminationCondition{mixture.SmallDifference{Epsilon: c.EM.Epsilon}}
	if c.EM.MaxIterations > 0 {
		conditions = append(conditions, mixture.MaxIterations{N: c.EM.MaxIterations})
	}
	if c.EM.TimeLimit != "" {
		d, err := time.ParseDuration(c.EM.TimeLimit)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid em time limit %q", c.EM.TimeLimit)
		}
		conditions = append(conditions, mixture.TimeLimit{Limit: d})
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return mixture.Combined{Conditions: conditions}, nil
}

// BurnInTest returns a fresh burn-in test.
func (c *Config) BurnInTest() (gibbs.BurnInTest, error) {
	switch strings.ToLower(c.Gibbs.BurnIn) {
	case "fixed":
		if c.Gibbs.BurnInLength < 0 {
			return nil, errors.Errorf("burn-in length cannot be negative: %d", c.Gibbs.BurnInLength)
		}
		return gibbs.NewFixedBurnIn(c.Gibbs.BurnInLength), nil
	case "", "variance_ratio":
		if c.Gibbs.Threshold <= 1 {
			return nil, errors.Errorf("variance ratio threshold must exceed 1: %g", c.Gibbs.Threshold)
		}
		return gibbs.NewVarianceRatio(c.Gibbs.Threshold), nil
	default:
		return nil, errors.Errorf("unknown burn-in test %q", c.Gibbs.BurnIn)
	}
}

// MixtureOptions translates the training settings into mixture options.
func (c *Config) MixtureOptions() ([]mixture.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts := []mixture.Option{
		mixture.WithStarts(c.Training.Starts),
		mixture.WithRandomSeed(c.Training.Seed),
	}
	if len(c.Training.HyperParams) > 0 {
		opts = append(opts, mixture.WithHyperParams(c.Training.HyperParams...))
	}
	if len(c.Training.FixedWeights) > 0 {
		opts = append(opts, mixture.WithFixedWeights(c.Training.FixedWeights...))
	}
	if c.Training.TempDir != "" {
		opts = append(opts, mixture.WithTempDir(c.Training.TempDir))
	}
	switch c.algorithm() {
	case "em":
		tc, err := c.Termination()
		if err != nil {
			return nil, err
		}
		param, err := c.parameterization()
		if err != nil {
			return nil, err
		}
		opts = append(opts, mixture.WithEM(c.EM.Alpha, tc, param))
	case "gibbs":
		burnIn, err := c.BurnInTest()
		if err != nil {
			return nil, err
		}
		opts = append(opts, mixture.WithGibbs(c.Gibbs.Initial, c.Gibbs.Stationary, burnIn))
	}
	return opts, nil
}
