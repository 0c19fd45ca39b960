package reinforcement

import (
	"errors"
	"fmt"

	"gridmdp/grid_world"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigKind is the only kind of definition FromYaml accepts.
const ConfigKind = "valueIteration"

// Hyper-parameter keys, and their values when neither a problem nor the file sets them.
const (
	DiscountFactorKey       = "discount_factor"
	ConvergenceThresholdKey = "convergence_threshold"
	MaxIterationsKey        = "max_iterations"
	WorkersKey              = "workers"

	DefaultDiscountFactor       = 0.9
	DefaultConvergenceThreshold = 1e-4
	DefaultMaxIterations        = 1000
	DefaultWorkers              = 1
)

var (
	ErrUnknownKind    = errors.New("unknown config kind")
	ErrUnknownProblem = errors.New("unknown problem")
)

type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// HyperParams is a list of key-val pairs; later lists in a lookup chain override earlier ones.
type HyperParams []HyperParameter

func (params HyperParams) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range params {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// ProblemConfig describes one grid and the hyper-parameters to solve it with.
// Keys are snake_case since viper lowercases everything it reads.
type ProblemConfig struct {
	Name string `yaml:"name"`
	// Layout rows use the grid_world cell types, top row first.
	Layout []string `yaml:"layout"`
	// Rewards is optional; when absent every cell is worth DefaultReward.
	Rewards            [][]float64 `yaml:"rewards"`
	DefaultReward      float64     `yaml:"default_reward"`
	ForwardProbability float64     `yaml:"forward_probability"`
	HyperParams        HyperParams `yaml:"hyperparams"`
}

// PlanningConfig is a set of problems plus hyper-parameters shared by all of them.
type PlanningConfig struct {
	HyperParams HyperParams     `yaml:"hyperparams"`
	Problems    []ProblemConfig `yaml:"problems"`
}

// Problem returns the named problem.
func (cfg *PlanningConfig) Problem(name string) (*ProblemConfig, error) {
	for i := range cfg.Problems {
		if cfg.Problems[i].Name == name {
			return &cfg.Problems[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProblem, name)
}

// SolverConfig resolves each parameter from the problem, then the file-wide
// hyper-parameters, then the package defaults.
func (cfg *PlanningConfig) SolverConfig(problem *ProblemConfig) Config {
	get := func(key string, defaultVal float64) float64 {
		return problem.HyperParams.GetHyperParamOrDefault(key,
			cfg.HyperParams.GetHyperParamOrDefault(key, defaultVal))
	}
	return Config{
		DiscountFactor:       get(DiscountFactorKey, DefaultDiscountFactor),
		ConvergenceThreshold: get(ConvergenceThresholdKey, DefaultConvergenceThreshold),
		MaxIterations:        int(get(MaxIterationsKey, DefaultMaxIterations)),
		Workers:              int(get(WorkersKey, DefaultWorkers)),
	}
}

// Grid builds the problem's grid.
func (problem *ProblemConfig) Grid() (*grid_world.Grid, error) {
	rewards := problem.Rewards
	if rewards == nil {
		rewards = make([][]float64, len(problem.Layout))
		for r, row := range problem.Layout {
			rewards[r] = make([]float64, len([]rune(row)))
			for c := range rewards[r] {
				rewards[r][c] = problem.DefaultReward
			}
		}
	}
	grid, err := grid_world.Convert(problem.Layout, rewards, problem.ForwardProbability)
	if err != nil {
		return nil, fmt.Errorf("problem %q: %w", problem.Name, err)
	}
	return grid, nil
}

// FromYaml reads a planning config. Viper reads the outer {kind, def} envelope,
// and the definition is round-tripped through yaml into its concrete type.
func FromYaml(path string) (*PlanningConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != ConfigKind {
		return nil, fmt.Errorf("%w: %q, want %q", ErrUnknownKind, outerConfig.Kind, ConfigKind)
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &PlanningConfig{}
	if err = yaml.Unmarshal(spec, innerConfig); err != nil {
		return nil, err
	}

	return innerConfig, nil
}
