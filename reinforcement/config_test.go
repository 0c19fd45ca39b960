package reinforcement

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "gridmdp/grid_world"

	. "github.com/smartystreets/goconvey/convey"
)

const testConfig = `kind: valueIteration
def:
  hyperparams:
  - key: discount_factor
    val: 0.8
  - key: workers
    val: 4
  problems:
  - name: hazard
    forward_probability: 0.8
    layout:
    - ooT
    - ooo
    rewards:
    - [-1, -10, 20]
    - [-1, -1, -1]
    hyperparams:
    - key: convergence_threshold
      val: 0.01
  - name: flat
    forward_probability: 1
    default_reward: -0.5
    layout:
    - oWT
    - ooo
    hyperparams:
    - key: discount_factor
      val: 0.95
`

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromYaml(t *testing.T) {
	Convey("When loading a planning config", t, func() {
		cfg, err := FromYaml(writeConfig(t, testConfig))
		So(err, ShouldBeNil)
		So(cfg.Problems, ShouldHaveLength, 2)

		Convey("Problems are found by name", func() {
			problem, err := cfg.Problem("hazard")
			So(err, ShouldBeNil)
			So(problem.ForwardProbability, ShouldEqual, 0.8)
			So(problem.Layout, ShouldResemble, []string{"ooT", "ooo"})
			So(problem.Rewards[0], ShouldResemble, []float64{-1, -10, 20})

			_, err = cfg.Problem("missing")
			So(errors.Is(err, ErrUnknownProblem), ShouldBeTrue)
		})

		Convey("Hyper-parameters resolve problem first, then file, then defaults", func() {
			hazard, _ := cfg.Problem("hazard")
			So(cfg.SolverConfig(hazard), ShouldResemble, Config{
				DiscountFactor:       0.8,
				ConvergenceThreshold: 0.01,
				MaxIterations:        DefaultMaxIterations,
				Workers:              4,
			})

			flat, _ := cfg.Problem("flat")
			solverConfig := cfg.SolverConfig(flat)
			So(solverConfig.DiscountFactor, ShouldEqual, 0.95)
			So(solverConfig.ConvergenceThreshold, ShouldEqual, DefaultConvergenceThreshold)
		})

		Convey("Missing rewards fall back to the default reward", func() {
			flat, _ := cfg.Problem("flat")
			grid, err := flat.Grid()
			So(err, ShouldBeNil)
			So(grid.Reward(State{Row: 1, Col: 2}), ShouldEqual, -0.5)
			So(grid.IsBlocked(State{Row: 0, Col: 1}), ShouldBeTrue)
			So(grid.IsTerminal(State{Row: 0, Col: 2}), ShouldBeTrue)
		})

		Convey("A configured problem solves", func() {
			hazard, _ := cfg.Problem("hazard")
			grid, err := hazard.Grid()
			So(err, ShouldBeNil)
			solver, err := NewSolver(grid, cfg.SolverConfig(hazard))
			So(err, ShouldBeNil)
			result, err := solver.Run()
			So(err, ShouldBeNil)
			// The -10 cell steps straight into the exit, the rest go around.
			So(result.Policy[State{Row: 0, Col: 1}], ShouldEqual, RIGHT)
			So(result.Policy[State{Row: 0, Col: 0}], ShouldEqual, DOWN)
			So(result.Policy[State{Row: 1, Col: 1}], ShouldEqual, RIGHT)
			So(result.Policy[State{Row: 1, Col: 2}], ShouldEqual, UP)
		})
	})

	Convey("When the config is unusable", t, func() {
		Convey("Missing files fail to load", func() {
			_, err := FromYaml(filepath.Join(t.TempDir(), "nope.yaml"))
			So(err, ShouldNotBeNil)
		})

		Convey("Other kinds of definition are rejected", func() {
			_, err := FromYaml(writeConfig(t, "kind: monteCarlo\ndef:\n  problems: []\n"))
			So(errors.Is(err, ErrUnknownKind), ShouldBeTrue)
		})

		Convey("Bad layouts surface the grid error", func() {
			cfg, err := FromYaml(writeConfig(t, `kind: valueIteration
def:
  problems:
  - name: ragged
    forward_probability: 0.8
    layout:
    - ooT
    - oo
`))
			So(err, ShouldBeNil)
			_, err = cfg.Problems[0].Grid()
			So(errors.Is(err, ErrInvalidGrid), ShouldBeTrue)
		})
	})
}

func TestShippedConfig(t *testing.T) {
	Convey("Every problem in the shipped config solves", t, func() {
		cfg, err := FromYaml(filepath.Join("..", "config.yaml"))
		So(err, ShouldBeNil)
		So(len(cfg.Problems), ShouldBeGreaterThanOrEqualTo, 4)

		for _, problem := range cfg.Problems {
			grid, err := problem.Grid()
			So(err, ShouldBeNil)
			solver, err := NewSolver(grid, cfg.SolverConfig(&problem))
			So(err, ShouldBeNil)
			result, err := solver.Run()
			So(err, ShouldBeNil)
			So(result.State, ShouldEqual, Converged)
		}

		deep, err := cfg.Problem("deep-hazard")
		So(err, ShouldBeNil)
		grid, _ := deep.Grid()
		_, policy, err := Solve(grid, 0.8, 0.01, 1000)
		So(err, ShouldBeNil)
		// Below a -100 cell, heading up is no longer worth it.
		So(policy[State{Row: 1, Col: 1}], ShouldEqual, DOWN)
	})
}
