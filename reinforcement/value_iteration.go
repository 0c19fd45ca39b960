package reinforcement

/*
Value iteration for a fully known MDP. Unlike the sampling methods this package
grew out of, there are no agents or episodes: every sweep applies the Bellman
optimality update to every state from the previous sweep's utilities,

	U'(s) = R(s) + gamma * max_a sum_s' P(s'|s,a) U(s')

until no utility moves by more than the convergence threshold.

Sweeps are Jacobi-style: they read snapshot k and write snapshot k+1, then the two
buffers swap. Because no state reads a value written in the same sweep, a sweep can
be partitioned across workers with no coordination beyond reducing the max delta,
and the result is bit-identical for any number of workers.
*/

import (
	"errors"
	"fmt"
	"math"

	"gridmdp/atomic_float"
	. "gridmdp/grid_world"
	"gridmdp/monitoring"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Model is the MDP the solver plans over. *grid_world.Grid implements it.
type Model interface {
	// States enumerates every reachable state in a stable order.
	States() []State
	// Actions returns the action set in tie-break priority order.
	Actions() []Action
	Reward(State) float64
	IsTerminal(State) bool
	// Transition returns the ordered outcome distribution of an action; empty for terminals.
	Transition(State, Action) []Outcome
}

var (
	// ErrInvalidModel is fatal: the model or configuration cannot be solved and no sweep is run.
	ErrInvalidModel = errors.New("invalid model")
	// ErrNonConvergence is advisory: the iteration cap was hit, and the best utilities and
	// policy reached so far are returned alongside it.
	ErrNonConvergence = errors.New("value iteration did not converge")
)

// SolverState tracks a solver through its single run.
type SolverState int

const (
	Uninitialized SolverState = iota
	Iterating
	Converged
	IterationLimitReached
	// Failed means a sweep produced a non-finite utility and the run was abandoned.
	Failed
)

func (st SolverState) String() string {
	switch st {
	case Uninitialized:
		return "Uninitialized"
	case Iterating:
		return "Iterating"
	case Converged:
		return "Converged"
	case IterationLimitReached:
		return "IterationLimitReached"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("SolverState(%d)", int(st))
}

// Config holds the solver's parameters.
type Config struct {
	// DiscountFactor in (0,1] weighs future utility; near 1 converges slowly.
	DiscountFactor float64
	// ConvergenceThreshold > 0 is the largest per-sweep utility change at which iteration stops.
	ConvergenceThreshold float64
	// MaxIterations >= 1 bounds the number of sweeps.
	MaxIterations int
	// Workers partitions each sweep; values below 1 mean one worker.
	Workers int
}

// Sweep is published to the progress hook after every sweep. Its maps are copies
// owned by the receiver.
type Sweep struct {
	Index     int
	Delta     float64
	Utilities map[State]float64
	// Policy is the greedy policy under this sweep's utilities.
	Policy map[State]Action
}

// Result is the frozen output of a run.
type Result struct {
	Utilities map[State]float64
	// Policy maps every non-terminal state to its best action.
	Policy map[State]Action
	// Sweeps is the number of sweeps performed.
	Sweeps int
	// Deltas holds the max utility change of each sweep, in order.
	Deltas []float64
	State  SolverState
}

// Option configures optional solver behavior.
type Option func(*Solver)

// WithProgress installs a hook called synchronously after every sweep.
func WithProgress(progressFn func(Sweep)) Option {
	return func(s *Solver) {
		s.progressFn = progressFn
	}
}

// Solver runs value iteration once over a model compiled into index form.
type Solver struct {
	*compiled
	cfg        Config
	state      SolverState
	partitions []partition
	progressFn func(Sweep)
	result     *Result
	err        error
}

type partition struct {
	lo, hi int
}

// NewSolver validates the configuration and compiles the model.
// Errors wrap ErrInvalidModel.
func NewSolver(model Model, cfg Config, opts ...Option) (*Solver, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	comp, err := compile(model)
	if err != nil {
		return nil, err
	}

	solver := &Solver{
		compiled: comp,
		cfg:      cfg,
		state:    Uninitialized,
	}
	solver.partitions = split(len(comp.states), cfg.Workers)
	for _, opt := range opts {
		opt(solver)
	}
	return solver, nil
}

func validateConfig(cfg Config) error {
	if !(cfg.DiscountFactor > 0 && cfg.DiscountFactor <= 1) {
		return fmt.Errorf("%w: discount factor %g outside (0,1]", ErrInvalidModel, cfg.DiscountFactor)
	}
	if !(cfg.ConvergenceThreshold > 0) {
		return fmt.Errorf("%w: convergence threshold %g must be positive", ErrInvalidModel, cfg.ConvergenceThreshold)
	}
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d must be at least 1", ErrInvalidModel, cfg.MaxIterations)
	}
	return nil
}

// split divides n states into at most @workers contiguous partitions.
func split(n, workers int) (parts []partition) {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		parts = append(parts, partition{lo, hi})
	}
	return
}

// State returns where the solver is in its lifecycle.
func (s *Solver) State() SolverState {
	return s.state
}

// Run iterates to convergence or the iteration cap and extracts the policy.
// Hitting the cap returns the capped result together with an error wrapping
// ErrNonConvergence; callers decide whether that is fatal. Once finished, Run
// returns the same frozen result without iterating again.
func (s *Solver) Run() (*Result, error) {
	if s.state != Uninitialized {
		return s.result, s.err
	}
	s.state = Iterating

	// Terminals keep their reward for good; every other state starts there too.
	cur := make([]float64, len(s.rewards))
	copy(cur, s.rewards)
	next := make([]float64, len(s.rewards))

	deltas := []float64{}
	for sweep := 1; sweep <= s.cfg.MaxIterations; sweep++ {
		delta, err := s.sweep(cur, next)
		if err != nil {
			s.state = Failed
			s.err = err
			return nil, err
		}
		cur, next = next, cur
		deltas = append(deltas, delta)

		if s.progressFn != nil {
			s.progressFn(Sweep{
				Index:     sweep,
				Delta:     delta,
				Utilities: s.utilityMap(cur),
				Policy:    s.policy(cur),
			})
		}

		if delta <= s.cfg.ConvergenceThreshold {
			s.state = Converged
			break
		}
	}

	if s.state != Converged {
		s.state = IterationLimitReached
		last := deltas[len(deltas)-1]
		s.err = fmt.Errorf("%w: max delta %g above threshold %g after %d sweeps",
			ErrNonConvergence, last, s.cfg.ConvergenceThreshold, len(deltas))
		monitoring.Logf("value iteration: %v", s.err)
	}

	s.result = &Result{
		Utilities: s.utilityMap(cur),
		Policy:    s.policy(cur),
		Sweeps:    len(deltas),
		Deltas:    deltas,
		State:     s.state,
	}
	return s.result, s.err
}

// sweep writes one Bellman update of @cur into @next and returns the largest change.
// Each partition reads only @cur and writes only its own indices of @next.
func (s *Solver) sweep(cur, next []float64) (float64, error) {
	maxDelta := atomic_float.NewAtomicFloat64(0)

	var group errgroup.Group
	for _, part := range s.partitions {
		part := part
		group.Go(func() error {
			qs := make([]float64, len(s.actions))
			localMax := 0.0
			for i := part.lo; i < part.hi; i++ {
				if s.terminal[i] {
					next[i] = cur[i]
					continue
				}

				s.expectedUtilities(i, cur, qs)
				u := s.rewards[i] + s.cfg.DiscountFactor*qs[floats.MaxIdx(qs)]
				if math.IsNaN(u) || math.IsInf(u, 0) {
					return fmt.Errorf("%w: utility of %v diverged to %g", ErrInvalidModel, s.states[i], u)
				}
				next[i] = u
				localMax = math.Max(localMax, math.Abs(u-cur[i]))
			}
			maxDelta.AtomicMax(localMax)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return 0, err
	}
	return maxDelta.AtomicRead(), nil
}

// Solve is the one-call entry point: it builds a solver, runs it, and returns the
// utilities and policy. A non-nil error wrapping ErrNonConvergence still comes with
// the capped utilities and policy.
func Solve(
	model Model,
	discountFactor float64,
	convergenceThreshold float64,
	maxIterations int,
) (map[State]float64, map[State]Action, error) {
	solver, err := NewSolver(model, Config{
		DiscountFactor:       discountFactor,
		ConvergenceThreshold: convergenceThreshold,
		MaxIterations:        maxIterations,
	})
	if err != nil {
		return nil, nil, err
	}

	result, err := solver.Run()
	if result == nil {
		return nil, nil, err
	}
	return result.Utilities, result.Policy, err
}
