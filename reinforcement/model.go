package reinforcement

import (
	"fmt"
	"math"

	. "gridmdp/grid_world"

	"gonum.org/v1/gonum/floats"
)

type successor struct {
	target      int
	probability float64
}

// compiled is a model flattened to state indices, validated once so sweeps need no
// map lookups or checks. It is read-only after compile and shared by all workers.
type compiled struct {
	states   []State
	index    map[State]int
	actions  []Action
	rewards  []float64
	terminal []bool
	// successors is indexed [state][action]; empty for terminals.
	successors [][][]successor
}

// compile validates @model and flattens it. Errors wrap ErrInvalidModel.
func compile(model Model) (*compiled, error) {
	states := model.States()
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: no states", ErrInvalidModel)
	}
	actions := model.Actions()
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: no actions", ErrInvalidModel)
	}

	comp := &compiled{
		states:     states,
		index:      make(map[State]int, len(states)),
		actions:    actions,
		rewards:    make([]float64, len(states)),
		terminal:   make([]bool, len(states)),
		successors: make([][][]successor, len(states)),
	}
	for i, s := range states {
		if _, dup := comp.index[s]; dup {
			return nil, fmt.Errorf("%w: state %v listed twice", ErrInvalidModel, s)
		}
		comp.index[s] = i

		reward := model.Reward(s)
		if math.IsNaN(reward) || math.IsInf(reward, 0) {
			return nil, fmt.Errorf("%w: reward of %v is %g", ErrInvalidModel, s, reward)
		}
		comp.rewards[i] = reward
		comp.terminal[i] = model.IsTerminal(s)
	}

	for i, s := range states {
		if comp.terminal[i] {
			continue
		}
		comp.successors[i] = make([][]successor, len(actions))
		for ai, a := range actions {
			succ, err := comp.compileOutcomes(s, a, model.Transition(s, a))
			if err != nil {
				return nil, err
			}
			comp.successors[i][ai] = succ
		}
	}

	return comp, nil
}

func (comp *compiled) compileOutcomes(s State, a Action, outcomes []Outcome) ([]successor, error) {
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("%w: %v from non-terminal %v has no outcomes", ErrInvalidModel, a, s)
	}

	succ := make([]successor, 0, len(outcomes))
	probs := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Probability < 0 || math.IsNaN(o.Probability) {
			return nil, fmt.Errorf("%w: %v from %v reaches %v with probability %g", ErrInvalidModel, a, s, o.State, o.Probability)
		}
		target, ok := comp.index[o.State]
		if !ok {
			return nil, fmt.Errorf("%w: %v from %v reaches %v outside the state set", ErrInvalidModel, a, s, o.State)
		}
		succ = append(succ, successor{target: target, probability: o.Probability})
		probs = append(probs, o.Probability)
	}

	if mass := floats.Sum(probs); math.Abs(mass-1) > ProbabilityTolerance {
		return nil, fmt.Errorf("%w: %v from %v has probability mass %g", ErrInvalidModel, a, s, mass)
	}
	return succ, nil
}

// expectedUtilities fills @qs with the expected utility of each action from state @i
// under @utilities. Outcomes are summed in model order so results are reproducible.
func (comp *compiled) expectedUtilities(i int, utilities, qs []float64) {
	for ai, succ := range comp.successors[i] {
		q := 0.0
		for _, o := range succ {
			q += o.probability * utilities[o.target]
		}
		qs[ai] = q
	}
}

// policy is the greedy policy under @utilities. floats.MaxIdx returns the first
// maximal index, so exact ties go to the earlier action.
func (comp *compiled) policy(utilities []float64) map[State]Action {
	policy := make(map[State]Action, len(comp.states))
	qs := make([]float64, len(comp.actions))
	for i, s := range comp.states {
		if comp.terminal[i] {
			continue
		}
		comp.expectedUtilities(i, utilities, qs)
		policy[s] = comp.actions[floats.MaxIdx(qs)]
	}
	return policy
}

func (comp *compiled) utilityMap(utilities []float64) map[State]float64 {
	table := make(map[State]float64, len(comp.states))
	for i, s := range comp.states {
		table[s] = utilities[i]
	}
	return table
}

// GreedyPolicy returns, for every non-terminal state of @model, the action with the
// highest expected utility under @utilities. Exact ties go to the action listed first
// by the model. Every state of the model must have a utility.
func GreedyPolicy(model Model, utilities map[State]float64) (map[State]Action, error) {
	comp, err := compile(model)
	if err != nil {
		return nil, err
	}

	table := make([]float64, len(comp.states))
	for i, s := range comp.states {
		u, ok := utilities[s]
		if !ok {
			return nil, fmt.Errorf("%w: no utility for %v", ErrInvalidModel, s)
		}
		table[i] = u
	}
	return comp.policy(table), nil
}
