package grid_world

import (
	"errors"
	"fmt"
)

// State is a cell position. Row 0 is the top row as printed in a console,
// so UP decreases the row index. Cell attributes (reward, terminal, blocked)
// are not part of the state's identity; they live in the Grid.
type State struct {
	Row, Col int
}

func (s State) String() string {
	return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
}

// Action is an attempted move. The declaration order is also the tie-break
// priority: when two actions are worth exactly the same, the earlier one wins.
type Action int

const (
	UP Action = iota
	RIGHT
	DOWN
	LEFT
	NUM_ACTIONS
)

// Layout cell types, as used by Convert.
const (
	OPEN     = 'o'
	TERMINAL = 'T'
	WALL     = 'W'
)

// ProbabilityTolerance bounds how far an outcome distribution may sum from 1.
const ProbabilityTolerance = 1e-9

var actionNames = [NUM_ACTIONS]string{"UP", "RIGHT", "DOWN", "LEFT"}

func (a Action) String() string {
	if a < 0 || a >= NUM_ACTIONS {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// Arrow returns a rune for the action, for console and svg views.
func (a Action) Arrow() rune {
	switch a {
	case UP:
		return '^'
	case RIGHT:
		return '>'
	case DOWN:
		return 'v'
	case LEFT:
		return '<'
	}
	return '?'
}

// moves holds the (row, col) displacement of each action.
var moves = [NUM_ACTIONS]struct{ dr, dc int }{
	UP:    {-1, 0},
	RIGHT: {0, 1},
	DOWN:  {1, 0},
	LEFT:  {0, -1},
}

// slips holds the two perpendicular directions an action may veer into,
// in the order their outcomes are emitted.
var slips = [NUM_ACTIONS][2]Action{
	UP:    {RIGHT, LEFT},
	RIGHT: {UP, DOWN},
	DOWN:  {RIGHT, LEFT},
	LEFT:  {UP, DOWN},
}

// Slips returns the perpendicular directions of the passed action.
func Slips(a Action) [2]Action {
	return slips[a]
}

// Outcome is one possible result of attempting an action.
type Outcome struct {
	State       State
	Probability float64
}

// GridSpec is the literal description of a grid from which NewGrid builds a Grid.
type GridSpec struct {
	Rows, Cols int
	// Rewards is indexed [row][col]. If nil, every cell gets DefaultReward.
	Rewards       [][]float64
	DefaultReward float64
	Terminals     []State
	Blocked       []State
	// ForwardProbability is the chance the intended move happens; the rest is split
	// evenly between the two perpendicular directions.
	ForwardProbability float64
}

// ErrInvalidGrid is returned when a GridSpec or layout cannot describe a valid grid.
var ErrInvalidGrid = errors.New("invalid grid")

type cell struct {
	reward   float64
	terminal bool
	blocked  bool
}

// Grid is an immutable grid MDP: rewards, terminal and blocked cells, and the
// noisy-move transition model. It is safe for concurrent readers.
type Grid struct {
	rows, cols int
	cells      [][]cell
	forward    float64
	side       float64
	states     []State
}

// NewGrid validates the spec and builds the grid.
func NewGrid(spec GridSpec) (*Grid, error) {
	if spec.Rows < 1 || spec.Cols < 1 {
		return nil, fmt.Errorf("%w: %dx%d grid must have at least one row and column", ErrInvalidGrid, spec.Rows, spec.Cols)
	}
	if spec.ForwardProbability < 0 || spec.ForwardProbability > 1 {
		return nil, fmt.Errorf("%w: forward probability %g outside [0,1]", ErrInvalidGrid, spec.ForwardProbability)
	}
	if spec.Rewards != nil && len(spec.Rewards) != spec.Rows {
		return nil, fmt.Errorf("%w: %d reward rows for %d grid rows", ErrInvalidGrid, len(spec.Rewards), spec.Rows)
	}

	grid := &Grid{
		rows:    spec.Rows,
		cols:    spec.Cols,
		cells:   make([][]cell, spec.Rows),
		forward: spec.ForwardProbability,
		side:    (1.0 - spec.ForwardProbability) / 2,
	}
	for r := 0; r < spec.Rows; r++ {
		grid.cells[r] = make([]cell, spec.Cols)
		if spec.Rewards != nil && len(spec.Rewards[r]) != spec.Cols {
			return nil, fmt.Errorf("%w: reward row %d has %d values for %d columns", ErrInvalidGrid, r, len(spec.Rewards[r]), spec.Cols)
		}
		for c := 0; c < spec.Cols; c++ {
			grid.cells[r][c].reward = spec.DefaultReward
			if spec.Rewards != nil {
				grid.cells[r][c].reward = spec.Rewards[r][c]
			}
		}
	}

	for _, s := range spec.Terminals {
		if !grid.InBounds(s) {
			return nil, fmt.Errorf("%w: terminal %v is off the grid", ErrInvalidGrid, s)
		}
		grid.cells[s.Row][s.Col].terminal = true
	}
	for _, s := range spec.Blocked {
		if !grid.InBounds(s) {
			return nil, fmt.Errorf("%w: blocked cell %v is off the grid", ErrInvalidGrid, s)
		}
		if grid.cells[s.Row][s.Col].terminal {
			return nil, fmt.Errorf("%w: %v is both terminal and blocked", ErrInvalidGrid, s)
		}
		grid.cells[s.Row][s.Col].blocked = true
	}

	// Row-major, so iteration order is stable for reproducible traces.
	for r := 0; r < grid.rows; r++ {
		for c := 0; c < grid.cols; c++ {
			if !grid.cells[r][c].blocked {
				grid.states = append(grid.states, State{Row: r, Col: c})
			}
		}
	}
	if len(grid.states) == 0 {
		return nil, fmt.Errorf("%w: every cell is blocked", ErrInvalidGrid)
	}

	return grid, nil
}

// Convert builds a grid from layout strings, one per row from the top, using the
// OPEN, TERMINAL and WALL cell types. Rewards may be nil, in which case all
// cells are worth zero.
func Convert(layout []string, rewards [][]float64, forward float64) (*Grid, error) {
	if len(layout) == 0 {
		return nil, fmt.Errorf("%w: empty layout", ErrInvalidGrid)
	}
	spec := GridSpec{
		Rows:               len(layout),
		Cols:               len([]rune(layout[0])),
		Rewards:            rewards,
		ForwardProbability: forward,
	}
	for r, row := range layout {
		runes := []rune(row)
		if len(runes) != spec.Cols {
			return nil, fmt.Errorf("%w: layout row %d has %d cells, want %d", ErrInvalidGrid, r, len(runes), spec.Cols)
		}
		for c, cellType := range runes {
			switch cellType {
			case OPEN:
			case TERMINAL:
				spec.Terminals = append(spec.Terminals, State{Row: r, Col: c})
			case WALL:
				spec.Blocked = append(spec.Blocked, State{Row: r, Col: c})
			default:
				return nil, fmt.Errorf("%w: unknown cell type %q at (%d,%d)", ErrInvalidGrid, cellType, r, c)
			}
		}
	}
	return NewGrid(spec)
}

func (grid *Grid) Rows() int { return grid.rows }
func (grid *Grid) Cols() int { return grid.cols }

// ForwardProbability is the chance an attempted move goes where intended.
func (grid *Grid) ForwardProbability() float64 { return grid.forward }

func (grid *Grid) InBounds(s State) bool {
	return s.Row >= 0 && s.Row < grid.rows && s.Col >= 0 && s.Col < grid.cols
}

// Reward returns the cell's reward, which does not depend on how it was reached.
// Off-grid states are worth zero.
func (grid *Grid) Reward(s State) float64 {
	if !grid.InBounds(s) {
		return 0
	}
	return grid.cells[s.Row][s.Col].reward
}

func (grid *Grid) IsTerminal(s State) bool {
	return grid.InBounds(s) && grid.cells[s.Row][s.Col].terminal
}

// IsBlocked reports whether the state is unreachable. Off-grid states count as blocked.
func (grid *Grid) IsBlocked(s State) bool {
	return !grid.InBounds(s) || grid.cells[s.Row][s.Col].blocked
}

// States returns all non-blocked states in row-major order.
// The returned slice is a copy.
func (grid *Grid) States() []State {
	states := make([]State, len(grid.states))
	copy(states, grid.states)
	return states
}

// Actions returns the action set in tie-break priority order.
func (grid *Grid) Actions() []Action {
	return []Action{UP, RIGHT, DOWN, LEFT}
}

// Move returns where an action leads if it does not slip: the neighboring
// cell, or the origin itself if that neighbor is off-grid or blocked.
func (grid *Grid) Move(s State, a Action) State {
	d := moves[a]
	target := State{Row: s.Row + d.dr, Col: s.Col + d.dc}
	if grid.IsBlocked(target) {
		return s
	}
	return target
}

// Transition returns the outcome distribution for attempting @a in @s.
// Terminal and blocked states have no outgoing transitions and return nil.
// Outcomes are ordered: intended direction, then the slips in table order.
// Outcomes landing on the same state are folded into the first of them,
// and zero-probability outcomes are dropped.
func (grid *Grid) Transition(s State, a Action) []Outcome {
	if grid.IsBlocked(s) || grid.IsTerminal(s) || a < 0 || a >= NUM_ACTIONS {
		return nil
	}

	outcomes := make([]Outcome, 0, 3)
	add := func(target State, p float64) {
		if p == 0 {
			return
		}
		for i := range outcomes {
			if outcomes[i].State == target {
				outcomes[i].Probability += p
				return
			}
		}
		outcomes = append(outcomes, Outcome{State: target, Probability: p})
	}

	add(grid.Move(s, a), grid.forward)
	for _, slip := range slips[a] {
		add(grid.Move(s, slip), grid.side)
	}
	return outcomes
}
