package grid_world

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora"
)

// Every console cell renders as exactly this many printable characters,
// between a leading and trailing space.
const cellWidth = 8

// Renderer draws ascii-art grids for the console. Colors are optional so the
// same output can be compared in tests or piped to a file.
type Renderer struct {
	au aurora.Aurora
}

// NewRenderer returns a renderer, with ansi colors if @colors is set.
func NewRenderer(colors bool) *Renderer {
	return &Renderer{au: aurora.NewAurora(colors)}
}

// Rewards draws each cell's reward, e.g. for showing a problem before it is solved.
func (r *Renderer) Rewards(grid *Grid) string {
	return r.draw(grid, func(s State) string {
		return r.colorValue(grid, s, grid.Reward(s))
	})
}

// Utilities draws a utility table over the grid. States missing from the
// table are drawn blank.
func (r *Renderer) Utilities(grid *Grid, utilities map[State]float64) string {
	return r.draw(grid, func(s State) string {
		u, ok := utilities[s]
		if !ok {
			return strings.Repeat(" ", cellWidth)
		}
		return r.colorValue(grid, s, u)
	})
}

// Policy draws the action of each state as a triple arrow; terminal states are an x.
func (r *Renderer) Policy(grid *Grid, policy map[State]Action) string {
	return r.draw(grid, func(s State) string {
		if grid.IsTerminal(s) {
			return r.au.Yellow("    x   ").String()
		}
		a, ok := policy[s]
		if !ok {
			return strings.Repeat(" ", cellWidth)
		}
		arrow := strings.Repeat(string(a.Arrow()), 3)
		return r.au.Cyan("   " + arrow + "  ").String()
	})
}

func (r *Renderer) colorValue(grid *Grid, s State, val float64) string {
	text := fmt.Sprintf("%8.4f", val)
	switch {
	case grid.IsTerminal(s):
		return r.au.Bold(r.au.Yellow(text)).String()
	case val < 0:
		return r.au.Red(text).String()
	default:
		return r.au.Green(text).String()
	}
}

// draw lays out the box grid, top row first. Blocked cells are hatched.
func (r *Renderer) draw(grid *Grid, content func(State) string) string {
	var sb strings.Builder
	boxWidth := cellWidth + 2

	sb.WriteString(" " + strings.Repeat("_", grid.Cols()*(boxWidth+1)-1) + "  \n")
	for row := 0; row < grid.Rows(); row++ {
		sb.WriteString("|" + strings.Repeat(strings.Repeat(" ", boxWidth)+"|", grid.Cols()) + " \n")
		sb.WriteString("|")
		for col := 0; col < grid.Cols(); col++ {
			s := State{Row: row, Col: col}
			text := strings.Repeat("#", cellWidth)
			if !grid.IsBlocked(s) {
				text = content(s)
			}
			sb.WriteString(" " + text + " |")
		}
		sb.WriteString(" \n")
		sb.WriteString("|" + strings.Repeat(strings.Repeat("_", boxWidth)+"|", grid.Cols()) + " \n")
	}
	return sb.String()
}
