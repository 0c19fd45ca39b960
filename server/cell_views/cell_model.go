// cell_views contains views derived from the Cell view-model.
package cell_views

import (
	. "gridmdp/grid_world"
	"gridmdp/reinforcement"
)

// Cell flattens one grid cell and its latest utility and policy into fields immediately
// usable as view parameters. Cells are indexed [x][y] in svg orientation: x is the grid
// column and y the grid row, so [0][0] is the top left cell as printed in the console.
type Cell struct {
	X, Y    int
	Utility float64
	Reward  float64
	// PolicyArrowRotation is the degrees passed to svg's rotate() for an upward arrow.
	PolicyArrowRotation int
	// ArrowVisibility hides the arrow of cells that have no action.
	ArrowVisibility string
	Fill            string
}

// Converter turns solver sweeps over a single grid into cells.
type Converter struct {
	grid *Grid
}

func NewConverter(grid *Grid) *Converter {
	return &Converter{grid: grid}
}

// Initial returns the cells before any sweep: utilities equal rewards and no policy.
func (conv *Converter) Initial() [][]Cell {
	utilities := map[State]float64{}
	for _, s := range conv.grid.States() {
		utilities[s] = conv.grid.Reward(s)
	}
	return conv.cells(utilities, nil)
}

// Convert transforms a sweep into cells, for consumption by the views.
func (conv *Converter) Convert(sweep reinforcement.Sweep) [][]Cell {
	return conv.cells(sweep.Utilities, sweep.Policy)
}

func (conv *Converter) cells(
	utilities map[State]float64,
	policy map[State]Action,
) (cells [][]Cell) {
	cells = make([][]Cell, conv.grid.Cols())
	for x := range cells {
		cells[x] = make([]Cell, conv.grid.Rows())
		for y := range cells[x] {
			s := State{Row: y, Col: x}
			cell := Cell{
				X:               x,
				Y:               y,
				Utility:         utilities[s],
				Reward:          conv.grid.Reward(s),
				ArrowVisibility: "hidden",
				Fill:            getFill(conv.grid, s),
			}
			if action, ok := policy[s]; ok {
				cell.PolicyArrowRotation = getDegrees(action)
				cell.ArrowVisibility = "visible"
			}
			cells[x][y] = cell
		}
	}
	return
}

// getDegrees returns the clockwise rotation of an upward arrow that points along the action.
func getDegrees(action Action) int {
	switch action {
	case RIGHT:
		return 90
	case DOWN:
		return 180
	case LEFT:
		return 270
	}
	return 0
}

func getFill(grid *Grid, s State) (fill string) {
	switch {
	case grid.IsBlocked(s):
		fill = "dimgray"
	case grid.IsTerminal(s) && grid.Reward(s) >= 0:
		fill = "lightgreen"
	case grid.IsTerminal(s):
		fill = "lightcoral"
	default:
		fill = "white"
	}
	return
}
