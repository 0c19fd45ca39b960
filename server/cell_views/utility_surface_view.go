package cell_views

import (
	"fmt"
	"html/template"
	"math"

	"gridmdp/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// UtilitySurface draws the utility table as an isometric 2d projection of the
// surface (x, y, utility), one shaded polygon per four adjacent cells.
// Grids with a single row or column have no polygons.
type UtilitySurface struct {
	id      string
	updates <-chan []fastview.EleUpdate
	proj    projection
}

const surfaceCellDim = 80.0 // cell height/width in pixels

// projection holds the canvas parameters, fixed by the grid's dimensions.
type projection struct {
	width, height float64
	xyscale       float64 // pixels per x or y unit
	zscale        float64 // pixels per utility unit
	sinAng        float64
	cosAng        float64
}

func newProjection(cells [][]Cell) projection {
	ang := math.Pi / 6 // angle of x, y axes (30°)
	proj := projection{
		width:   float64(len(cells)) * surfaceCellDim,
		xyscale: surfaceCellDim,
		zscale:  surfaceCellDim * 0.3,
		sinAng:  math.Sin(ang),
		cosAng:  math.Cos(ang),
	}
	if len(cells) > 0 {
		proj.height = float64(len(cells[0])) * surfaceCellDim
	}
	return proj
}

// project applies the isometric projection to a point.
func (proj projection) project(x, y, z float64) (float64, float64) {
	sx := (x - y) * proj.cosAng * proj.xyscale
	sy := (x+y)*proj.sinAng*proj.xyscale - z*proj.zscale
	return sx, sy
}

// NewUtilitySurface returns the view. @initial fixes the grid's dimensions.
func NewUtilitySurface(
	done <-chan struct{},
	initial [][]Cell,
	cells <-chan [][]Cell,
) (us *UtilitySurface) {
	us = &UtilitySurface{
		id:   "utilitysurface",
		proj: newProjection(initial),
	}
	us.updates = channerics.Convert(done, cells, us.onUpdate)
	return
}

func (us *UtilitySurface) Updates() <-chan []fastview.EleUpdate {
	return us.updates
}

// quad is one projected polygon: a is bottom left, b top left, c top right, d bottom right.
type quad struct {
	id     string
	ax, ay float64
	bx, by float64
	cx, cy float64
	dx, dy float64
	avg    float64
}

func (proj projection) quad(cells [][]Cell, xi, yi int) (q quad) {
	a, b := cells[xi+1][yi], cells[xi][yi]
	c, d := cells[xi][yi+1], cells[xi+1][yi+1]
	q.id = fmt.Sprintf("%d-%d-utility-polygon", b.X, b.Y)
	q.ax, q.ay = proj.project(float64(a.X), float64(a.Y), a.Utility)
	q.bx, q.by = proj.project(float64(b.X), float64(b.Y), b.Utility)
	q.cx, q.cy = proj.project(float64(c.X), float64(c.Y), c.Utility)
	q.dx, q.dy = proj.project(float64(d.X), float64(d.Y), d.Utility)
	q.avg = (a.Utility + b.Utility + c.Utility + d.Utility) / 4
	return
}

// points returns the svg-polygon 'points' attribute, truncated to ints.
func (q quad) points() string {
	return fmt.Sprintf("%d,%d %d,%d %d,%d %d,%d",
		int(q.ax), int(q.ay),
		int(q.bx), int(q.by),
		int(q.cx), int(q.cy),
		int(q.dx), int(q.dy),
	)
}

func (us *UtilitySurface) quads(cells [][]Cell) (quads []quad) {
	for xi := 0; xi+1 < len(cells); xi++ {
		for yi := 0; yi+1 < len(cells[xi]); yi++ {
			quads = append(quads, us.proj.quad(cells, xi, yi))
		}
	}
	return
}

// onUpdate reshapes and reshades every polygon, then recenters the group to fit the canvas.
func (us *UtilitySurface) onUpdate(cells [][]Cell) (ops []fastview.EleUpdate) {
	quads := us.quads(cells)
	if len(quads) == 0 {
		return
	}

	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, column := range cells {
		for _, cell := range column {
			minVal = math.Min(minVal, cell.Utility)
			maxVal = math.Max(maxVal, cell.Utility)
		}
	}

	xmin, ymin := math.Inf(1), math.Inf(1)
	xmax, ymax := math.Inf(-1), math.Inf(-1)
	for _, q := range quads {
		xmin = math.Min(xmin, math.Min(math.Min(q.ax, q.bx), math.Min(q.cx, q.dx)))
		xmax = math.Max(xmax, math.Max(math.Max(q.ax, q.bx), math.Max(q.cx, q.dx)))
		ymin = math.Min(ymin, math.Min(math.Min(q.ay, q.by), math.Min(q.cy, q.dy)))
		ymax = math.Max(ymax, math.Max(math.Max(q.ay, q.by), math.Max(q.cy, q.dy)))

		ops = append(ops, fastview.EleUpdate{
			EleId: q.id,
			Ops: []fastview.Op{
				{Key: "points", Value: q.points()},
				{Key: "fill", Value: getRGBFill(q.avg, minVal, maxVal)},
			},
		})
	}

	// Scale down only when the plot would not fit.
	scaler := 1.0
	if xmax > xmin {
		scaler = math.Min(scaler, us.proj.width/(xmax-xmin))
	}
	if ymax > ymin {
		scaler = math.Min(scaler, us.proj.height/(ymax-ymin))
	}
	ops = append(ops, fastview.EleUpdate{
		EleId: us.id + "-group",
		Ops: []fastview.Op{
			{Key: "transform", Value: fmt.Sprintf("scale(%f) translate(%d %d)", scaler, int(-xmin), int(-ymin))},
		},
	})
	return
}

// getRGBFill shades from blue at the lowest utility to red at the highest.
func getRGBFill(val, minVal, maxVal float64) string {
	redPct := 50
	if maxVal > minVal {
		redPct = int(100 * (val - minVal) / (maxVal - minVal))
	}
	return fmt.Sprintf("rgb(%d%%,0%%,%d%%)", redPct, 100-redPct)
}

// Parse adds an svg of the surface polygons to the passed template. Polygons are
// drawn back to front so nearer ones obscure farther ones.
func (us *UtilitySurface) Parse(t *template.Template) (name string, err error) {
	name = us.id
	addedMap := template.FuncMap{
		"surfacePolygons": func(cells [][]Cell) (polys []map[string]string) {
			quads := us.quads(cells)
			for i := len(quads) - 1; i >= 0; i-- {
				polys = append(polys, map[string]string{
					"Id":     quads[i].id,
					"Points": quads[i].points(),
				})
			}
			return
		},
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:40px;">
			<svg id="` + name + `" xmlns='http://www.w3.org/2000/svg'
				width="` + fmt.Sprintf("%d", int(us.proj.width*2)) + `px"
				height="` + fmt.Sprintf("%d", int(us.proj.height*2)) + `px"
				style="shape-rendering: crispEdges; stroke: lightgrey; stroke-opacity: 1.0; stroke-width: 3;">
				<g id="` + name + `-group" transform="translate(0 0)">
				{{ range $poly := surfacePolygons . }}
					<polygon id="{{ $poly.Id }}" fill="black" fill-opacity="1.0" points="{{ $poly.Points }}" />
				{{ end }}
				</g>
			</svg>
		</div>
		{{ end }}`)
	return
}
