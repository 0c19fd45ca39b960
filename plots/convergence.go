package plots

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var ErrNoSeries = errors.New("no series to plot")

// Series is the per-sweep max utility change of one solved problem.
type Series struct {
	Name   string
	Deltas []float64
}

// WriteConvergenceChart renders a line chart of each series' deltas, one point per
// sweep, as a standalone html page. Series may have different lengths; the x-axis
// spans the longest.
func WriteConvergenceChart(w io.Writer, title string, series ...Series) error {
	if len(series) == 0 {
		return ErrNoSeries
	}

	numSweeps := 0
	for _, s := range series {
		if len(s.Deltas) > numSweeps {
			numSweeps = len(s.Deltas)
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: "max utility change per sweep",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Theme:     "shine",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sweep"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "delta", Type: "log"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)

	sweeps := make([]string, 0, numSweeps)
	for i := 1; i <= numSweeps; i++ {
		sweeps = append(sweeps, fmt.Sprintf("%d", i))
	}
	line = line.SetXAxis(sweeps)

	for _, s := range series {
		items := make([]opts.LineData, 0, len(s.Deltas))
		for _, delta := range s.Deltas {
			items = append(items, opts.LineData{Value: delta})
		}
		line.AddSeries(s.Name, items)
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(line)
	return page.Render(w)
}

// SaveConvergenceChart writes the chart to @path, creating its directory.
func SaveConvergenceChart(path, title string, series ...Series) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}

	var f *os.File
	if f, err = os.Create(path); err != nil {
		return
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	return WriteConvergenceChart(f, title, series...)
}
