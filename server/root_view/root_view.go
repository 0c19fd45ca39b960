package root_view

import (
	"context"
	"html/template"
	"time"

	"gridmdp/grid_world"
	"gridmdp/reinforcement"
	"gridmdp/server/cell_views"
	"gridmdp/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// Page is the data the main page template executes with.
type Page struct {
	Title string
	Cells [][]cell_views.Cell
}

// RootView is the main page's index.html, which is the container for all the
// view components and the wiring for their channels.
type RootView struct {
	page        Page
	cellViews   []fastview.ViewComponent
	statusViews []fastview.ViewComponent
	updates     <-chan []fastview.EleUpdate
}

// NewRootView creates the main page and the views it contains, all driven by @sweeps.
func NewRootView(
	ctx context.Context,
	title string,
	grid *grid_world.Grid,
	sweeps <-chan reinforcement.Sweep,
) (*RootView, error) {
	converter := cell_views.NewConverter(grid)
	initial := converter.Initial()

	// Cell views and the status line consume separate copies of every sweep.
	sources := channerics.Broadcast(ctx.Done(), sweeps, 2)

	cellViews, err := fastview.NewViewBuilder[reinforcement.Sweep, [][]cell_views.Cell]().
		WithContext(ctx).
		WithModel(sources[0], converter.Convert).
		WithView(func(
			done <-chan struct{},
			cellUpdates <-chan [][]cell_views.Cell) fastview.ViewComponent {
			return cell_views.NewValuesGrid(done, cellUpdates)
		}).
		WithView(func(
			done <-chan struct{},
			cellUpdates <-chan [][]cell_views.Cell) fastview.ViewComponent {
			return cell_views.NewUtilitySurface(done, initial, cellUpdates)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	statusViews, err := fastview.NewViewBuilder[reinforcement.Sweep, reinforcement.Sweep]().
		WithContext(ctx).
		WithModel(sources[1], func(sweep reinforcement.Sweep) reinforcement.Sweep { return sweep }).
		WithView(func(
			done <-chan struct{},
			sweeps <-chan reinforcement.Sweep) fastview.ViewComponent {
			return NewSweepStatus(done, sweeps)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	views := append(append([]fastview.ViewComponent{}, cellViews...), statusViews...)
	return &RootView{
		page:        Page{Title: title, Cells: initial},
		cellViews:   cellViews,
		statusViews: statusViews,
		updates:     fanIn(ctx.Done(), views, batchRate),
	}, nil
}

// Updates returns the main ele-update channel for all the views.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Page returns the data to execute the main page template with.
func (rv *RootView) Page() Page {
	return rv.page
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map that the child components depend on.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	// Status views execute with the page, cell views with its cells.
	var bodySpec string
	for _, vc := range rv.statusViews {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" . }}`
	}
	for _, vc := range rv.cellViews {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" .Cells }}`
	}

	// The main template bootstraps the rest: sets up client websocket and updates, aggregates views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<title>{{ .Title }}</title>
			<link rel="icon" href="data:,">
			<!--The server pushes new data to the views via websocket.-->
			<script>
				const ws = new WebSocket("ws://" + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body>
		<h3>{{ .Title }}</h3>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

const batchRate = time.Millisecond * 20

// fanIn aggregates the views' ele-update channels into a single batched channel.
func fanIn(
	done <-chan struct{},
	views []fastview.ViewComponent,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	inputs := make([]<-chan []fastview.EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		rate)
}

// batchify collects updates and emits them once per @rate, keeping only the latest
// update per ele-id, so redundant updates for the same element are never sent.
// A pending batch is flushed before the output closes.
func batchify(
	done <-chan struct{},
	source <-chan []fastview.EleUpdate,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	output := make(chan []fastview.EleUpdate)

	go func() {
		defer close(output)

		// Ele-ids in first-seen order, so batches are deterministic.
		var order []string
		data := map[string]fastview.EleUpdate{}
		emit := func() bool {
			if len(order) == 0 {
				return true
			}
			batch := make([]fastview.EleUpdate, 0, len(order))
			for _, id := range order {
				batch = append(batch, data[id])
			}
			select {
			case output <- batch:
				order, data = nil, map[string]fastview.EleUpdate{}
				return true
			case <-done:
				return false
			}
		}

		ticker := channerics.NewTicker(done, rate)
		for {
			select {
			case <-done:
				return
			case updates, ok := <-source:
				if !ok {
					emit()
					return
				}
				for _, update := range updates {
					if _, seen := data[update.EleId]; !seen {
						order = append(order, update.EleId)
					}
					data[update.EleId] = update
				}
			case <-ticker:
				if !emit() {
					return
				}
			}
		}
	}()

	return output
}
