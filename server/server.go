package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"time"

	"gridmdp/grid_world"
	"gridmdp/monitoring"
	"gridmdp/reinforcement"
	"gridmdp/server/fastview"
	"gridmdp/server/root_view"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

const shutdownGracePeriod = 5 * time.Second

// Server serves a single page showing one solved problem, whose sweeps are pushed
// to the page over a websocket, plus a json summary of the final result.
//
// The page's views share a single ele-update channel, so only one websocket client
// receives updates at a time; a second page competes with the first for them.
type Server struct {
	addr     string
	rootView *root_view.RootView
	summary  Summary
}

// Summary is the json form of a solved problem.
type Summary struct {
	RunID     string      `json:"run_id"`
	Problem   string      `json:"problem"`
	State     string      `json:"state"`
	Sweeps    int         `json:"sweeps"`
	Deltas    []float64   `json:"deltas"`
	Cells     []CellValue `json:"cells"`
	Converged bool        `json:"converged"`
}

// CellValue is one state's utility, and its action unless terminal.
type CellValue struct {
	Row     int     `json:"row"`
	Col     int     `json:"col"`
	Utility float64 `json:"utility"`
	Action  string  `json:"action,omitempty"`
}

// NewSummary flattens a result into its json form, in the grid's row-major state order.
func NewSummary(problem string, grid *grid_world.Grid, result *reinforcement.Result) Summary {
	summary := Summary{
		RunID:     uuid.NewString(),
		Problem:   problem,
		State:     result.State.String(),
		Sweeps:    result.Sweeps,
		Deltas:    result.Deltas,
		Converged: result.State == reinforcement.Converged,
	}
	for _, s := range grid.States() {
		cell := CellValue{Row: s.Row, Col: s.Col, Utility: result.Utilities[s]}
		if action, ok := result.Policy[s]; ok {
			cell.Action = action.String()
		}
		summary.Cells = append(summary.Cells, cell)
	}
	return summary
}

// NewServer builds the page's views, which are driven by @sweeps.
func NewServer(
	ctx context.Context,
	addr string,
	problem string,
	grid *grid_world.Grid,
	result *reinforcement.Result,
	sweeps <-chan reinforcement.Sweep,
) (*Server, error) {
	rootView, err := root_view.NewRootView(ctx, problem, grid, sweeps)
	if err != nil {
		return nil, fmt.Errorf("views: %w", err)
	}

	return &Server{
		addr:     addr,
		rootView: rootView,
		summary:  NewSummary(problem, grid, result),
	}, nil
}

// Handler returns the server's routes, gzipped where the client accepts it.
func (server *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	router.HandleFunc("/api/summary", server.serveSummary).Methods(http.MethodGet)
	gzipped := gzhttp.GzipHandler(router)

	// The websocket route bypasses compression, since gzip writers cannot be hijacked.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			server.serveWebsocket(w, r)
			return
		}
		gzipped.ServeHTTP(w, r)
	})
}

// Serve listens until @ctx is done, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    server.addr,
		Handler: server.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("server: shutdown: %v", err)
		}
	}()

	monitoring.Logf("server: run %s serving %q at http://%s", server.summary.RunID, server.summary.Problem, server.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveWebsocket publishes view updates to the client until it disconnects.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(server.rootView.Updates(), w, r)
	if err != nil {
		monitoring.Logf("server: %v", err)
		return
	}

	if err := cli.Sync(); err != nil {
		monitoring.Logf("server: sync: %v", err)
	}
}

func (server *Server) serveSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(server.summary); err != nil {
		monitoring.Logf("server: summary: %v", err)
	}
}

// Serve the index.html main page.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := renderTemplate(w, server.rootView, server.rootView.Page()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}

	err = t.Execute(w, data)
	return
}
