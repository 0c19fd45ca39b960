/*
Gridmdp solves grid-world Markov decision processes by value iteration. The rewards and
transition model are known up front, so there is nothing to learn: every sweep applies
the Bellman update to every cell until the utilities stop moving, and the policy is the
greedy action under the final utilities.

Problems are read from a yaml file. Each one is printed to the console as its rewards,
utilities and policy; the per-sweep deltas can be charted, and one problem can be
served as a live page that replays its sweeps.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"gridmdp/grid_world"
	"gridmdp/monitoring"
	"gridmdp/plots"
	"gridmdp/reinforcement"
	"gridmdp/server"

	"github.com/joho/godotenv"
)

const (
	replayPeriod = 300 * time.Millisecond
	replayHold   = 10
)

type options struct {
	configPath string
	problem    string
	workers    int
	serve      string
	addr       string
	chartPath  string
	debug      bool
	color      bool
}

// parseFlags reads the command line. Defaults come from the environment, which may be
// seeded from a .env file.
func parseFlags(args []string) (*options, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[APP] [INFO] .env file could not be loaded: %v", err)
	}

	opts := &options{}
	fs := flag.NewFlagSet("gridmdp", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", getEnvWithDefault("GRIDMDP_CONFIG", "./config.yaml"), "problem config file")
	fs.StringVar(&opts.problem, "problem", "", "solve only the named problem")
	fs.IntVar(&opts.workers, "workers", 0, "sweep workers, overriding the config when positive")
	fs.StringVar(&opts.serve, "serve", "", "serve a live view of the named problem")
	fs.StringVar(&opts.addr, "addr", getEnvWithDefault("GRIDMDP_ADDR", "localhost:8080"), "address to serve on")
	fs.StringVar(&opts.chartPath, "chart", "", "write an html convergence chart to this path")
	fs.BoolVar(&opts.debug, "debug", false, "log every sweep")
	fs.BoolVar(&opts.color, "color", true, "colorize console output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// solved is a problem and everything its run produced.
type solved struct {
	name    string
	grid    *grid_world.Grid
	result  *reinforcement.Result
	history []reinforcement.Sweep
}

// solveProblem solves one configured problem, recording its sweeps. Non-convergence is
// reported but not fatal: the capped result is still returned.
func solveProblem(
	cfg *reinforcement.PlanningConfig,
	problem *reinforcement.ProblemConfig,
	opts *options,
) (*solved, error) {
	grid, err := problem.Grid()
	if err != nil {
		return nil, err
	}

	solverConfig := cfg.SolverConfig(problem)
	if opts.workers > 0 {
		solverConfig.Workers = opts.workers
	}

	run := &solved{name: problem.Name, grid: grid}
	solver, err := reinforcement.NewSolver(grid, solverConfig,
		reinforcement.WithProgress(func(sweep reinforcement.Sweep) {
			run.history = append(run.history, sweep)
			if opts.debug {
				monitoring.Logf("%s: sweep %d max delta %g", problem.Name, sweep.Index, sweep.Delta)
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("problem %q: %w", problem.Name, err)
	}

	run.result, err = solver.Run()
	if err != nil && !errors.Is(err, reinforcement.ErrNonConvergence) {
		return nil, fmt.Errorf("problem %q: %w", problem.Name, err)
	}
	return run, nil
}

func printProblem(w io.Writer, renderer *grid_world.Renderer, run *solved) {
	fmt.Fprintf(w, "\n%s\n", run.name)
	fmt.Fprintln(w, "rewards")
	fmt.Fprint(w, renderer.Rewards(run.grid))
	fmt.Fprintf(w, "utilities after %d sweeps (%v)\n", run.result.Sweeps, run.result.State)
	fmt.Fprint(w, renderer.Utilities(run.grid, run.result.Utilities))
	fmt.Fprintln(w, "policy")
	fmt.Fprint(w, renderer.Policy(run.grid, run.result.Policy))
}

// runApp solves the selected problems, prints them, and optionally charts and serves them.
func runApp(ctx context.Context, w io.Writer, opts *options) (err error) {
	var cfg *reinforcement.PlanningConfig
	if cfg, err = reinforcement.FromYaml(opts.configPath); err != nil {
		return
	}

	problems := cfg.Problems
	if opts.problem != "" {
		var problem *reinforcement.ProblemConfig
		if problem, err = cfg.Problem(opts.problem); err != nil {
			return
		}
		problems = []reinforcement.ProblemConfig{*problem}
	}

	renderer := grid_world.NewRenderer(opts.color)
	runs := map[string]*solved{}
	var series []plots.Series
	for i := range problems {
		var run *solved
		if run, err = solveProblem(cfg, &problems[i], opts); err != nil {
			return
		}
		printProblem(w, renderer, run)
		runs[run.name] = run
		series = append(series, plots.Series{Name: run.name, Deltas: run.result.Deltas})
	}

	if opts.chartPath != "" {
		if err = plots.SaveConvergenceChart(opts.chartPath, "value iteration convergence", series...); err != nil {
			return
		}
		monitoring.Logf("convergence chart written to %s", opts.chartPath)
	}

	if opts.serve == "" {
		return
	}
	run, ok := runs[opts.serve]
	if !ok {
		return fmt.Errorf("%w: %q was not solved", reinforcement.ErrUnknownProblem, opts.serve)
	}

	var srv *server.Server
	if srv, err = server.NewServer(
		ctx,
		opts.addr,
		run.name,
		run.grid,
		run.result,
		server.Replay(ctx, run.history, replayPeriod, replayHold),
	); err != nil {
		return
	}
	return srv.Serve(ctx)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runApp(ctx, os.Stdout, opts); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
