package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"gridmdp/monitoring"
	"gridmdp/reinforcement"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseFlags(t *testing.T) {
	Convey("When parsing the command line", t, func() {
		Convey("Defaults apply when nothing is passed", func() {
			t.Setenv("GRIDMDP_ADDR", "")
			os.Unsetenv("GRIDMDP_ADDR")
			opts, err := parseFlags(nil)
			So(err, ShouldBeNil)
			So(opts.configPath, ShouldEqual, "./config.yaml")
			So(opts.addr, ShouldEqual, "localhost:8080")
			So(opts.color, ShouldBeTrue)
		})

		Convey("The environment seeds defaults and flags override them", func() {
			t.Setenv("GRIDMDP_ADDR", "0.0.0.0:9000")
			opts, err := parseFlags([]string{"-problem", "hazard", "-workers", "3", "-color=false"})
			So(err, ShouldBeNil)
			So(opts.addr, ShouldEqual, "0.0.0.0:9000")
			So(opts.problem, ShouldEqual, "hazard")
			So(opts.workers, ShouldEqual, 3)
			So(opts.color, ShouldBeFalse)
		})

		Convey("Unknown flags are rejected", func() {
			_, err := parseFlags([]string{"-bogus"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRunApp(t *testing.T) {
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(log.Printf)

	Convey("When running the shipped problems", t, func() {
		opts := &options{configPath: "./config.yaml"}
		var out bytes.Buffer

		Convey("Every problem prints its rewards, utilities and policy", func() {
			So(runApp(context.Background(), &out, opts), ShouldBeNil)
			text := out.String()
			So(text, ShouldContainSubstring, "hazard")
			So(text, ShouldContainSubstring, "short-sighted")
			So(text, ShouldContainSubstring, "(Converged)")
			So(text, ShouldContainSubstring, ">>>")
			So(text, ShouldContainSubstring, "    x   ")
		})

		Convey("A single problem can be selected", func() {
			opts.problem = "exits"
			So(runApp(context.Background(), &out, opts), ShouldBeNil)
			So(out.String(), ShouldNotContainSubstring, "hazard")
			So(out.String(), ShouldContainSubstring, "  0.7954 ")
		})

		Convey("A convergence chart is written on request", func() {
			opts.chartPath = filepath.Join(t.TempDir(), "charts", "convergence.html")
			So(runApp(context.Background(), &out, opts), ShouldBeNil)
			_, err := os.Stat(opts.chartPath)
			So(err, ShouldBeNil)
		})

		Convey("Unknown problems are errors", func() {
			opts.problem = "missing"
			So(errors.Is(runApp(context.Background(), &out, opts), reinforcement.ErrUnknownProblem), ShouldBeTrue)

			opts.problem = ""
			opts.serve = "missing"
			So(errors.Is(runApp(context.Background(), &out, opts), reinforcement.ErrUnknownProblem), ShouldBeTrue)
		})
	})

	Convey("Worker overrides do not change any result", t, func() {
		cfg, err := reinforcement.FromYaml("./config.yaml")
		So(err, ShouldBeNil)
		problem, err := cfg.Problem("walled")
		So(err, ShouldBeNil)

		serial, err := solveProblem(cfg, problem, &options{workers: 1})
		So(err, ShouldBeNil)
		parallel, err := solveProblem(cfg, problem, &options{workers: 5})
		So(err, ShouldBeNil)
		So(cmp.Diff(serial.result, parallel.result), ShouldBeEmpty)
		So(len(serial.history), ShouldEqual, serial.result.Sweeps)
	})
}
