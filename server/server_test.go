package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridmdp/grid_world"
	"gridmdp/reinforcement"
	"gridmdp/server/fastview"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

func solveExits() (*grid_world.Grid, *reinforcement.Result, []reinforcement.Sweep) {
	grid, err := grid_world.Convert([]string{
		"ooo",
		"oTT",
	}, [][]float64{
		{-0.04, -0.04, -0.04},
		{-0.04, -1, 1},
	}, 0.8)
	if err != nil {
		panic(err)
	}

	var history []reinforcement.Sweep
	solver, err := reinforcement.NewSolver(grid, reinforcement.Config{
		DiscountFactor:       0.9,
		ConvergenceThreshold: 1e-4,
		MaxIterations:        1000,
	}, reinforcement.WithProgress(func(sweep reinforcement.Sweep) {
		history = append(history, sweep)
	}))
	if err != nil {
		panic(err)
	}
	result, err := solver.Run()
	if err != nil {
		panic(err)
	}
	return grid, result, history
}

func TestReplay(t *testing.T) {
	Convey("When replaying sweeps", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		history := []reinforcement.Sweep{{Index: 1}, {Index: 2}}
		sweeps := Replay(ctx, history, time.Millisecond, 2)

		Convey("They arrive in order and start over after the last", func() {
			var indices []int
			for i := 0; i < 5; i++ {
				indices = append(indices, (<-sweeps).Index)
			}
			So(indices, ShouldResemble, []int{1, 2, 1, 2, 1})
		})

		Convey("Cancellation closes the channel", func() {
			cancel()
			for range sweeps {
			}
			So(ctx.Err(), ShouldNotBeNil)
		})
	})

	Convey("An empty history closes immediately", t, func() {
		_, ok := <-Replay(context.Background(), nil, time.Millisecond, 1)
		So(ok, ShouldBeFalse)
	})
}

func TestServer(t *testing.T) {
	Convey("When serving a solved problem", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		grid, result, history := solveExits()
		srv, err := NewServer(ctx, "localhost:0", "exits", grid, result, Replay(ctx, history, time.Millisecond, 10))
		So(err, ShouldBeNil)

		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		Convey("The index page carries every view", func() {
			resp, err := http.Get(ts.URL + "/")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			page := string(body)
			So(page, ShouldContainSubstring, "<title>exits</title>")
			So(page, ShouldContainSubstring, `id="valuesgrid"`)
			So(page, ShouldContainSubstring, `id="utilitysurface"`)
			So(page, ShouldContainSubstring, `id="sweepstatus-index"`)
			So(page, ShouldContainSubstring, `id="2-0-value-text"`)
		})

		Convey("The summary reports the final utilities and policy", func() {
			resp, err := http.Get(ts.URL + "/api/summary")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			var summary Summary
			So(json.NewDecoder(resp.Body).Decode(&summary), ShouldBeNil)
			So(summary.Problem, ShouldEqual, "exits")
			So(summary.Converged, ShouldBeTrue)
			So(summary.Sweeps, ShouldEqual, result.Sweeps)
			So(summary.RunID, ShouldNotBeEmpty)
			So(summary.Cells, ShouldHaveLength, 6)
			So(summary.Cells[2], ShouldResemble, CellValue{
				Row:     0,
				Col:     2,
				Utility: result.Utilities[grid_world.State{Row: 0, Col: 2}],
				Action:  "DOWN",
			})
			// Terminals have no action.
			So(summary.Cells[5].Action, ShouldBeEmpty)
		})

		Convey("Unknown routes and methods are rejected", func() {
			resp, err := http.Get(ts.URL + "/nope")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)

			resp, err = http.Post(ts.URL+"/api/summary", "application/json", strings.NewReader("{}"))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("Sweeps are pushed over the websocket", func() {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			So(conn.SetReadDeadline(time.Now().Add(5*time.Second)), ShouldBeNil)
			var updates []fastview.EleUpdate
			So(conn.ReadJSON(&updates), ShouldBeNil)
			So(updates, ShouldNotBeEmpty)
		})
	})
}
