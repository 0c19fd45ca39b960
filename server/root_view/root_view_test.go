package root_view

import (
	"context"
	"html/template"
	"strings"
	"testing"
	"time"

	"gridmdp/grid_world"
	"gridmdp/reinforcement"
	"gridmdp/server/fastview"

	. "github.com/smartystreets/goconvey/convey"
)

func textUpdate(id, text string) fastview.EleUpdate {
	return fastview.EleUpdate{EleId: id, Ops: []fastview.Op{{Key: "textContent", Value: text}}}
}

func TestBatchify(t *testing.T) {
	Convey("When batching ele-updates", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		source := make(chan []fastview.EleUpdate)
		batches := batchify(ctx.Done(), source, time.Hour)

		Convey("Only the latest update per element survives, in first-seen order", func() {
			source <- []fastview.EleUpdate{textUpdate("a", "1"), textUpdate("b", "1")}
			source <- []fastview.EleUpdate{textUpdate("a", "2")}
			close(source)

			batch := <-batches
			So(batch, ShouldResemble, []fastview.EleUpdate{textUpdate("a", "2"), textUpdate("b", "1")})
			_, ok := <-batches
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Pending batches flush on the tick", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		source := make(chan []fastview.EleUpdate)
		batches := batchify(ctx.Done(), source, time.Millisecond)
		source <- []fastview.EleUpdate{textUpdate("a", "1")}
		So(<-batches, ShouldResemble, []fastview.EleUpdate{textUpdate("a", "1")})
	})
}

func TestRootView(t *testing.T) {
	Convey("When building the root view", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		grid, err := grid_world.Convert([]string{"ooT", "ooo"}, nil, 0.8)
		So(err, ShouldBeNil)
		sweeps := make(chan reinforcement.Sweep)
		rv, err := NewRootView(ctx, "demo", grid, sweeps)
		So(err, ShouldBeNil)

		Convey("The page renders the status line and every cell view", func() {
			t := template.New("index.html")
			name, err := rv.Parse(t)
			So(err, ShouldBeNil)
			_, err = t.Parse(`{{ template "` + name + `" . }}`)
			So(err, ShouldBeNil)

			var sb strings.Builder
			So(t.Execute(&sb, rv.Page()), ShouldBeNil)
			page := sb.String()
			So(page, ShouldContainSubstring, "<h3>demo</h3>")
			So(page, ShouldContainSubstring, `id="sweepstatus-delta"`)
			So(page, ShouldContainSubstring, `id="valuesgrid"`)
			So(page, ShouldContainSubstring, `id="utilitysurface"`)
		})

		Convey("A sweep becomes ele-updates for every view", func() {
			go func() {
				sweeps <- reinforcement.Sweep{
					Index:     7,
					Delta:     0.25,
					Utilities: map[grid_world.State]float64{},
					Policy:    map[grid_world.State]grid_world.Action{},
				}
			}()

			seen := map[string]string{}
			for {
				for _, update := range <-rv.Updates() {
					if len(update.Ops) > 0 {
						seen[update.EleId] = update.Ops[0].Value
					}
				}
				_, hasIndex := seen["sweepstatus-index"]
				_, hasCell := seen["0-0-value-text"]
				_, hasSurface := seen["utilitysurface-group"]
				if hasIndex && hasCell && hasSurface {
					break
				}
			}
			So(seen["sweepstatus-index"], ShouldEqual, "7")
			So(seen["sweepstatus-delta"], ShouldEqual, "0.25")
			So(seen["0-0-value-text"], ShouldEqual, "0.0000")
		})
	})
}
