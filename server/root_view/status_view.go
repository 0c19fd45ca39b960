package root_view

import (
	"fmt"
	"html/template"

	"gridmdp/reinforcement"
	"gridmdp/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// SweepStatus shows the index and max delta of the latest sweep.
type SweepStatus struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewSweepStatus(
	done <-chan struct{},
	sweeps <-chan reinforcement.Sweep,
) (ss *SweepStatus) {
	ss = &SweepStatus{id: "sweepstatus"}
	ss.updates = channerics.Convert(done, sweeps, ss.onUpdate)
	return
}

func (ss *SweepStatus) Updates() <-chan []fastview.EleUpdate {
	return ss.updates
}

func (ss *SweepStatus) onUpdate(sweep reinforcement.Sweep) []fastview.EleUpdate {
	return []fastview.EleUpdate{
		{
			EleId: ss.id + "-index",
			Ops:   []fastview.Op{{Key: "textContent", Value: fmt.Sprintf("%d", sweep.Index)}},
		},
		{
			EleId: ss.id + "-delta",
			Ops:   []fastview.Op{{Key: "textContent", Value: fmt.Sprintf("%.6g", sweep.Delta)}},
		},
	}
}

func (ss *SweepStatus) Parse(t *template.Template) (name string, err error) {
	name = ss.id
	_, err = t.Parse(`{{ define "` + name + `" }}
		<p>sweep <span id="` + name + `-index">0</span>, max delta <span id="` + name + `-delta">-</span></p>
		{{ end }}`)
	return
}
