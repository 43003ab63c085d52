// Package display builds periodic readout snapshots of both channels and
// hands them to a pluggable renderer. The instrument itself renders to the
// console; tests and headless deployments substitute their own renderer.
package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/meter"
)

// ChannelView is one channel's readout state at snapshot time.
type ChannelView struct {
	Index      int
	Present    bool
	SensorType string
	Frequency  float64 // MHz
	Power      float64
	Unit       cal.Unit
	Valid      bool // false while no reading exists
}

// Snapshot is one display refresh worth of instrument state.
type Snapshot struct {
	Channels []ChannelView
}

// Renderer consumes display snapshots.
type Renderer interface {
	Render(Snapshot)
}

// Take captures the current readout of every channel.
func Take(m *meter.Meter) Snapshot {
	var snap Snapshot
	for _, ch := range m.Channels() {
		view := ChannelView{
			Index:      ch.Index(),
			Present:    ch.Present(),
			SensorType: ch.SensorType(),
			Frequency:  ch.Frequency(),
			Unit:       ch.Unit(),
		}
		if view.Present {
			view.Power, _, view.Valid = ch.Power()
		}
		snap.Channels = append(snap.Channels, view)
	}
	return snap
}

// RefreshTask returns the periodic display job for the scheduler.
func RefreshTask(m *meter.Meter, r Renderer) func() {
	return func() {
		r.Render(Take(m))
	}
}

// Console renders snapshots as single-line readouts.
type Console struct {
	Out io.Writer
}

func (c Console) Render(s Snapshot) {
	var parts []string
	for _, ch := range s.Channels {
		switch {
		case !ch.Present:
			parts = append(parts, fmt.Sprintf("CH%d: no sensor", ch.Index))
		case !ch.Valid:
			parts = append(parts, fmt.Sprintf("CH%d: %s @ %.0f MHz  ----", ch.Index, ch.SensorType, ch.Frequency))
		default:
			parts = append(parts, fmt.Sprintf("CH%d: %s @ %.0f MHz  %.3f %s",
				ch.Index, ch.SensorType, ch.Frequency, ch.Power, ch.Unit))
		}
	}
	fmt.Fprintf(c.Out, "%s\n", strings.Join(parts, "  |  "))
}
