package display

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-rf/rfpm/pkg/bus"
	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
	"github.com/homelab-rf/rfpm/pkg/meter"
)

func testMeter(t *testing.T) (*meter.Meter, *bus.Sim) {
	t.Helper()

	sim := bus.NewSim(0)
	b := bus.New(sim)
	t.Cleanup(func() { b.Close() })

	rec := &cal.Record{
		Identity:      cal.Identity{Type: "A-20DB", Serial: "SN0001"},
		BaseSlope:     40,
		BaseIntercept: -84,
		Frequencies:   []uint16{100, 1000},
	}
	img, err := cal.Marshal(rec)
	require.NoError(t, err)
	sim.PlugSensor(0, img)
	sim.SetVoltage(1, 1.85)

	log := logrus.New()
	log.SetOutput(io.Discard)
	m := meter.New(config.Default(), b, log)
	m.DetectAll()
	return m, sim
}

func TestTake(t *testing.T) {
	m, _ := testMeter(t)

	snap := Take(m)
	require.Len(t, snap.Channels, meter.NumChannels)

	ch1 := snap.Channels[0]
	assert.True(t, ch1.Present)
	assert.Equal(t, "A-20DB", ch1.SensorType)
	assert.Equal(t, 100.0, ch1.Frequency)
	assert.False(t, ch1.Valid) // no sample taken yet

	require.NoError(t, m.TriggerReading(1))
	ch1 = Take(m).Channels[0]
	assert.True(t, ch1.Valid)
	assert.InDelta(t, -10.0, ch1.Power, 0.01)

	assert.False(t, snap.Channels[1].Present)
}

func TestConsoleRender(t *testing.T) {
	m, _ := testMeter(t)
	require.NoError(t, m.TriggerReading(1))

	var buf bytes.Buffer
	Console{Out: &buf}.Render(Take(m))

	out := buf.String()
	assert.Contains(t, out, "CH1: A-20DB @ 100 MHz  -10.000 DBM")
	assert.Contains(t, out, "CH2: no sensor")
}

func TestRefreshTask(t *testing.T) {
	m, _ := testMeter(t)

	var buf bytes.Buffer
	task := RefreshTask(m, Console{Out: &buf})
	task()
	assert.NotEmpty(t, buf.String())
}
