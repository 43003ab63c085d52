package meter

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-rf/rfpm/pkg/bus"
	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
)

func testRecord() *cal.Record {
	return &cal.Record{
		Identity:      cal.Identity{Type: "A-20DB", Serial: "SN0001"},
		BaseSlope:     40,
		BaseIntercept: -84,
		Frequencies:   []uint16{100, 500, 1000},
	}
}

func newTestMeter(t *testing.T) (*Meter, *bus.Sim) {
	t.Helper()

	sim := bus.NewSim(0)
	b := bus.New(sim)
	t.Cleanup(func() { b.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.Measurement.DetectEvery = 2
	return New(cfg, b, log), sim
}

func plug(t *testing.T, sim *bus.Sim, branch int, rec *cal.Record) {
	t.Helper()
	img, err := cal.Marshal(rec)
	require.NoError(t, err)
	sim.PlugSensor(branch, img)
}

func TestDetectInstallsSensor(t *testing.T) {
	m, sim := newTestMeter(t)

	m.DetectAll()
	assert.False(t, m.Channel(1).Present())
	assert.False(t, m.Channel(2).Present())

	plug(t, sim, 0, testRecord())
	m.DetectAll()

	ch := m.Channel(1)
	assert.True(t, ch.Present())
	assert.Equal(t, "A-20DB", ch.SensorType())
	assert.Equal(t, 100.0, ch.Frequency())
	assert.False(t, m.Channel(2).Present())
}

func TestDetectRemovesSensor(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()
	require.True(t, m.Channel(1).Present())

	sim.UnplugSensor(0)
	m.DetectAll()
	assert.False(t, m.Channel(1).Present())
	assert.Equal(t, "", m.Channel(1).SensorType())
}

func TestDetectKeepsSettingsOnStableSensor(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()

	ch := m.Channel(1)
	ch.SetFrequency(500)
	ch.SetAttenuator(20)

	// Repeat detection of an unchanged sensor must not reconfigure.
	m.DetectAll()
	assert.Equal(t, 500.0, ch.Frequency())
	assert.Equal(t, 20.0, ch.Attenuator())
}

func TestDetectRejectsBlankChip(t *testing.T) {
	m, sim := newTestMeter(t)
	sim.PlugSensor(0, nil) // factory-fresh EEPROM, all 0xFF
	m.DetectAll()
	assert.False(t, m.Channel(1).Present())
}

func TestDetectRejectsCorruptRecord(t *testing.T) {
	m, sim := newTestMeter(t)

	img, err := cal.Marshal(testRecord())
	require.NoError(t, err)
	img[4] = 99 // unsupported layout version
	sim.PlugSensor(0, img)

	m.DetectAll()
	assert.False(t, m.Channel(1).Present())
}

func TestCorruptRecordWarnsOncePerPlug(t *testing.T) {
	m, sim := newTestMeter(t)
	hook := logtest.NewLocal(m.log)

	img, err := cal.Marshal(testRecord())
	require.NoError(t, err)
	img[4] = 99
	sim.PlugSensor(0, img)

	// A corrupt sensor left plugged in must not warn on every tick.
	for i := 0; i < 5; i++ {
		m.DetectAll()
	}
	assert.Len(t, warnings(hook), 1)

	// Swapping it for a good sensor and back re-arms the warning.
	plug(t, sim, 0, testRecord())
	m.DetectAll()
	sim.PlugSensor(0, img)
	m.DetectAll()
	assert.Len(t, warnings(hook), 2)
}

func warnings(hook *logtest.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestSampleFeedsAveraging(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	sim.SetVoltage(1, 1.85)
	m.DetectAll()

	for i := 0; i < 4; i++ {
		m.Sample()
	}

	dbm, ok := m.Channel(1).PowerDBm()
	require.True(t, ok)
	assert.InDelta(t, -10.0, dbm, 0.01)
}

func TestSampleDetectCadence(t *testing.T) {
	m, sim := newTestMeter(t)

	// DetectEvery is 2: the first tick detects, the second does not.
	plug(t, sim, 0, testRecord())
	m.Sample()
	require.True(t, m.Channel(1).Present())

	// Unplugging is only noticed on a detect tick; the ADC keeps reading.
	sim.UnplugSensor(0)
	m.Sample()
	assert.True(t, m.Channel(1).Present())

	m.Sample() // detect tick notices the removal
	assert.False(t, m.Channel(1).Present())
}

func TestBusTimeoutDetachesChannel(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()
	require.True(t, m.Channel(1).Present())

	sim.SetADCFailing(1, true)
	m.Sample()
	assert.False(t, m.Channel(1).Present())
}

func TestTriggerReading(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	sim.SetVoltage(1, 1.85)
	m.DetectAll()

	require.NoError(t, m.TriggerReading(1))
	_, ok := m.Channel(1).PowerDBm()
	assert.True(t, ok)

	err := m.TriggerReading(2)
	assert.True(t, ErrNoSensor(err))
}

func TestTriggerReadingTimeoutDetaches(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()
	require.True(t, m.Channel(1).Present())

	// A failed on-demand read detaches the channel like a sampling tick.
	sim.SetADCFailing(1, true)
	assert.Error(t, m.TriggerReading(1))
	assert.False(t, m.Channel(1).Present())

	// Detection brings it back once the bus recovers.
	sim.SetADCFailing(1, false)
	m.DetectAll()
	assert.True(t, m.Channel(1).Present())
}

func TestResetPreservesCalibration(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()

	ch := m.Channel(1)
	ch.SetFrequency(500)
	require.NoError(t, ch.SetCalOffset(0.5))
	ch.SetAttenuator(30)
	ch.SetUnit(cal.UnitMW)

	m.Reset()

	assert.Equal(t, 0.0, ch.Attenuator())
	assert.Equal(t, cal.UnitDBm, ch.Unit())
	assert.Equal(t, 100.0, ch.Frequency())

	ch.SetFrequency(500)
	assert.InDelta(t, 0.5, ch.CalOffset(), 1e-6)
}

func TestSaveCalibration(t *testing.T) {
	m, sim := newTestMeter(t)
	plug(t, sim, 0, testRecord())
	m.DetectAll()

	ch := m.Channel(1)
	ch.SetFrequency(500)
	require.NoError(t, ch.SetCalOffset(0.25))
	require.NoError(t, m.SaveCalibration(1))

	rec, err := cal.Unmarshal(sim.EEPROMImage(0))
	require.NoError(t, err)
	require.Len(t, rec.Points, 1)
	assert.InDelta(t, 0.25, float64(rec.Points[0].Offset), 1e-6)

	err = m.SaveCalibration(2)
	assert.True(t, ErrNoSensor(err))
}
