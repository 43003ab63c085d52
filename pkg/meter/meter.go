// Package meter owns the per-channel instrument state and the periodic
// measurement task: ADC sampling, averaging, calibration lookup, and
// edge-triggered sensor hot-swap detection.
package meter

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/homelab-rf/rfpm/pkg/bus"
	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
	"github.com/homelab-rf/rfpm/pkg/monitor"
)

// NumChannels is the number of physical measurement channels.
const NumChannels = 2

var errNoSensor = errors.New("no sensor detected")

// ErrNoSensor reports whether an error means the channel has no sensor.
func ErrNoSensor(err error) bool {
	return errors.Is(err, errNoSensor)
}

// Meter is the dual-channel power meter. The scheduler drives Sample on a
// fixed cadence; SCPI sessions read and reconfigure channels concurrently.
type Meter struct {
	log      *logrus.Logger
	bus      *bus.Bus
	channels [NumChannels]*Channel
	stores   [NumChannels]*cal.Store

	detectEvery int
	tick        int

	// per-channel corrupt-record edge so the warning fires once per plug
	corrupt [NumChannels]bool
}

// New creates the meter with one channel per physical socket. Channel n
// (1-based) reads ADC channel n and reaches its sensor EEPROM through
// multiplexer branch n-1.
func New(cfg *config.Config, b *bus.Bus, log *logrus.Logger) *Meter {
	m := &Meter{
		log:         log,
		bus:         b,
		detectEvery: cfg.Measurement.DetectEvery,
	}
	if m.detectEvery < 1 {
		m.detectEvery = 1
	}
	for i := 0; i < NumChannels; i++ {
		m.channels[i] = newChannel(i+1, cfg.Measurement.DefaultAverage)
		m.stores[i] = cal.NewStore(b, i)
	}
	return m
}

// Channel returns the channel with the given 1-based number, or nil.
func (m *Meter) Channel(n int) *Channel {
	if n < 1 || n > NumChannels {
		return nil
	}
	return m.channels[n-1]
}

// Channels returns all channels in order.
func (m *Meter) Channels() []*Channel {
	return m.channels[:]
}

// DetectAll probes every channel's sensor EEPROM once. Called at startup
// before the sampling task takes over.
func (m *Meter) DetectAll() {
	for i := range m.channels {
		m.detect(i)
	}
}

// Sample runs one measurement tick: periodic hot-swap detection followed
// by an ADC read per present channel. A bus timeout marks the channel
// absent for the tick instead of stalling the scheduler.
func (m *Meter) Sample() {
	detect := m.tick%m.detectEvery == 0
	m.tick++

	for i, ch := range m.channels {
		if detect {
			m.detect(i)
		}
		if !ch.Present() {
			continue
		}
		if err := m.readOnce(i); err != nil {
			monitor.BusTimeouts.Inc()
			m.log.Warnf("channel %d: ADC read failed: %v", ch.Index(), err)
			ch.remove()
		}
	}
	monitor.SampleTicks.Inc()
}

// TriggerReading performs one immediate ADC read on a channel, outside the
// periodic cadence (MEASure command form).
func (m *Meter) TriggerReading(n int) error {
	ch := m.Channel(n)
	if ch == nil || !ch.Present() {
		return errNoSensor
	}
	if err := m.readOnce(n - 1); err != nil {
		// Same policy as the sampling tick: a failed read means the
		// sensor is gone until detection sees it again.
		monitor.BusTimeouts.Inc()
		m.log.Warnf("channel %d: ADC read failed: %v", ch.Index(), err)
		ch.remove()
		return err
	}
	return nil
}

func (m *Meter) readOnce(i int) error {
	raw, err := m.bus.ReadADC(i + 1)
	if err != nil {
		return err
	}
	m.channels[i].addSample(bus.Volts(raw))
	return nil
}

// detect probes channel i's EEPROM and acts only on presence transitions:
// a newly readable record is installed (restarting averaging), a vanished
// or corrupt one detaches the channel. Repeat states are ignored so a
// stable sensor is not reconfigured every tick.
func (m *Meter) detect(i int) {
	ch := m.channels[i]
	record, err := m.stores[i].Load()

	switch {
	case err == nil:
		m.corrupt[i] = false
		if !ch.Present() {
			ch.install(record)
			monitor.HotSwapEvents.Inc()
			m.log.Infof("channel %d: sensor %s (S/N %s) attached",
				ch.Index(), record.Identity.Type, record.Identity.Serial)
		}
	case errors.Is(err, cal.ErrCorrupt):
		if ch.Present() {
			ch.remove()
			monitor.HotSwapEvents.Inc()
		}
		if !m.corrupt[i] {
			m.corrupt[i] = true
			m.log.Warnf("channel %d: calibration record corrupt, channel uncalibrated: %v", ch.Index(), err)
		}
	default:
		m.corrupt[i] = false
		if ch.Present() {
			ch.remove()
			monitor.HotSwapEvents.Inc()
			m.log.Infof("channel %d: sensor removed", ch.Index())
		}
	}
}

// SaveCalibration writes the channel's in-memory record back to the sensor
// EEPROM.
func (m *Meter) SaveCalibration(n int) error {
	ch := m.Channel(n)
	if ch == nil {
		return errNoSensor
	}
	record := ch.RecordCopy()
	if record == nil {
		return errNoSensor
	}
	return m.stores[n-1].Save(record)
}

// Reset applies *RST defaults to every channel without touching
// calibration data.
func (m *Meter) Reset() {
	for _, ch := range m.channels {
		ch.reset()
	}
}
