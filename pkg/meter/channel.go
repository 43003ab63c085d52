package meter

import (
	"math"
	"sync"

	"github.com/homelab-rf/rfpm/pkg/cal"
)

// Channel is one physical measurement channel. It exists for the process
// lifetime; the attached calibration record is swapped in and out as
// sensors are hot-plugged. The sampling task writes readings and session
// tasks read and reconfigure, so every access goes through the mutex.
type Channel struct {
	mu    sync.RWMutex
	index int // 1 or 2

	record  *cal.Record
	present bool

	frequency  float64 // MHz
	attenuator float64 // dB
	unit       cal.Unit
	avg        *cal.Averager

	voltage    float64 // mean of the averaging window
	powerDBm   float64 // excludes attenuator; applied at query time
	hasReading bool

	defaultAverage int
}

func newChannel(index, defaultAverage int) *Channel {
	return &Channel{
		index:          index,
		unit:           cal.UnitDBm,
		avg:            cal.NewAverager(defaultAverage),
		defaultAverage: defaultAverage,
	}
}

// Index returns the channel number (1 or 2).
func (c *Channel) Index() int {
	return c.index
}

// Present reports whether a sensor with a valid calibration record is
// currently attached.
func (c *Channel) Present() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.present
}

// SensorType returns the attached sensor's type string, or "" when absent.
func (c *Channel) SensorType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return ""
	}
	return c.record.Identity.Type
}

// SensorSerial returns the attached sensor's serial number, or "".
func (c *Channel) SensorSerial() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return ""
	}
	return c.record.Identity.Serial
}

// Frequency returns the operating frequency in MHz.
func (c *Channel) Frequency() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frequency
}

// SetFrequency sets the operating frequency in MHz.
func (c *Channel) SetFrequency(mhz float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frequency = mhz
}

// Catalog returns the sensor's calibration frequency catalog in MHz.
func (c *Channel) Catalog() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return nil
	}
	return append([]uint16(nil), c.record.Frequencies...)
}

// Attenuator returns the external attenuator value in dB.
func (c *Channel) Attenuator() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attenuator
}

// SetAttenuator sets the external attenuator value in dB. The value is
// added to measured power so the reading reflects the attenuator input.
func (c *Channel) SetAttenuator(db float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attenuator = db
}

// Unit returns the display unit.
func (c *Channel) Unit() cal.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unit
}

// SetUnit sets the display unit.
func (c *Channel) SetUnit(u cal.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unit = u
}

// Averaging returns the averaging window size.
func (c *Channel) Averaging() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avg.Size()
}

// SetAveraging changes the averaging window size, discarding the sample
// history so averaging restarts cleanly.
func (c *Channel) SetAveraging(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avg = cal.NewAverager(n)
	c.hasReading = false
}

// Voltage returns the averaged detector voltage. ok is false while no
// valid reading exists (sensor absent or averaging restarted).
func (c *Channel) Voltage() (v float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voltage, c.hasReading && c.present
}

// PowerDBm returns the measured power in dBm including the attenuator.
func (c *Channel) PowerDBm() (dbm float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasReading || !c.present {
		return 0, false
	}
	return c.powerDBm + c.attenuator, true
}

// Power returns the measured power converted to the channel's display
// unit, including the attenuator.
func (c *Channel) Power() (value float64, unit cal.Unit, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasReading || !c.present {
		return 0, c.unit, false
	}
	return cal.Convert(c.powerDBm+c.attenuator, c.unit), c.unit, true
}

// CalOffset returns the effective calibration offset at the operating
// frequency (interpolated between stored points).
func (c *Channel) CalOffset() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return 0
	}
	offset, _ := cal.CorrectionAt(c.record, c.frequency)
	return offset
}

// CalSlope returns the effective calibration slope at the operating
// frequency.
func (c *Channel) CalSlope() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return 1
	}
	_, slope := cal.CorrectionAt(c.record, c.frequency)
	return slope
}

// SetCalOffset stores a calibration offset at the operating frequency,
// inserting a new point when none exists there.
func (c *Channel) SetCalOffset(offset float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return errNoSensor
	}
	f := uint16(math.Round(c.frequency))
	p := c.record.PointAt(f)
	return c.record.SetPoint(f, float32(offset), p.Slope)
}

// SetCalSlope stores a calibration slope at the operating frequency.
func (c *Channel) SetCalSlope(slope float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return errNoSensor
	}
	f := uint16(math.Round(c.frequency))
	p := c.record.PointAt(f)
	return c.record.SetPoint(f, p.Offset, float32(slope))
}

// RestoreCalibration clears all per-frequency corrections in memory. The
// EEPROM copy is untouched until the next explicit save.
func (c *Channel) RestoreCalibration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return errNoSensor
	}
	c.record.ClearPoints()
	return nil
}

// RecordCopy returns a deep copy of the attached record for serialization,
// or nil when no sensor is attached.
func (c *Channel) RecordCopy() *cal.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.record == nil {
		return nil
	}
	cp := *c.record
	cp.Frequencies = append([]uint16(nil), c.record.Frequencies...)
	cp.Points = append([]cal.Point(nil), c.record.Points...)
	return &cp
}

// reset applies the *RST defaults: attenuator, unit and averaging return
// to power-on values and the frequency snaps to the lowest catalog entry.
// Calibration data is untouched.
func (c *Channel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attenuator = 0
	c.unit = cal.UnitDBm
	c.avg = cal.NewAverager(c.defaultAverage)
	c.hasReading = false
	if c.record != nil {
		c.frequency = float64(c.record.LowestFrequency())
	}
}

// install attaches a freshly loaded record: presence goes true, averaging
// restarts, and the frequency snaps to the lowest catalog entry.
// Attenuator, unit and averaging depth are channel-local and survive.
func (c *Channel) install(r *cal.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = r
	c.present = true
	c.frequency = float64(r.LowestFrequency())
	c.avg.Reset()
	c.hasReading = false
}

// remove detaches the record on sensor removal or bus loss.
func (c *Channel) remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = nil
	c.present = false
	c.hasReading = false
	c.avg.Reset()
}

// addSample feeds one raw voltage sample through averaging and the
// calibration engine.
func (c *Channel) addSample(voltage float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return
	}
	c.avg.Add(voltage)
	c.voltage = c.avg.Mean()
	c.powerDBm = cal.VoltageToPower(c.record, c.frequency, 0, c.voltage)
	c.hasReading = true
}
