// Package cal holds the sensor calibration model: the EEPROM-backed
// calibration record, the byte codec for the sensor module EEPROM, and the
// voltage-to-power conversion engine.
package cal

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"
)

const (
	// MaxTypeLen is the fixed width of the sensor type field on the EEPROM.
	MaxTypeLen = 8
	// MaxSerialLen is the fixed width of the serial number field.
	MaxSerialLen = 12
	// MaxPoints is the maximum number of calibration points per sensor.
	MaxPoints = 16
)

// Identity identifies a sensor module independent of which physical channel
// it occupies. Immutable once read from EEPROM.
type Identity struct {
	Type   string // e.g. "AD8307", at most 8 bytes
	Serial string // at most 12 bytes
}

// Point is a per-frequency correction on top of the base linear model.
type Point struct {
	Frequency uint16  // MHz
	Offset    float32 // dB
	Slope     float32 // multiplier on the base linear term, 1.0 = no correction
}

// Record is a sensor's full calibration: identity, the fallback linear
// model, the catalog of valid calibration frequencies, and the stored
// per-frequency corrections. Points are kept sorted ascending by frequency
// with no duplicates.
type Record struct {
	Identity      Identity
	BaseSlope     float32 // dB per volt
	BaseIntercept float32 // dBm at zero volts
	Frequencies   []uint16
	Points        []Point
}

// Validate checks the record against the EEPROM field limits and the
// sorted-unique point invariant.
func (r *Record) Validate() error {
	if len(r.Identity.Type) > MaxTypeLen {
		return fmt.Errorf("sensor type %q exceeds %d bytes", r.Identity.Type, MaxTypeLen)
	}
	if len(r.Identity.Serial) > MaxSerialLen {
		return fmt.Errorf("serial %q exceeds %d bytes", r.Identity.Serial, MaxSerialLen)
	}
	if math32.IsNaN(r.BaseSlope) || math32.IsInf(r.BaseSlope, 0) {
		return fmt.Errorf("base slope is not finite")
	}
	if math32.IsNaN(r.BaseIntercept) || math32.IsInf(r.BaseIntercept, 0) {
		return fmt.Errorf("base intercept is not finite")
	}
	if len(r.Frequencies) > MaxPoints {
		return fmt.Errorf("frequency catalog has %d entries, max %d", len(r.Frequencies), MaxPoints)
	}
	if len(r.Points) > MaxPoints {
		return fmt.Errorf("record has %d calibration points, max %d", len(r.Points), MaxPoints)
	}
	for i := 1; i < len(r.Points); i++ {
		if r.Points[i].Frequency == r.Points[i-1].Frequency {
			return fmt.Errorf("duplicate calibration frequency %d MHz", r.Points[i].Frequency)
		}
		if r.Points[i].Frequency < r.Points[i-1].Frequency {
			return fmt.Errorf("calibration points not sorted at %d MHz", r.Points[i].Frequency)
		}
	}
	return nil
}

// SetPoint installs or updates the correction at the given frequency,
// keeping points sorted. Inserting beyond MaxPoints fails.
func (r *Record) SetPoint(freq uint16, offset, slope float32) error {
	i := sort.Search(len(r.Points), func(i int) bool { return r.Points[i].Frequency >= freq })
	if i < len(r.Points) && r.Points[i].Frequency == freq {
		r.Points[i].Offset = offset
		r.Points[i].Slope = slope
		return nil
	}
	if len(r.Points) >= MaxPoints {
		return fmt.Errorf("calibration table full (%d points)", MaxPoints)
	}
	r.Points = append(r.Points, Point{})
	copy(r.Points[i+1:], r.Points[i:])
	r.Points[i] = Point{Frequency: freq, Offset: offset, Slope: slope}
	return nil
}

// PointAt returns the stored correction at an exact frequency, or the
// neutral correction when none is stored.
func (r *Record) PointAt(freq uint16) Point {
	i := sort.Search(len(r.Points), func(i int) bool { return r.Points[i].Frequency >= freq })
	if i < len(r.Points) && r.Points[i].Frequency == freq {
		return r.Points[i]
	}
	return Point{Frequency: freq, Offset: 0, Slope: 1}
}

// ClearPoints resets all per-frequency corrections to the neutral state.
func (r *Record) ClearPoints() {
	r.Points = r.Points[:0]
}

// LowestFrequency returns the lowest catalog frequency, or 0 when the
// catalog is empty.
func (r *Record) LowestFrequency() uint16 {
	if len(r.Frequencies) == 0 {
		return 0
	}
	return r.Frequencies[0]
}

// IsNeutral reports whether a point carries no effective correction.
func (p Point) IsNeutral() bool {
	return math32.Abs(p.Offset) < 1e-3 && math32.Abs(p.Slope-1) < 1e-3
}
