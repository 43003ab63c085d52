package cal

import (
	"math"
	"sort"
)

// Unit is a power display unit.
type Unit string

const (
	UnitDBm Unit = "DBM"
	UnitDBW Unit = "DBW"
	UnitMW  Unit = "MW"
	UnitW   Unit = "W"
)

// ParseUnit validates a unit argument as received over SCPI.
func ParseUnit(s string) (Unit, bool) {
	switch Unit(s) {
	case UnitDBm, UnitDBW, UnitMW, UnitW:
		return Unit(s), true
	}
	return "", false
}

// VoltageToPower converts a detector voltage to power in dBm using the
// record's base linear model and the frequency correction, then adds the
// external attenuator value.
//
// The per-frequency slope multiplies the whole base linear term and the
// offset is additive:
//
//	power = slope(f)*(baseSlope*V + baseIntercept) + offset(f) + attenuator
func VoltageToPower(r *Record, freqMHz float64, attenuator float64, voltage float64) float64 {
	base := float64(r.BaseSlope)*voltage + float64(r.BaseIntercept)
	offset, slope := CorrectionAt(r, freqMHz)
	return slope*base + offset + attenuator
}

// CorrectionAt returns the (offset, slope) correction pair for a frequency.
// With no stored points the correction is neutral. Outside the stored range
// the nearest boundary point applies unchanged; between two points both
// coefficients are interpolated linearly and independently.
func CorrectionAt(r *Record, freqMHz float64) (offset, slope float64) {
	pts := r.Points
	if len(pts) == 0 {
		return 0, 1
	}
	if freqMHz <= float64(pts[0].Frequency) {
		return float64(pts[0].Offset), float64(pts[0].Slope)
	}
	last := pts[len(pts)-1]
	if freqMHz >= float64(last.Frequency) {
		return float64(last.Offset), float64(last.Slope)
	}

	i := sort.Search(len(pts), func(i int) bool { return float64(pts[i].Frequency) >= freqMHz })
	lo, hi := pts[i-1], pts[i]
	t := (freqMHz - float64(lo.Frequency)) / (float64(hi.Frequency) - float64(lo.Frequency))
	offset = float64(lo.Offset) + t*(float64(hi.Offset)-float64(lo.Offset))
	slope = float64(lo.Slope) + t*(float64(hi.Slope)-float64(lo.Slope))
	return offset, slope
}

// Convert expresses a dBm value in the given unit.
func Convert(dbm float64, unit Unit) float64 {
	switch unit {
	case UnitDBW:
		return dbm - 30.0
	case UnitMW:
		return math.Pow(10, dbm/10.0)
	case UnitW:
		return math.Pow(10, dbm/10.0) / 1000.0
	default:
		return dbm
	}
}

// Averager is a ring buffer of the last N raw voltage samples. The reported
// voltage is the arithmetic mean of the buffer. Changing N discards the
// history, so callers create a fresh Averager instead of resizing.
type Averager struct {
	buf   []float64
	count int
	next  int
}

// NewAverager creates an averager with a window of n samples, clamped to
// the valid 1-256 range.
func NewAverager(n int) *Averager {
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return &Averager{buf: make([]float64, n)}
}

// Size returns the averaging window size.
func (a *Averager) Size() int {
	return len(a.buf)
}

// Add pushes a sample into the window, evicting the oldest when full.
func (a *Averager) Add(v float64) {
	a.buf[a.next] = v
	a.next = (a.next + 1) % len(a.buf)
	if a.count < len(a.buf) {
		a.count++
	}
}

// Mean returns the arithmetic mean of the buffered samples, or 0 when the
// buffer is empty.
func (a *Averager) Mean() float64 {
	if a.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < a.count; i++ {
		sum += a.buf[i]
	}
	return sum / float64(a.count)
}

// Reset discards the sample history.
func (a *Averager) Reset() {
	a.count = 0
	a.next = 0
}
