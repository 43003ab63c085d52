package cal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearRecord() *Record {
	// 40 dB/V slope, -84 dBm intercept: 1.85 V reads -10 dBm.
	return &Record{
		Identity:      Identity{Type: "AD8307", Serial: "SN-1"},
		BaseSlope:     40.0,
		BaseIntercept: -84.0,
		Frequencies:   []uint16{10, 100, 1000},
	}
}

func TestVoltageToPower_BaseModel(t *testing.T) {
	r := linearRecord()
	assert.InDelta(t, -10.0, VoltageToPower(r, 100, 0, 1.85), 1e-9)
	assert.InDelta(t, -84.0, VoltageToPower(r, 100, 0, 0), 1e-9)
}

func TestVoltageToPower_AttenuatorAddsExactly(t *testing.T) {
	r := linearRecord()
	require.NoError(t, r.SetPoint(100, 0.5, 1.02))

	for _, v := range []float64{0, 0.3, 1.85, 2.5} {
		for _, atten := range []float64{0, 3, 40, -6.5} {
			base := VoltageToPower(r, 150, 0, v)
			withAtten := VoltageToPower(r, 150, atten, v)
			assert.InDelta(t, atten, withAtten-base, 1e-9)
		}
	}
}

func TestCorrectionAt_ClampsOutsideTable(t *testing.T) {
	r := linearRecord()
	require.NoError(t, r.SetPoint(100, 1.0, 1.05))
	require.NoError(t, r.SetPoint(500, 3.0, 0.95))

	// Below the lowest point: the boundary entry applies, no extrapolation.
	off, slope := CorrectionAt(r, 10)
	assert.InDelta(t, 1.0, off, 1e-6)
	assert.InDelta(t, 1.05, slope, 1e-6)

	off, slope = CorrectionAt(r, 2000)
	assert.InDelta(t, 3.0, off, 1e-6)
	assert.InDelta(t, 0.95, slope, 1e-6)
}

func TestCorrectionAt_InterpolatesBetweenPoints(t *testing.T) {
	r := linearRecord()
	require.NoError(t, r.SetPoint(100, 1.0, 1.00))
	require.NoError(t, r.SetPoint(500, 3.0, 0.90))

	// Exact at the endpoints.
	off, _ := CorrectionAt(r, 100)
	assert.InDelta(t, 1.0, off, 1e-6)
	off, _ = CorrectionAt(r, 500)
	assert.InDelta(t, 3.0, off, 1e-6)

	// Midpoint.
	off, slope := CorrectionAt(r, 300)
	assert.InDelta(t, 2.0, off, 1e-6)
	assert.InDelta(t, 0.95, slope, 1e-6)

	// Strictly between two points the offset stays within their bounds.
	for f := 101.0; f < 500; f += 7.3 {
		off, _ := CorrectionAt(r, f)
		assert.GreaterOrEqual(t, off, 1.0)
		assert.LessOrEqual(t, off, 3.0)
	}
}

func TestCorrectionAt_NoPointsIsNeutral(t *testing.T) {
	r := linearRecord()
	off, slope := CorrectionAt(r, 123)
	assert.Equal(t, 0.0, off)
	assert.Equal(t, 1.0, slope)
}

func TestConvert(t *testing.T) {
	assert.InDelta(t, 0.0, Convert(30, UnitDBW), 1e-9)
	assert.InDelta(t, 1000.0, Convert(30, UnitMW), 1e-6)
	assert.InDelta(t, 1.0, Convert(30, UnitW), 1e-9)
	assert.InDelta(t, -10.0, Convert(-10, UnitDBm), 1e-9)
	assert.InDelta(t, 0.1, Convert(-10, UnitMW), 1e-9)
}

func TestParseUnit(t *testing.T) {
	for _, s := range []string{"DBM", "DBW", "MW", "W"} {
		u, ok := ParseUnit(s)
		assert.True(t, ok)
		assert.Equal(t, Unit(s), u)
	}
	_, ok := ParseUnit("DBUV")
	assert.False(t, ok)
}

func TestAverager_WindowOfOneIsInstantaneous(t *testing.T) {
	a := NewAverager(1)
	for _, v := range []float64{0.5, 1.7, -0.2} {
		a.Add(v)
		assert.Equal(t, v, a.Mean())
	}
}

func TestAverager_MeanOverWindow(t *testing.T) {
	a := NewAverager(4)
	a.Add(1)
	a.Add(2)
	assert.InDelta(t, 1.5, a.Mean(), 1e-9)

	a.Add(3)
	a.Add(4)
	assert.InDelta(t, 2.5, a.Mean(), 1e-9)

	// Window full: oldest sample evicted.
	a.Add(5)
	assert.InDelta(t, 3.5, a.Mean(), 1e-9)
}

func TestAverager_ClampsWindowSize(t *testing.T) {
	assert.Equal(t, 1, NewAverager(0).Size())
	assert.Equal(t, 1, NewAverager(-3).Size())
	assert.Equal(t, 256, NewAverager(1000).Size())
	assert.Equal(t, 64, NewAverager(64).Size())
}

func TestAverager_LargerWindowReducesVariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noisy := func() float64 { return 1.0 + (rng.Float64()*2-1)*0.1 }

	variance := func(n int) float64 {
		a := NewAverager(n)
		var sum, sumSq float64
		const samples = 2000
		for i := 0; i < samples; i++ {
			a.Add(noisy())
			m := a.Mean()
			sum += m
			sumSq += m * m
		}
		mean := sum / samples
		return sumSq/samples - mean*mean
	}

	v1 := variance(1)
	v16 := variance(16)
	v128 := variance(128)
	assert.Less(t, v16, v1)
	assert.Less(t, v128, v16)
}

func TestAverager_Reset(t *testing.T) {
	a := NewAverager(8)
	a.Add(5)
	a.Add(7)
	a.Reset()
	assert.Equal(t, 0.0, a.Mean())
	a.Add(2)
	assert.Equal(t, 2.0, a.Mean())
}

func TestRecord_SetPoint(t *testing.T) {
	r := linearRecord()
	require.NoError(t, r.SetPoint(500, 1, 1))
	require.NoError(t, r.SetPoint(100, 2, 1))
	require.NoError(t, r.SetPoint(300, 3, 1))

	assert.Equal(t, []uint16{100, 300, 500}, []uint16{
		r.Points[0].Frequency, r.Points[1].Frequency, r.Points[2].Frequency,
	})

	// Updating an existing frequency does not grow the table.
	require.NoError(t, r.SetPoint(300, 9, 1.1))
	assert.Len(t, r.Points, 3)
	assert.Equal(t, float32(9), r.PointAt(300).Offset)

	// Table capacity enforced.
	r.ClearPoints()
	for i := 0; i < MaxPoints; i++ {
		require.NoError(t, r.SetPoint(uint16(i+1), 0, 1))
	}
	assert.Error(t, r.SetPoint(9999, 0, 1))
}
