package cal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-rf/rfpm/pkg/bus"
)

func testRecord(points int) *Record {
	r := &Record{
		Identity:      Identity{Type: "AD8307", Serial: "SN-0042"},
		BaseSlope:     40.0,
		BaseIntercept: -84.0,
		Frequencies:   []uint16{1, 10, 50, 100, 144, 432, 1296},
	}
	for i := 0; i < points; i++ {
		r.Points = append(r.Points, Point{
			Frequency: uint16(10 + i*50),
			Offset:    float32(i) * 0.25,
			Slope:     1.0 + float32(i)*0.01,
		})
	}
	return r
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	for _, points := range []int{0, 1, 2, 7, 16} {
		r := testRecord(points)

		image, err := Marshal(r)
		require.NoError(t, err)
		require.Len(t, image, 256)

		got, err := Unmarshal(image)
		require.NoError(t, err)
		assert.Equal(t, r, got, "round trip with %d points", points)
	}
}

func TestMarshal_RejectsInvalidRecord(t *testing.T) {
	r := testRecord(0)
	r.Identity.Type = "WAY-TOO-LONG-TYPE"
	_, err := Marshal(r)
	assert.Error(t, err)

	r = testRecord(2)
	r.Points[1].Frequency = r.Points[0].Frequency
	_, err = Marshal(r)
	assert.Error(t, err)
}

func TestUnmarshal_BlankImageIsAbsent(t *testing.T) {
	image := make([]byte, 256)
	for i := range image {
		image[i] = 0xFF
	}
	_, err := Unmarshal(image)
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestUnmarshal_CorruptImages(t *testing.T) {
	good, err := Marshal(testRecord(3))
	require.NoError(t, err)

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 99
	_, err = Unmarshal(badVersion)
	assert.ErrorIs(t, err, ErrCorrupt)

	badTypeLen := append([]byte(nil), good...)
	badTypeLen[5] = 200
	_, err = Unmarshal(badTypeLen)
	assert.ErrorIs(t, err, ErrCorrupt)

	badCount := append([]byte(nil), good...)
	badCount[68] = 17
	_, err = Unmarshal(badCount)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_LoadAbsentWhenUnplugged(t *testing.T) {
	sim := bus.NewSim(0)
	store := NewStore(bus.New(sim), 0)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestStore_SaveThenLoad(t *testing.T) {
	sim := bus.NewSim(0)
	sim.PlugSensor(0, nil)
	store := NewStore(bus.New(sim), 0)

	// Blank chip reads back as absent first.
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrAbsent)

	r := testRecord(4)
	require.NoError(t, store.Save(r))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestStore_FormatNew(t *testing.T) {
	sim := bus.NewSim(0)
	sim.PlugSensor(1, nil)
	store := NewStore(bus.New(sim), 1)

	id := Identity{Type: "AD8318", Serial: "SN-0007"}
	require.NoError(t, store.FormatNew(id, -25.0, 20.0, []uint16{432, 144, 1296}))

	r, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, id, r.Identity)
	assert.Equal(t, float32(-25.0), r.BaseSlope)
	assert.Equal(t, float32(20.0), r.BaseIntercept)
	// Catalog is stored sorted.
	assert.Equal(t, []uint16{144, 432, 1296}, r.Frequencies)
	assert.Empty(t, r.Points)
}

func TestStore_IsolatedPerMuxChannel(t *testing.T) {
	sim := bus.NewSim(0)
	sim.PlugSensor(0, nil)
	sim.PlugSensor(1, nil)
	b := bus.New(sim)

	require.NoError(t, NewStore(b, 0).FormatNew(Identity{Type: "AD8307", Serial: "A"}, 40, -84, []uint16{100}))
	require.NoError(t, NewStore(b, 1).FormatNew(Identity{Type: "AD8318", Serial: "B"}, -25, 20, []uint16{100}))

	r0, err := NewStore(b, 0).Load()
	require.NoError(t, err)
	r1, err := NewStore(b, 1).Load()
	require.NoError(t, err)

	assert.Equal(t, "A", r0.Identity.Serial)
	assert.Equal(t, "B", r1.Identity.Serial)
}
