package cal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/homelab-rf/rfpm/pkg/bus"
)

// EEPROM layout, 256-byte region, little-endian scalars.
const (
	eepromSize = 256

	offMagic     = 0  // 4 bytes: "RFPM"
	offVersion   = 4  // 1 byte
	offTypeLen   = 5  // 1 byte
	offType      = 6  // 8 bytes, zero padded
	offSerialLen = 14 // 1 byte
	offSerial    = 15 // 12 bytes, zero padded
	offSlope     = 27 // 4 bytes: base slope, IEEE-754 binary32
	offIntercept = 31 // 4 bytes: base intercept
	offNumFreqs  = 35 // 1 byte
	offFreqs     = 36 // 2 bytes each, max 16
	offCalCount  = 68 // 1 byte
	offCalData   = 69 // 10 bytes per entry: freq(2) offset(4) slope(4)

	calEntrySize = 10

	formatVersion = 1
)

var recordMagic = []byte("RFPM")

var (
	// ErrAbsent means no sensor answered or the EEPROM carries no record
	// (missing magic, blank chip).
	ErrAbsent = errors.New("no calibration record present")
	// ErrCorrupt means the magic matched but the record cannot be trusted:
	// unsupported version or declared lengths beyond the region.
	ErrCorrupt = errors.New("calibration record corrupt")
)

// Store serializes calibration records to and from one sensor module's
// EEPROM, reached through its multiplexer branch. A Store is scoped to one
// channel's sensor socket.
type Store struct {
	bus        *bus.Bus
	muxChannel int
}

// NewStore creates a store bound to the sensor socket behind muxChannel.
func NewStore(b *bus.Bus, muxChannel int) *Store {
	return &Store{bus: b, muxChannel: muxChannel}
}

// Load reads and decodes the record from the sensor EEPROM. An unreachable
// module or blank chip reports ErrAbsent; a recognizable but invalid record
// reports ErrCorrupt.
func (s *Store) Load() (*Record, error) {
	var image []byte
	err := s.bus.WithSensor(s.muxChannel, func(e bus.EEPROM) error {
		data, err := e.ReadBytes(bus.DefaultEEPROMAddr, 0, eepromSize)
		if err != nil {
			return err
		}
		image = data
		return nil
	})
	if err != nil {
		if errors.Is(err, bus.ErrTimeout) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("EEPROM read failed: %w", err)
	}
	return Unmarshal(image)
}

// Save re-serializes the record and writes it back to the sensor EEPROM.
func (s *Store) Save(r *Record) error {
	image, err := Marshal(r)
	if err != nil {
		return err
	}
	err = s.bus.WithSensor(s.muxChannel, func(e bus.EEPROM) error {
		return e.WriteBytes(bus.DefaultEEPROMAddr, 0, image)
	})
	if err != nil {
		return fmt.Errorf("EEPROM write failed: %w", err)
	}
	return nil
}

// FormatNew initializes the EEPROM for a brand-new sensor module: identity,
// base linear model, frequency catalog, and an empty correction table.
func (s *Store) FormatNew(id Identity, baseSlope, baseIntercept float32, frequencies []uint16) error {
	freqs := append([]uint16(nil), frequencies...)
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })

	r := &Record{
		Identity:      id,
		BaseSlope:     baseSlope,
		BaseIntercept: baseIntercept,
		Frequencies:   freqs,
	}
	return s.Save(r)
}

// Marshal encodes a record into the fixed 256-byte EEPROM image. Unused
// space is filled with 0xFF like an erased chip.
func Marshal(r *Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	image := make([]byte, eepromSize)
	for i := range image {
		image[i] = 0xFF
	}

	copy(image[offMagic:], recordMagic)
	image[offVersion] = formatVersion

	image[offTypeLen] = byte(len(r.Identity.Type))
	padString(image[offType:offType+MaxTypeLen], r.Identity.Type)
	image[offSerialLen] = byte(len(r.Identity.Serial))
	padString(image[offSerial:offSerial+MaxSerialLen], r.Identity.Serial)

	binary.LittleEndian.PutUint32(image[offSlope:], math.Float32bits(r.BaseSlope))
	binary.LittleEndian.PutUint32(image[offIntercept:], math.Float32bits(r.BaseIntercept))

	image[offNumFreqs] = byte(len(r.Frequencies))
	for i := offFreqs; i < offCalCount; i++ {
		image[i] = 0
	}
	for i, f := range r.Frequencies {
		binary.LittleEndian.PutUint16(image[offFreqs+i*2:], f)
	}

	image[offCalCount] = byte(len(r.Points))
	for i, p := range r.Points {
		base := offCalData + i*calEntrySize
		binary.LittleEndian.PutUint16(image[base:], p.Frequency)
		binary.LittleEndian.PutUint32(image[base+2:], math.Float32bits(p.Offset))
		binary.LittleEndian.PutUint32(image[base+6:], math.Float32bits(p.Slope))
	}

	return image, nil
}

// Unmarshal decodes an EEPROM image into a record.
func Unmarshal(image []byte) (*Record, error) {
	if len(image) < offCalData {
		return nil, fmt.Errorf("%w: image only %d bytes", ErrCorrupt, len(image))
	}
	if !bytes.Equal(image[offMagic:offMagic+4], recordMagic) {
		return nil, ErrAbsent
	}
	if image[offVersion] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, image[offVersion])
	}

	typeLen := int(image[offTypeLen])
	if typeLen > MaxTypeLen {
		return nil, fmt.Errorf("%w: sensor type length %d", ErrCorrupt, typeLen)
	}
	serialLen := int(image[offSerialLen])
	if serialLen > MaxSerialLen {
		return nil, fmt.Errorf("%w: serial length %d", ErrCorrupt, serialLen)
	}

	r := &Record{
		Identity: Identity{
			Type:   string(image[offType : offType+typeLen]),
			Serial: string(image[offSerial : offSerial+serialLen]),
		},
		BaseSlope:     math.Float32frombits(binary.LittleEndian.Uint32(image[offSlope:])),
		BaseIntercept: math.Float32frombits(binary.LittleEndian.Uint32(image[offIntercept:])),
	}

	numFreqs := int(image[offNumFreqs])
	if numFreqs > MaxPoints {
		return nil, fmt.Errorf("%w: frequency count %d", ErrCorrupt, numFreqs)
	}
	for i := 0; i < numFreqs; i++ {
		r.Frequencies = append(r.Frequencies, binary.LittleEndian.Uint16(image[offFreqs+i*2:]))
	}

	numEntries := int(image[offCalCount])
	if numEntries > MaxPoints {
		return nil, fmt.Errorf("%w: calibration entry count %d", ErrCorrupt, numEntries)
	}
	if offCalData+numEntries*calEntrySize > len(image) {
		return nil, fmt.Errorf("%w: calibration data beyond region", ErrCorrupt)
	}
	for i := 0; i < numEntries; i++ {
		base := offCalData + i*calEntrySize
		r.Points = append(r.Points, Point{
			Frequency: binary.LittleEndian.Uint16(image[base:]),
			Offset:    math.Float32frombits(binary.LittleEndian.Uint32(image[base+2:])),
			Slope:     math.Float32frombits(binary.LittleEndian.Uint32(image[base+6:])),
		})
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}

// padString writes s into dst padded with zero bytes.
func padString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
