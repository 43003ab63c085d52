package bus

import (
	"fmt"
	"math/rand"
	"sync"
)

// SimEEPROMSize is the size of a simulated sensor EEPROM (AT24C02).
const SimEEPROMSize = 256

// Sim simulates the instrument bus for tests and -sim mode: two ADC
// channels with programmable voltage and noise, and one EEPROM image per
// multiplexer branch.
type Sim struct {
	mu sync.Mutex

	voltages map[int]float64 // detector voltage per ADC channel
	noise    float64         // V, uniform
	eeproms  map[int][]byte  // image per mux branch, nil = no sensor fitted
	selected int             // -1 = all branches disabled
	failing  map[int]bool    // mux branches that time out
	adcFail  map[int]bool    // ADC channels that time out
	closed   bool
}

// NewSim creates a simulated bus with no sensors fitted.
func NewSim(noise float64) *Sim {
	return &Sim{
		voltages: make(map[int]float64),
		noise:    noise,
		eeproms:  make(map[int][]byte),
		selected: -1,
		failing:  make(map[int]bool),
		adcFail:  make(map[int]bool),
	}
}

// SetVoltage sets the detector voltage seen by an ADC channel.
func (s *Sim) SetVoltage(channel int, volts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltages[channel] = volts
}

// PlugSensor fits an EEPROM image on a mux branch. A nil image fits a blank
// (erased) EEPROM; call UnplugSensor to remove the module entirely.
func (s *Sim) PlugSensor(muxChannel int, image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := make([]byte, SimEEPROMSize)
	for i := range img {
		img[i] = 0xFF
	}
	copy(img, image)
	s.eeproms[muxChannel] = img
}

// UnplugSensor removes the sensor module from a mux branch.
func (s *Sim) UnplugSensor(muxChannel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eeproms, muxChannel)
}

// EEPROMImage returns a copy of the EEPROM image on a branch, or nil.
func (s *Sim) EEPROMImage(muxChannel int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.eeproms[muxChannel]
	if !ok {
		return nil
	}
	out := make([]byte, len(img))
	copy(out, img)
	return out
}

// SetBranchFailing makes every EEPROM access on a branch time out.
func (s *Sim) SetBranchFailing(muxChannel int, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[muxChannel] = failing
}

// SetADCFailing makes reads on an ADC channel time out.
func (s *Sim) SetADCFailing(channel int, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adcFail[channel] = failing
}

// ReadRaw returns the programmed voltage plus noise, quantized like the ADC.
func (s *Sim) ReadRaw(channel int) (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("simulated bus closed")
	}
	if s.adcFail[channel] {
		return 0, ErrTimeout
	}

	v := s.voltages[channel]
	if s.noise > 0 {
		v += (rand.Float64()*2 - 1) * s.noise
	}
	raw := v * 32768.0 / ADCFullScale
	if raw > 32767 {
		raw = 32767
	}
	if raw < -32768 {
		raw = -32768
	}
	return int16(raw), nil
}

// Select enables one multiplexer branch.
func (s *Sim) Select(channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("simulated bus closed")
	}
	s.selected = channel
	return nil
}

// Reset disables all multiplexer branches.
func (s *Sim) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = -1
	return nil
}

// ReadBytes reads from the EEPROM on the selected branch.
func (s *Sim) ReadBytes(addr byte, offset, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.segment(addr)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+n > len(img) {
		return nil, fmt.Errorf("EEPROM read out of range: offset %d len %d", offset, n)
	}
	out := make([]byte, n)
	copy(out, img[offset:offset+n])
	return out, nil
}

// WriteBytes writes to the EEPROM on the selected branch.
func (s *Sim) WriteBytes(addr byte, offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := s.segment(addr)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(img) {
		return fmt.Errorf("EEPROM write out of range: offset %d len %d", offset, len(data))
	}
	copy(img[offset:], data)
	return nil
}

// segment resolves the EEPROM image behind the selected mux branch. A
// missing module or a failing branch behaves like an unacknowledged
// transaction, i.e. a timeout.
func (s *Sim) segment(addr byte) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("simulated bus closed")
	}
	if addr != DefaultEEPROMAddr {
		return nil, ErrTimeout
	}
	if s.selected < 0 || s.failing[s.selected] {
		return nil, ErrTimeout
	}
	img, ok := s.eeproms[s.selected]
	if !ok {
		return nil, ErrTimeout
	}
	return img, nil
}

// Close marks the simulated bus closed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Conn = (*Sim)(nil)
