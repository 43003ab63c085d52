package bus

import (
	"errors"
	"sync"
)

// DefaultEEPROMAddr is the I2C address shared by all sensor module EEPROMs.
const DefaultEEPROMAddr = 0x50

// ADCFullScale is the ADC full-scale input voltage (PGA fixed at startup).
const ADCFullScale = 4.096

// ErrTimeout indicates a bus transaction that did not complete within the
// configured deadline. The sampling task treats it as "sensor unreachable"
// for the current tick.
var ErrTimeout = errors.New("bus transaction timeout")

// ADC reads raw differential samples from one of the power detector ADCs.
type ADC interface {
	ReadRaw(channel int) (int16, error)
}

// Mux selects one branch of the I2C multiplexer isolating a sensor's
// EEPROM bus segment.
type Mux interface {
	Select(channel int) error
	Reset() error
}

// EEPROM reads and writes raw bytes on the currently selected bus segment.
type EEPROM interface {
	ReadBytes(addr byte, offset, n int) ([]byte, error)
	WriteBytes(addr byte, offset int, data []byte) error
}

// Conn is a physical connection to the instrument bus. Implementations are
// not required to be safe for concurrent use; Bus serializes access.
type Conn interface {
	ADC
	Mux
	EEPROM
	Close() error
}

// Bus owns the single I2C master. Every transaction goes through its mutex,
// so only one logical task is on the wire at a time regardless of how many
// goroutines share the handle.
type Bus struct {
	mu   sync.Mutex
	conn Conn
}

// New wraps a connection in a serialized bus handle.
func New(conn Conn) *Bus {
	return &Bus{conn: conn}
}

// ReadADC reads one raw sample from the given meter channel's ADC.
func (b *Bus) ReadADC(channel int) (int16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.ReadRaw(channel)
}

// WithSensor selects the sensor's mux branch, runs fn against the EEPROM on
// that segment, and resets the mux afterwards. The bus lock is held for the
// whole sequence so no other task can interleave a transaction.
func (b *Bus) WithSensor(muxChannel int, fn func(EEPROM) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.conn.Select(muxChannel); err != nil {
		return err
	}
	err := fn(b.conn)
	if rerr := b.conn.Reset(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Close closes the underlying connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

// Volts converts a raw ADC sample to the detector voltage.
func Volts(raw int16) float64 {
	return float64(raw) * ADCFullScale / 32768.0
}
