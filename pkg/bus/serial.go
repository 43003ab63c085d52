package bus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate for the bus bridge adapter.
	DefaultBaudRate = 115200
)

// Serial talks to the instrument bus through a USB bridge adapter speaking a
// line protocol. Each request is a single line, each reply a single line
// starting with "OK" or "ERR":
//
//	ADC <channel>              -> OK <int16>
//	MUX <channel> | MUX RST    -> OK
//	EERD <addr> <offset> <n>   -> OK <hex bytes>
//	EEWR <addr> <offset> <hex> -> OK
type Serial struct {
	port    string
	baud    int
	timeout time.Duration

	conn   serial.Port
	reader *bufio.Reader
}

// OpenSerial opens the bridge adapter on the given port. The timeout bounds
// every transaction; an expired deadline surfaces as ErrTimeout.
func OpenSerial(port string, baudRate int, timeout time.Duration) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	mode := &serial.Mode{BaudRate: baudRate}
	conn, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := conn.SetReadTimeout(timeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Serial{
		port:    port,
		baud:    baudRate,
		timeout: timeout,
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}, nil
}

// request sends one command line and waits for one reply line.
func (s *Serial) request(cmd string) (string, error) {
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("bridge write failed: %w", err)
	}

	deadline := time.Now().Add(s.timeout)
	var line strings.Builder
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			// go.bug.st/serial returns a zero-byte read on timeout, which
			// bufio surfaces as io.EOF on an otherwise healthy port.
			if time.Now().After(deadline) {
				return "", ErrTimeout
			}
			return "", fmt.Errorf("bridge read failed: %w", err)
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			line.WriteByte(b)
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}

	reply := strings.TrimSpace(line.String())
	if strings.HasPrefix(reply, "ERR") {
		return "", fmt.Errorf("bridge error: %s", strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	}
	if !strings.HasPrefix(reply, "OK") {
		return "", fmt.Errorf("unexpected bridge reply %q", reply)
	}
	return strings.TrimSpace(strings.TrimPrefix(reply, "OK")), nil
}

// ReadRaw reads one raw differential sample from the channel's ADC.
func (s *Serial) ReadRaw(channel int) (int16, error) {
	reply, err := s.request(fmt.Sprintf("ADC %d", channel))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(reply, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid ADC reply %q: %w", reply, err)
	}
	return int16(v), nil
}

// Select enables one multiplexer branch.
func (s *Serial) Select(channel int) error {
	_, err := s.request(fmt.Sprintf("MUX %d", channel))
	return err
}

// Reset disables all multiplexer branches.
func (s *Serial) Reset() error {
	_, err := s.request("MUX RST")
	return err
}

// ReadBytes reads n bytes from the EEPROM at the given device address.
func (s *Serial) ReadBytes(addr byte, offset, n int) ([]byte, error) {
	reply, err := s.request(fmt.Sprintf("EERD %02X %d %d", addr, offset, n))
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(reply)
	if err != nil {
		return nil, fmt.Errorf("invalid EEPROM read reply %q: %w", reply, err)
	}
	if len(data) != n {
		return nil, fmt.Errorf("short EEPROM read: want %d bytes, got %d", n, len(data))
	}
	return data, nil
}

// WriteBytes writes data to the EEPROM at the given device address. The
// bridge firmware handles page boundaries and write cycle delays.
func (s *Serial) WriteBytes(addr byte, offset int, data []byte) error {
	_, err := s.request(fmt.Sprintf("EEWR %02X %d %s", addr, offset, hex.EncodeToString(data)))
	return err
}

// Close closes the serial port.
func (s *Serial) Close() error {
	return s.conn.Close()
}

var _ Conn = (*Serial)(nil)
