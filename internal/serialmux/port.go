package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortMode defines serial port configuration parameters.
type SerialPortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultSerialPortMode returns 9600 8N1, the NMEA-0183 default.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

// SerialPortFactory defines an interface for creating serial ports.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given mode.
	// A nil mode means DefaultSerialPortMode.
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}
