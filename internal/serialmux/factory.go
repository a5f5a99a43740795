package serialmux

import (
	"errors"
	"fmt"
	"os"

	"go.bug.st/serial"
)

var (
	// ErrPermissionDenied is returned when the OS refuses access to the port.
	ErrPermissionDenied = errors.New("serial port permission denied")
	// ErrPortNotFound is returned when the device path does not exist.
	ErrPortNotFound = errors.New("serial port not found")
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the port, mapping permission and missing-device failures onto
// ErrPermissionDenied and ErrPortNotFound.
func (f *RealSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   convertParity(mode.Parity),
		StopBits: convertStopBits(mode.StopBits),
	})
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	return port, nil
}

func classifyOpenError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s: %v", ErrPortNotFound, path, err)
		}
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrPortNotFound, path, err)
	}
	return fmt.Errorf("open %s: %w", path, err)
}

func convertParity(p Parity) serial.Parity {
	switch p {
	case OddParity:
		return serial.OddParity
	case EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func convertStopBits(s StopBits) serial.StopBits {
	if s == TwoStopBits {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// OpenSerialMux opens a port through factory and wraps it in a SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (SerialMuxInterface, error) {
	mode, err := opts.PortMode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

// NewRealSerialMux creates a SerialMux backed by the hardware port at path.
func NewRealSerialMux(path string, opts PortOptions) (SerialMuxInterface, error) {
	return OpenSerialMux(NewRealSerialPortFactory(), path, opts)
}
