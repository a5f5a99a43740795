package serialmux

import (
	"fmt"
	"strings"
)

// PortOptions describes the serial connection parameters used when opening a
// real serial port. Field tags match the config file keys.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// PortMode converts the options into the mode handed to a SerialPortFactory.
func (o PortOptions) PortMode() (*SerialPortMode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &SerialPortMode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = EvenParity
	case "O":
		mode.Parity = OddParity
	default:
		mode.Parity = NoParity
	}
	return mode, nil
}
