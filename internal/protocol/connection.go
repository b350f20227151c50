// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "none"
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	URL      string  `json:"url"`
	BaudRate int     `json:"baud_rate"`
	DataBits int     `json:"data_bits"`
	StopBits float64 `json:"stop_bits"`
	Parity   string  `json:"parity"`
}

// Mode converts the configuration into a serial port mode
func (c *SerialConfig) Mode() (*serial.Mode, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("serial device url is required")
	}

	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = DefaultDataBits
	}
	if mode.BaudRate < 0 {
		return nil, fmt.Errorf("invalid baud rate: %d", mode.BaudRate)
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("unsupported data bits: %d (supported: 5-8)", mode.DataBits)
	}

	parity, err := ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	mode.Parity = parity

	stopBits, err := ParseStopBits(c.StopBits)
	if err != nil {
		return nil, err
	}
	mode.StopBits = stopBits

	return mode, nil
}

// ParseParity maps a parity name to its serial.Parity value
func ParseParity(parity string) (serial.Parity, error) {
	switch strings.ToLower(parity) {
	case "", "n", "none":
		return serial.NoParity, nil
	case "o", "odd":
		return serial.OddParity, nil
	case "e", "even":
		return serial.EvenParity, nil
	case "m", "mark":
		return serial.MarkParity, nil
	case "s", "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unsupported parity: %s (supported: none/odd/even/mark/space)", parity)
	}
}

// ParseStopBits maps 1, 1.5 or 2 to its serial.StopBits value. Zero means the default.
func ParseStopBits(stopBits float64) (serial.StopBits, error) {
	switch stopBits {
	case 0, 1:
		return serial.OneStopBit, nil
	case 1.5:
		return serial.OnePointFiveStopBits, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("unsupported stop bits: %v (supported: 1, 1.5 or 2)", stopBits)
	}
}
