// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"time"

	"go.bug.st/serial"

	"github.com/albireox/lvm-spec-pressure/internal/model"
)

var (
	// ErrOpenFailed is returned when the serial device cannot be opened
	ErrOpenFailed = errors.New("failed to open serial port")
	// ErrNotOpen is returned when an operation needs an open port
	ErrNotOpen = errors.New("serial port not open")
	// ErrIncompleteRead marks a reply that ended before the delimiter was seen
	ErrIncompleteRead = errors.New("incomplete serial read")
)

// DefaultReplyTimeout is used when a transaction is given no timeout
const DefaultReplyTimeout = 100 * time.Millisecond

// Transactor performs one complete request/reply exchange with a device
type Transactor interface {
	Transact(ctx context.Context, data []byte, timeout time.Duration, delimiter []byte) ([]byte, error)
}

// StatsProvider is implemented by links that keep statistics
type StatsProvider interface {
	Stats() model.LinkStats
}

// Port is the part of serial.Port used by SerialConnection
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// OpenFunc opens the device at path with the given mode
type OpenFunc func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a local serial port, or a network serial server
// when path is a socket:// URL. mode does not apply to network servers.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	if IsSocketURL(path) {
		port, err := OpenTCPPort(path)
		if err != nil {
			return nil, err
		}
		return port, nil
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
