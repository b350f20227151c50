// internal/protocol/tcp_connection.go
package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// SocketScheme prefixes device URLs served by a network serial server
// (socket://host:port) instead of a local tty
const SocketScheme = "socket://"

const (
	socketDialTimeout = 5 * time.Second
	socketKeepAlive   = 30 * time.Second
)

// TCPPort is a Port backed by a raw TCP connection to a serial device server
type TCPPort struct {
	conn net.Conn

	mutex       sync.Mutex
	readTimeout time.Duration
}

// IsSocketURL reports whether url names a network serial server
func IsSocketURL(url string) bool {
	return strings.HasPrefix(strings.ToLower(url), SocketScheme)
}

// OpenTCPPort connects to a serial device server given as socket://host:port
func OpenTCPPort(url string) (*TCPPort, error) {
	address := url[len(SocketScheme):]
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("invalid socket address %q: %w", address, err)
	}

	dialer := &net.Dialer{
		Timeout:   socketDialTimeout,
		KeepAlive: socketKeepAlive,
	}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &TCPPort{conn: conn, readTimeout: -1}, nil
}

// Read reads like a serial port: a read that times out returns 0, nil
func (tp *TCPPort) Read(p []byte) (int, error) {
	tp.mutex.Lock()
	timeout := tp.readTimeout
	tp.mutex.Unlock()

	deadline := time.Time{}
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := tp.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := tp.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

// Write writes to the connection
func (tp *TCPPort) Write(p []byte) (int, error) {
	return tp.conn.Write(p)
}

// Drain is a no-op; the kernel owns the data once Write returns
func (tp *TCPPort) Drain() error {
	return nil
}

// SetReadTimeout bounds each Read. A negative timeout blocks forever.
func (tp *TCPPort) SetReadTimeout(t time.Duration) error {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()
	tp.readTimeout = t
	return nil
}

// Close closes the connection
func (tp *TCPPort) Close() error {
	return tp.conn.Close()
}
