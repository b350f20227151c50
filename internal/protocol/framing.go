// internal/protocol/framing.go
package protocol

import (
	"bytes"
	"fmt"
	"time"
)

// ReadUntil reads one byte at a time until the buffer ends with delimiter.
// The whole read shares a single deadline of timeout from the first call;
// when it passes, the partial buffer is returned with ErrIncompleteRead.
func ReadUntil(port Port, delimiter []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	reply := make([]byte, 0, 64)
	b := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return reply, ErrIncompleteRead
		}

		if err := port.SetReadTimeout(remaining); err != nil {
			return reply, fmt.Errorf("failed to set read timeout: %w", err)
		}

		n, err := port.Read(b)
		if err != nil {
			return reply, fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n == 0 {
			continue
		}

		reply = append(reply, b[0])
		if bytes.HasSuffix(reply, delimiter) {
			return reply, nil
		}
	}
}

// ReadAvailable reads one byte at a time until a read waits longer than
// timeout. The timeout restarts after every byte received, so a slow but
// steady device keeps the read going. Timing out is the normal way out.
func ReadAvailable(port Port, timeout time.Duration) ([]byte, error) {
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	reply := make([]byte, 0, 64)
	b := make([]byte, 1)

	for {
		n, err := port.Read(b)
		if err != nil {
			return reply, fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n == 0 {
			return reply, nil
		}
		reply = append(reply, b[0])
	}
}
