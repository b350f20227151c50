// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
)

// SerialConnection owns the handle to one serial device. Every transaction
// reopens the port.
type SerialConnection struct {
	name   string
	config *SerialConfig
	mode   *serial.Mode
	open   OpenFunc
	logger *zap.Logger

	mutex sync.Mutex
	port  Port
	stats model.LinkStats
}

// Option configures a SerialConnection
type Option func(*SerialConnection)

// WithOpenFunc replaces the function used to open the device
func WithOpenFunc(open OpenFunc) Option {
	return func(sc *SerialConnection) {
		sc.open = open
	}
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(name string, config *SerialConfig, logger *zap.Logger, opts ...Option) (*SerialConnection, error) {
	mode, err := config.Mode()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration for %s: %w", name, err)
	}

	sc := &SerialConnection{
		name:   name,
		config: config,
		mode:   mode,
		open:   OpenSerialPort,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.URL),
		),
	}

	for _, opt := range opts {
		opt(sc)
	}

	return sc, nil
}

// Connect opens the serial device, closing any handle that is still open first
func (sc *SerialConnection) Connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.port != nil {
		sc.logger.Info("Closing serial connection before restarting")
		if err := sc.closeLocked(); err != nil {
			sc.logger.Warn("Stale serial handle did not close cleanly", zap.Error(err))
		}
	}

	port, err := sc.open(sc.config.URL, sc.mode)
	if err != nil {
		sc.stats.ErrorCount++
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("%w %s: %w", ErrOpenFailed, sc.config.URL, err)
	}

	sc.port = port
	sc.stats.Connects++
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()

	sc.logger.Info("Serial port open",
		zap.Int("baud_rate", sc.mode.BaudRate),
	)
	return nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	return sc.closeLocked()
}

func (sc *SerialConnection) closeLocked() error {
	if sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.stats.IsConnected = false

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Debug("Serial port closed")
	return nil
}

// IsOpen returns whether a handle is currently open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.port != nil
}

// Transact reconnects, writes data, and reads back a reply framed by
// delimiter or, when delimiter is empty, by timeout. Read failures are
// logged and produce an empty reply; only open and write failures are
// returned as errors.
func (sc *SerialConnection) Transact(ctx context.Context, data []byte, timeout time.Duration, delimiter []byte) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	if err := sc.Connect(ctx); err != nil {
		return nil, err
	}
	defer sc.Close()

	sc.mutex.Lock()
	port := sc.port
	sc.mutex.Unlock()
	if port == nil {
		return nil, ErrNotOpen
	}

	startTime := time.Now()

	if err := sc.write(ctx, port, data); err != nil {
		return nil, err
	}
	sc.logger.Info("Sent to serial", zap.ByteString("data", data))

	var reply []byte
	var err error
	if len(delimiter) > 0 {
		reply, err = ReadUntil(port, delimiter, timeout)
	} else {
		reply, err = ReadAvailable(port, timeout)
	}

	switch {
	case errors.Is(err, ErrIncompleteRead):
		sc.logger.Error("Incomplete read from serial",
			zap.Duration("timeout", timeout),
			zap.ByteString("partial", reply),
		)
		sc.recordFailure(true)
		reply = []byte{}
	case err != nil:
		sc.logger.Error("Unknown error while reading serial", zap.Error(err))
		sc.recordFailure(false)
		reply = []byte{}
	default:
		sc.logger.Info("Received from serial", zap.ByteString("reply", reply))
	}

	sc.recordTransaction(len(data), len(reply), time.Since(startTime))
	return reply, nil
}

// write writes data and blocks until the OS output buffer has drained
func (sc *SerialConnection) write(ctx context.Context, port Port, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := port.Write(data)
	if err != nil {
		sc.recordFailure(false)
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		sc.recordFailure(false)
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	if err := port.Drain(); err != nil {
		sc.recordFailure(false)
		sc.logger.Error("Serial drain failed", zap.Error(err))
		return fmt.Errorf("failed to drain serial port: %w", err)
	}

	return nil
}

// Stats returns a copy of the link statistics
func (sc *SerialConnection) Stats() model.LinkStats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stats
}

// Identity describes the device this connection talks to
func (sc *SerialConnection) Identity() model.DeviceIdentity {
	connectionType := model.ConnectionTypeSerial
	if IsSocketURL(sc.config.URL) {
		connectionType = model.ConnectionTypeTCP
	}

	return model.DeviceIdentity{
		Camera:         sc.name,
		URL:            sc.config.URL,
		ConnectionType: connectionType,
		BaudRate:       sc.mode.BaudRate,
		DataBits:       sc.mode.DataBits,
		StopBits:       sc.config.StopBits,
		Parity:         sc.config.Parity,
	}
}

func (sc *SerialConnection) recordFailure(timeout bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.stats.ErrorCount++
	if timeout {
		sc.stats.TimeoutCount++
	}
}

func (sc *SerialConnection) recordTransaction(written, read int, latency time.Duration) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.stats.Transactions++
	sc.stats.BytesWritten += int64(written)
	sc.stats.BytesRead += int64(read)
	sc.stats.LastActivity = time.Now()

	if sc.stats.AverageLatency == 0 {
		sc.stats.AverageLatency = latency
	} else {
		sc.stats.AverageLatency = (sc.stats.AverageLatency + latency) / 2
	}
}
