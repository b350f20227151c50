package protocol_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/albireox/lvm-spec-pressure/internal/protocol"
	"github.com/albireox/lvm-spec-pressure/internal/protocol/porttest"
)

func newTestConnection(t *testing.T, device *porttest.Device) (*protocol.SerialConnection, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	conn, err := protocol.NewSerialConnection("b1",
		&protocol.SerialConfig{URL: "/dev/ttyTEST0", BaudRate: 19200},
		zap.New(core),
		protocol.WithOpenFunc(device.Open),
	)
	require.NoError(t, err)

	return conn, logs
}

func TestSerialConnection_DelimiterFraming(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(func([]byte) []porttest.Chunk {
		return []porttest.Chunk{
			{Data: []byte("PONG\r")},
			{Delay: 20 * time.Millisecond, Data: []byte("EXTRA")},
		}
	})
	conn, _ := newTestConnection(t, device)

	reply, err := conn.Transact(context.Background(), []byte("PING"), 500*time.Millisecond, []byte("\r"))
	require.NoError(err)
	require.Equal([]byte("PONG\r"), reply)
	require.Equal([][]byte{[]byte("PING")}, device.Requests())
	require.Equal(0, device.OpenHandles())
	require.False(conn.IsOpen())
}

func TestSerialConnection_MultiByteDelimiter(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Trickle("1.2E-05\r\nnext", time.Millisecond))
	conn, _ := newTestConnection(t, device)

	reply, err := conn.Transact(context.Background(), []byte("PR1\r\n"), 500*time.Millisecond, []byte("\r\n"))
	require.NoError(err)
	require.Equal([]byte("1.2E-05\r\n"), reply)
}

func TestSerialConnection_NoDelimiterReturnsOnSilence(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("OK"))
	conn, _ := newTestConnection(t, device)

	timeout := 50 * time.Millisecond
	start := time.Now()
	reply, err := conn.Transact(context.Background(), []byte("STATUS"), timeout, nil)
	require.NoError(err)
	require.Equal([]byte("OK"), reply)
	require.GreaterOrEqual(time.Since(start), timeout)
}

func TestSerialConnection_NoDelimiterTimeoutRestartsPerByte(t *testing.T) {
	require := require.New(t)

	// every byte arrives before the per-byte timeout, but the whole reply
	// takes far longer than a single timeout
	device := porttest.NewDevice(porttest.Trickle("ABCDEF", 25*time.Millisecond))
	conn, _ := newTestConnection(t, device)

	timeout := 100 * time.Millisecond
	start := time.Now()
	reply, err := conn.Transact(context.Background(), []byte("DUMP"), timeout, nil)
	require.NoError(err)
	require.Equal([]byte("ABCDEF"), reply)
	require.Greater(time.Since(start), timeout)
}

func TestSerialConnection_SilentDeviceReturnsEmpty(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(nil)
	conn, _ := newTestConnection(t, device)

	reply, err := conn.Transact(context.Background(), []byte("HELLO"), 30*time.Millisecond, nil)
	require.NoError(err)
	require.Empty(reply)
}

func TestSerialConnection_DelimiterNeverSeen(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("PARTIAL"))
	conn, logs := newTestConnection(t, device)

	timeout := 50 * time.Millisecond
	start := time.Now()
	reply, err := conn.Transact(context.Background(), []byte("PING"), timeout, []byte("\n"))
	require.NoError(err)
	require.Empty(reply)
	require.GreaterOrEqual(time.Since(start), timeout)
	require.Equal(1, logs.FilterMessage("Incomplete read from serial").Len())

	stats := conn.Stats()
	require.EqualValues(1, stats.TimeoutCount)
	require.EqualValues(1, stats.ErrorCount)
	require.Equal(0, device.OpenHandles())
}

func TestSerialConnection_ReadErrorYieldsEmptyReply(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("IGNORED\r"))
	device.FailRead(io.ErrUnexpectedEOF)
	conn, logs := newTestConnection(t, device)

	reply, err := conn.Transact(context.Background(), []byte("PING"), 50*time.Millisecond, []byte("\r"))
	require.NoError(err)
	require.Empty(reply)
	require.Equal(1, logs.FilterMessage("Unknown error while reading serial").Len())
	require.Equal(0, device.OpenHandles())
}

func TestSerialConnection_ReconnectsEveryTransaction(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("ACK\r"))
	conn, _ := newTestConnection(t, device)

	const n = 5
	for i := 0; i < n; i++ {
		reply, err := conn.Transact(context.Background(), []byte("CMD"), 200*time.Millisecond, []byte("\r"))
		require.NoError(err)
		require.Equal([]byte("ACK\r"), reply)
	}

	require.Equal(n, device.Opens())
	require.Equal(1, device.MaxOpenHandles())
	require.Equal(0, device.OpenHandles())

	stats := conn.Stats()
	require.EqualValues(n, stats.Connects)
	require.EqualValues(n, stats.Transactions)
	require.EqualValues(3*n, stats.BytesWritten)
	require.EqualValues(4*n, stats.BytesRead)
	require.False(stats.IsConnected)
}

func TestSerialConnection_ConnectClosesPreviousHandle(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(nil)
	conn, logs := newTestConnection(t, device)
	ctx := context.Background()

	require.NoError(conn.Connect(ctx))
	require.NoError(conn.Connect(ctx))
	require.Equal(2, device.Opens())
	require.Equal(1, device.MaxOpenHandles())
	require.Equal(1, logs.FilterMessage("Closing serial connection before restarting").Len())

	require.NoError(conn.Close())
	require.NoError(conn.Close())
	require.Equal(0, device.OpenHandles())
}

func TestSerialConnection_OpenFailureIsPerTransaction(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("OK\r"))
	conn, _ := newTestConnection(t, device)

	device.FailOpen(errors.New("no such device"))
	reply, err := conn.Transact(context.Background(), []byte("PING"), 50*time.Millisecond, []byte("\r"))
	require.ErrorIs(err, protocol.ErrOpenFailed)
	require.Nil(reply)
	require.Empty(device.Requests())

	device.FailOpen(nil)
	reply, err = conn.Transact(context.Background(), []byte("PING"), 200*time.Millisecond, []byte("\r"))
	require.NoError(err)
	require.Equal([]byte("OK\r"), reply)
}

func TestSerialConnection_CancelledContext(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(porttest.Reply("OK"))
	conn, _ := newTestConnection(t, device)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Transact(ctx, []byte("PING"), 50*time.Millisecond, nil)
	require.ErrorIs(err, context.Canceled)
	require.Equal(0, device.Opens())
}

func TestSerialConnection_PassesModeToDevice(t *testing.T) {
	require := require.New(t)

	device := porttest.NewDevice(nil)
	conn, err := protocol.NewSerialConnection("r1",
		&protocol.SerialConfig{URL: "/dev/ttyS3", BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "even"},
		zap.NewNop(),
		protocol.WithOpenFunc(device.Open),
	)
	require.NoError(err)
	require.NoError(conn.Connect(context.Background()))
	defer conn.Close()

	path, mode := device.LastMode()
	require.Equal("/dev/ttyS3", path)
	require.Equal(115200, mode.BaudRate)
	require.Equal(7, mode.DataBits)
	require.Equal(serial.TwoStopBits, mode.StopBits)
	require.Equal(serial.EvenParity, mode.Parity)

	identity := conn.Identity()
	require.Equal("r1", identity.Camera)
	require.Equal("/dev/ttyS3", identity.URL)
}

func TestNewSerialConnection_InvalidConfig(t *testing.T) {
	_, err := protocol.NewSerialConnection("b1", &protocol.SerialConfig{}, zap.NewNop())
	require.Error(t, err)

	_, err = protocol.NewSerialConnection("b1", &protocol.SerialConfig{URL: "/dev/ttyS0", Parity: "sometimes"}, zap.NewNop())
	require.Error(t, err)
}
