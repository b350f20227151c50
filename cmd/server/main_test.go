package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/albireox/lvm-spec-pressure/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, bridgePort, statusPort int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lvm_spec_pressure.yaml")
	content := fmt.Sprintf(`
specs:
  sp1:
    b1:
      host: 127.0.0.1
      port: %d
      timeout: 50ms
      delimiter: "\r"
      device:
        url: %s
logging:
  level: warn
  output: stderr
status:
  enabled: true
  host: 127.0.0.1
  port: %d
`, bridgePort, filepath.Join(t.TempDir(), "ttyMISSING"), statusPort)

	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("debug", false, "")
	return flags
}

func TestApplication_UnknownSpec(t *testing.T) {
	_, err := NewApplication("sp9", writeConfig(t, freePort(t), freePort(t)), testFlags())
	require.ErrorIs(t, err, config.ErrSpecNotFound)
}

func TestApplication_StartAndShutdown(t *testing.T) {
	require := require.New(t)

	bridgePort, statusPort := freePort(t), freePort(t)
	app, err := NewApplication("SP1", writeConfig(t, bridgePort, statusPort), testFlags())
	require.NoError(err)
	require.NoError(app.Start())

	require.Eventually(func() bool {
		response, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", statusPort))
		if err != nil {
			return false
		}
		response.Body.Close()
		return response.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	// the device does not exist, so the transaction fails and the
	// connection is closed without affecting the listener
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", bridgePort))
		require.NoError(err)
		_, err = conn.Write([]byte("PR1"))
		require.NoError(err)

		require.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		n, err := conn.Read(make([]byte, 16))
		require.Zero(n)
		require.Error(err)
		conn.Close()
	}

	app.shutdown("test finished")

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", bridgePort), 200*time.Millisecond)
	require.Error(err)
}
