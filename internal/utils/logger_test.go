package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/albireox/lvm-spec-pressure/internal/config"
)

func TestNewLogger_FileOutput(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "logs", "pressure.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	})
	require.NoError(err)

	NewBridgeLogger(logger, "sp1", "b1").Info("Serial port open")
	_ = CloseLogger(logger)

	content, err := os.ReadFile(path)
	require.NoError(err)
	require.Contains(string(content), `"message":"Serial port open"`)
	require.Contains(string(content), `"camera":"b1"`)
	require.Contains(string(content), `"spec":"sp1"`)
}

func TestNewLogger_DebugFileTee(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "pressure.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:       "info",
		Format:      "console",
		Output:      "stderr",
		FileEnabled: true,
		File:        path,
	})
	require.NoError(err)

	logger.Info("New connection", zap.String("camera", "r1"))
	logger.Debug("below level")
	_ = CloseLogger(logger)

	content, err := os.ReadFile(path)
	require.NoError(err)
	require.Contains(string(content), "New connection")
	require.NotContains(string(content), "below level")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestLoggerManager_Levels(t *testing.T) {
	for name, want := range map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"":      zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		lm := &LoggerManager{config: &config.LoggingConfig{Level: name}}
		got, err := lm.getLogLevel()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
