package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aevon-lab/orderlens/internal/core/config"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_WritesRotatedFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "orderlens.log")

	logger, closer, err := New(config.LoggingConfig{
		Level:     "info",
		Format:    "json",
		File:      logFile,
		MaxSizeMB: 1,
	})
	require.NoError(t, err)

	logger.Info("[Test] hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"[Test] hello"`)
}

func TestNew_StdoutOnly(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closer.Close())
}
