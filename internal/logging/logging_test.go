package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "coverquery.log")

	logger, cleanup, err := Setup(Config{
		Level:    "info",
		FilePath: logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("indexing started", slog.String("revision", "working"))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "indexing started", entry["msg"])
	assert.Equal(t, "working", entry["revision"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "coverquery.log")

	logger, cleanup, err := Setup(Config{
		Level:    "warn",
		FilePath: logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "coverquery.log")

	// 1MB max; write two chunks that together exceed it
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)

	chunk := strings.Repeat("x", 600*1024)
	_, err = w.Write([]byte(chunk))
	require.NoError(t, err)
	_, err = w.Write([]byte(chunk))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestServeConfig_SuppressesStderr(t *testing.T) {
	cfg := ServeConfig()
	assert.False(t, cfg.WriteToStderr)
}
