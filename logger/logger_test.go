package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "naudio.log")
	l, err := New(Config{Level: "debug", Format: "json", Outputs: []string{path}, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Debug("Recording started", "path", "/tmp/a.wav")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "Recording started", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "/tmp/a.wav", entry["path"])
}

func TestNewLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naudio.log")
	l, err := New(Config{Level: "warn", Outputs: []string{path}})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "msg=shown")
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestGlobalLoggerBeforeInit(t *testing.T) {
	require.NotNil(t, Logger())
	Info("logger usable before Init")
}
