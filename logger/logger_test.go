package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"acctmonitor/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestJSONOutput
func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LogConfig{Level: "info", Environment: "prod"}, &buf)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("cycle completed", zap.Uint64("cycle", 3))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cycle completed", entry["msg"])
	assert.Equal(t, float64(3), entry["cycle"])
	assert.Equal(t, "prod", entry["env"])
}

// go test -v --run TestFileOutput
func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")
	var buf bytes.Buffer
	log, err := build(config.LogConfig{Level: "debug", Format: "console", OutputFile: path}, &buf)
	require.NoError(t, err)

	log.Debug("account added", zap.Int64("login_id", 1001))
	require.NoError(t, log.Sync())

	assert.Contains(t, buf.String(), "account added")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"login_id":1001`)
}

// go test -v --run TestInvalidOptions
func TestInvalidOptions(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
