package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("err"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(Options{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("collected weather data", zap.String("collector_id", "c1"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "collected weather data", entry["msg"])
	assert.Equal(t, "c1", entry["collector_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestBuild_WritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, err := build(Options{Level: "debug", Format: "console", Dir: dir}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Warn("store unavailable")
	_ = logger.Sync()

	assert.Contains(t, buf.String(), "store unavailable")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "weather-collector-"+time.Now().Format("20060102")+".log")
}
