package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "production", "info")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("variant generated", "variant", "thumb", "width", 320)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "variant generated", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "thumb", entry["variant"])
	assert.EqualValues(t, 320, entry["width"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewDevelopmentWritesText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "development", "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("repair failed", "image_id", "abc")

	out := buf.String()
	assert.Contains(t, out, "repair failed")
	assert.Contains(t, out, "image_id")
	assert.NotContains(t, out, "hidden")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "production", "loud")
	assert.Error(t, err)
}

func TestZapLevel(t *testing.T) {
	assert.Equal(t, "debug", zapLevel(slog.LevelDebug).String())
	assert.Equal(t, "info", zapLevel(slog.LevelInfo).String())
	assert.Equal(t, "warn", zapLevel(slog.LevelWarn).String())
	assert.Equal(t, "error", zapLevel(slog.LevelError).String())
}

func TestInitSetsDefault(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	_, err := Init(&buf, "testing", "info")
	require.NoError(t, err)

	slog.Info("through default")
	assert.Contains(t, buf.String(), "through default")
}
