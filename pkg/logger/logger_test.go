package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warn "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestNewWithOptionsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(&buf, Options{Level: "info", JSON: true, Service: "push"})

	log.Debug("hidden")
	log.Info("visible", slog.Int("n", 1))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "visible", record["msg"])
	assert.Equal(t, "push", record["service"])
	assert.EqualValues(t, 1, record["n"])
}

func TestTokenPreview(t *testing.T) {
	assert.Equal(t, "short", TokenPreview("short"))
	assert.Equal(t, "abcdefghijklmnopqrst...", TokenPreview("abcdefghijklmnopqrstuvwxyz"))
}
