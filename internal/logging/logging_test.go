package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestValidate(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		require.NoError(t, Validate(level))
	}
	require.Error(t, Validate("loud"))
}

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "info", Format: "json", Output: &buf}))

	slog.Info("probe", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "probe", entry["msg"])
	require.Equal(t, "value", entry["key"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Setup(Options{Level: "shout"}))
}
