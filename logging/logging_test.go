package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jmcleod/tunnelca/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := NewWithWriter(afero.NewMemMapFs(), config.LoggingConfig{Level: "info"}, &console)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("created certificate", slog.Int64("serial", 2))

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"created certificate\"")
	assert.Contains(t, out, "serial=2")
}

func TestNew_FanoutToFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	var console bytes.Buffer
	cfg := config.LoggingConfig{Level: "debug", Format: "text", File: "/var/log/tunnelca/tunnelca.log"}

	logger, closer, err := NewWithWriter(fs, cfg, &console)
	require.NoError(t, err)

	logger.Debug("loading CA", slog.String("customer", "acme"))
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "customer=acme")

	data, err := afero.ReadFile(fs, cfg.File)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "loading CA", entry["msg"])
	assert.Equal(t, "acme", entry["customer"])
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestNew_JSONConsole(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := NewWithWriter(afero.NewMemMapFs(), config.LoggingConfig{Format: "json"}, &console)
	require.NoError(t, err)

	logger.Warn("weak key")
	assert.True(t, strings.HasPrefix(console.String(), "{"))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(afero.NewMemMapFs(), config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestErr_IncludesTrace(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := NewWithWriter(afero.NewMemMapFs(), config.LoggingConfig{Format: "json"}, &console)
	require.NoError(t, err)

	logger.Error("issuance failed", Err(errors.New("disk full")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &entry))
	group, ok := entry["error"].(map[string]any)
	require.True(t, ok, "error attribute should be a group: %v", entry["error"])
	assert.Contains(t, group["msg"], "disk full")
	assert.NotEmpty(t, group["trace"])
}

func TestErr_PlainErrorHasNoTrace(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := NewWithWriter(afero.NewMemMapFs(), config.LoggingConfig{Format: "json"}, &console)
	require.NoError(t, err)

	logger.Error("issuance failed", slog.Any("error", errors.New("disk full")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &entry))
	group, ok := entry["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "disk full", group["msg"])
	assert.NotContains(t, group, "trace")
}
