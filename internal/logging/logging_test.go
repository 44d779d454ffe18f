package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/msageha/foreman/internal/model"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"", zapcore.InfoLevel, true},
		{"debug", zapcore.DebugLevel, true},
		{"WARN", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"verbose", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_FileSink(t *testing.T) {
	dir := t.TempDir()
	opts := FromConfig(model.LoggingConfig{Level: "info", Format: "json"}, filepath.Join(dir, "logs"), "hook", false)

	logger, cleanup, err := New(opts)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("decision", zap.String("validator", "bash"))
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "hook.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "decision", entry["msg"])
	assert.Equal(t, "bash", entry["validator"])
	assert.Contains(t, entry, "ts")
}

func TestNew_NoSinks(t *testing.T) {
	logger, cleanup, err := New(Options{})
	require.NoError(t, err)
	defer cleanup()
	assert.NotPanics(t, func() { logger.Info("dropped") })
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud", Stderr: true})
	assert.Error(t, err)
}
