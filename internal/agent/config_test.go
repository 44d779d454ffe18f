package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/model"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(Options{Model: "sonnet", Tools: []string{"Read", "Grep"}, Streaming: true, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"Grep", "Read"}, cfg.Allowed)
	assert.Len(t, cfg.Denied, len(Catalog())-2)
	assert.True(t, cfg.Streaming)
	assert.Equal(t, time.Minute, cfg.Timeout)
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing model", Options{}},
		{"negative timeout", Options{Model: "m", Timeout: -time.Second}},
		{"hooks without settings", Options{Model: "m", Hooks: true}},
		{"unknown tool", Options{Model: "m", Tools: []string{"Nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opts)
			assert.Error(t, err)
		})
	}

	_, err := NewConfig(Options{Model: "m", Tools: []string{"Nope"}})
	var unknown *UnknownToolError
	assert.True(t, errors.As(err, &unknown))
}

func TestFromRole(t *testing.T) {
	cfg, err := FromRole(model.RoleConfig{Model: "opus", Hooks: true, TimeoutSec: 90}, "/tmp/settings.json")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.True(t, cfg.Hooks)
	assert.Equal(t, "/tmp/settings.json", cfg.SettingsPath)

	bare := cfg.WithoutHooks().WithTimeout(time.Second)
	assert.False(t, bare.Hooks)
	assert.Empty(t, bare.SettingsPath)
	assert.Equal(t, time.Second, bare.Timeout)
	assert.True(t, cfg.Hooks, "original must be unchanged")
}
