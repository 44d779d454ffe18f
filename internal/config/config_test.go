package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/agent"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, DefaultMaxParallel, cfg.Concurrency.MaxParallel)
	assert.Equal(t, DefaultMaxInputBytes, cfg.Hooks.MaxInputBytes)
	assert.Equal(t, []string{agent.AllTools}, cfg.Task.Worker.AllowedTools)
	assert.True(t, cfg.Task.Moderator.Enabled)
	assert.Equal(t, []string{"go.mod"}, cfg.Sync.MarkerFiles)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
task:
  dir: work/tasks
  max_attempts: 3
  worker:
    model: opus
    allowed_tools: [Read, Edit]
  moderator:
    enabled: false
concurrency:
  max_parallel: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "work/tasks", cfg.Task.Dir)
	assert.Equal(t, 3, cfg.Task.MaxAttempts)
	assert.Equal(t, "opus", cfg.Task.Worker.Model)
	assert.Equal(t, []string{"Read", "Edit"}, cfg.Task.Worker.AllowedTools)
	assert.True(t, cfg.Task.Worker.Streaming, "unset fields keep their defaults")
	assert.False(t, cfg.Task.Moderator.Enabled)
	assert.Equal(t, 8, cfg.Concurrency.MaxParallel)
	assert.Equal(t, 7200, cfg.Task.LoopTimeoutSec)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("FOREMAN_LOGGING_LEVEL", "debug")
	t.Setenv("FOREMAN_CONCURRENCY_MAX_PARALLEL", "2")
	t.Setenv("FOREMAN_TASK_WORKER_MODEL", "haiku")
	t.Setenv("FOREMAN_DOCS_MODERATOR_ALLOWED_TOOLS", "Read, Grep")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Concurrency.MaxParallel)
	assert.Equal(t, "haiku", cfg.Task.Worker.Model)
	assert.Equal(t, []string{"Read", "Grep"}, cfg.Docs.Moderator.AllowedTools)
}

func TestLoad_RejectsUnknownTool(t *testing.T) {
	path := writeConfig(t, "task:\n  worker:\n    allowed_tools: [Read, Teleport]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Teleport")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"bad level":       "logging:\n  level: loud\n",
		"bad format":      "logging:\n  format: xml\n",
		"negative":        "task:\n  max_attempts: -1\n",
		"no loop timeout": "docs:\n  loop_timeout_sec: 0\n",
		"malformed yaml":  "task: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		key, value string
		wantKey    string
		wantValue  any
	}{
		{"FOREMAN_LOGGING_LEVEL", "debug", "logging.level", "debug"},
		{"FOREMAN_HOOKS_COMMIT_WRAPPER", "bin/c", "hooks.commit_wrapper", "bin/c"},
		{"FOREMAN_HOOKS_MODERATOR_TIMEOUT_SEC", "30", "hooks.moderator.timeout_sec", "30"},
		{"FOREMAN_SYNC_MODULES", "a, b,", "sync.modules", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			k, v := envTransform(tt.key, tt.value)
			assert.Equal(t, tt.wantKey, k)
			assert.Equal(t, tt.wantValue, v)
		})
	}
}
