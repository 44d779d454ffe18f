package config

import (
	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/model"
)

const (
	DefaultMaxParallel   = 4
	DefaultMaxInputBytes = 10 * 1024 * 1024
	DefaultTokenBudget   = 100_000

	DefaultScanIntervalSec    = 30
	DefaultShutdownTimeoutSec = 120
)

var readOnlyTools = []string{"Read", "Grep", "Glob", "LS"}

// Default returns the built-in configuration.
func Default() model.Config {
	return model.Config{
		Project: model.ProjectConfig{Root: "."},
		Agent: model.AgentConfig{
			Binary:       "claude",
			SettingsPath: ".foreman/settings.json",
		},
		Task: model.WorkflowConfig{
			Dir:            ".foreman/tasks",
			Patterns:       []string{"*.md"},
			Worker:         worker(1800),
			Moderator:      moderator(600),
			LoopTimeoutSec: 7200,
		},
		Docs: model.WorkflowConfig{
			Dir:            "docs",
			Patterns:       []string{"*.md"},
			Worker:         worker(900),
			Moderator:      moderator(300),
			LoopTimeoutSec: 3600,
			MaxAttempts:    5,
		},
		Sync: model.WorkflowConfig{
			Dir:            ".",
			Worker:         worker(1800),
			Moderator:      moderator(600),
			LoopTimeoutSec: 7200,
			MarkerFiles:    []string{"go.mod"},
		},
		Hooks: model.HooksConfig{
			CommitWrapper: "scripts/commit.sh",
			MaxInputBytes: DefaultMaxInputBytes,
			TokenBudget:   DefaultTokenBudget,
			TimeoutSec:    300,
			Moderator: model.RoleConfig{
				Enabled:      true,
				Model:        "sonnet",
				AllowedTools: []string{},
				TimeoutSec:   240,
			},
		},
		Concurrency: model.ConcurrencyConfig{MaxParallel: DefaultMaxParallel},
		Watch: model.WatchConfig{
			ScanIntervalSec:    DefaultScanIntervalSec,
			ShutdownTimeoutSec: DefaultShutdownTimeoutSec,
		},
		Logging:     model.LoggingConfig{Level: "info", Format: "console"},
	}
}

func worker(timeoutSec int) model.RoleConfig {
	return model.RoleConfig{
		Enabled:      true,
		Model:        "sonnet",
		AllowedTools: []string{agent.AllTools},
		Hooks:        true,
		Streaming:    true,
		TimeoutSec:   timeoutSec,
	}
}

func moderator(timeoutSec int) model.RoleConfig {
	return model.RoleConfig{
		Enabled:      true,
		Model:        "sonnet",
		AllowedTools: append([]string(nil), readOnlyTools...),
		Streaming:    true,
		TimeoutSec:   timeoutSec,
	}
}

// applyDefaults fills values that must never be zero after merging.
func applyDefaults(cfg *model.Config) {
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = "claude"
	}
	if cfg.Concurrency.MaxParallel == 0 {
		cfg.Concurrency.MaxParallel = DefaultMaxParallel
	}
	if cfg.Hooks.MaxInputBytes == 0 {
		cfg.Hooks.MaxInputBytes = DefaultMaxInputBytes
	}
	if cfg.Hooks.TokenBudget == 0 {
		cfg.Hooks.TokenBudget = DefaultTokenBudget
	}
	if cfg.Watch.ScanIntervalSec == 0 {
		cfg.Watch.ScanIntervalSec = DefaultScanIntervalSec
	}
	if cfg.Watch.ShutdownTimeoutSec == 0 {
		cfg.Watch.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if len(cfg.Sync.Modules) == 0 && len(cfg.Sync.MarkerFiles) == 0 {
		cfg.Sync.MarkerFiles = []string{"go.mod"}
	}
}
