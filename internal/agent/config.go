package agent

import (
	"fmt"
	"time"

	"github.com/msageha/foreman/internal/model"
)

// Config is the per-invocation agent configuration. Build it with NewConfig
// so the allow and deny lists always partition the catalog.
type Config struct {
	Model        string
	Allowed      []string
	Denied       []string
	Hooks        bool
	SettingsPath string
	Streaming    bool
	Timeout      time.Duration // 0 = unbounded
}

// Options is the unvalidated input to NewConfig.
type Options struct {
	Model        string
	Tools        []string // nil or ["all"] = all tools, [] = none
	Hooks        bool
	SettingsPath string
	Streaming    bool
	Timeout      time.Duration
}

// NewConfig validates opts and resolves its tool allow-list into allow and deny lists.
func NewConfig(opts Options) (Config, error) {
	if opts.Model == "" {
		return Config{}, fmt.Errorf("agent config: model is required")
	}
	if opts.Timeout < 0 {
		return Config{}, fmt.Errorf("agent config: negative timeout %s", opts.Timeout)
	}
	if opts.Hooks && opts.SettingsPath == "" {
		return Config{}, fmt.Errorf("agent config: hooks enabled without a settings path")
	}
	allow, deny, err := ResolveTools(opts.Tools)
	if err != nil {
		return Config{}, fmt.Errorf("agent config: %w", err)
	}
	return Config{
		Model:        opts.Model,
		Allowed:      allow,
		Denied:       deny,
		Hooks:        opts.Hooks,
		SettingsPath: opts.SettingsPath,
		Streaming:    opts.Streaming,
		Timeout:      opts.Timeout,
	}, nil
}

// FromRole builds a Config for one configured role.
func FromRole(rc model.RoleConfig, settingsPath string) (Config, error) {
	return NewConfig(Options{
		Model:        rc.Model,
		Tools:        rc.AllowedTools,
		Hooks:        rc.Hooks,
		SettingsPath: settingsPath,
		Streaming:    rc.Streaming,
		Timeout:      time.Duration(rc.TimeoutSec) * time.Second,
	})
}

// WithTimeout returns a copy of c bounded by d.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithoutHooks returns a copy of c with agent-side hooks disabled.
func (c Config) WithoutHooks() Config {
	c.Hooks = false
	c.SettingsPath = ""
	return c
}
