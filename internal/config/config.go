// Package config loads .foreman/config.yaml.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/logging"
	"github.com/msageha/foreman/internal/model"
)

const (
	EnvPrefix         = "FOREMAN_"
	maxConfigFileSize = 1024 * 1024
)

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"allowed_tools": true,
	"patterns":      true,
	"modules":       true,
	"marker_files":  true,
}

// Load merges, lowest precedence first: built-in defaults, the YAML file at
// path (skipped when absent), then FOREMAN_* environment variables.
//
//	FOREMAN_LOGGING_LEVEL            -> logging.level
//	FOREMAN_CONCURRENCY_MAX_PARALLEL -> concurrency.max_parallel
//	FOREMAN_TASK_WORKER_MODEL        -> task.worker.model
//	FOREMAN_HOOKS_MODERATOR_TIMEOUT_SEC -> hooks.moderator.timeout_sec
func Load(path string) (model.Config, error) {
	k := koanf.New(".")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return model.Config{}, fmt.Errorf("marshal defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), kyaml.Parser()); err != nil {
		return model.Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return model.Config{}, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), kyaml.Parser()); err != nil {
				return model.Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return model.Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg model.Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return model.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return model.Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// envTransform maps FOREMAN_SECTION_FIELD to section.field. Role sections
// (worker_, moderator_) get one more level.
func envTransform(key, value string) (string, any) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower, value
	}
	for _, role := range []string{"worker_", "moderator_"} {
		if rest, found := strings.CutPrefix(field, role); found {
			field = strings.TrimSuffix(role, "_") + "." + rest
			break
		}
	}

	leaf := field
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		leaf = field[i+1:]
	}
	if listKeys[leaf] {
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return section + "." + field, items
	}
	return section + "." + field, value
}

// Validate checks cross-field constraints, including that every configured
// tool name exists in the agent catalog.
func Validate(cfg model.Config) error {
	if cfg.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	for name, wf := range map[string]model.WorkflowConfig{"task": cfg.Task, "docs": cfg.Docs, "sync": cfg.Sync} {
		if err := validateWorkflow(name, wf); err != nil {
			return err
		}
	}
	if cfg.Hooks.MaxInputBytes <= 0 {
		return fmt.Errorf("hooks.max_input_bytes must be positive")
	}
	if cfg.Hooks.TokenBudget <= 0 {
		return fmt.Errorf("hooks.token_budget must be positive")
	}
	if err := validateRole("hooks.moderator", cfg.Hooks.Moderator); err != nil {
		return err
	}
	if cfg.Concurrency.MaxParallel < 1 {
		return fmt.Errorf("concurrency.max_parallel must be at least 1")
	}
	if cfg.Watch.ScanIntervalSec < 0 || cfg.Watch.ShutdownTimeoutSec < 0 {
		return fmt.Errorf("watch intervals must not be negative")
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if f := cfg.Logging.Format; f != "json" && f != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", f)
	}
	return nil
}

func validateWorkflow(name string, wf model.WorkflowConfig) error {
	if wf.LoopTimeoutSec <= 0 {
		return fmt.Errorf("%s.loop_timeout_sec must be positive", name)
	}
	if wf.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must not be negative", name)
	}
	if err := validateRole(name+".worker", wf.Worker); err != nil {
		return err
	}
	if wf.Moderator.Enabled {
		if err := validateRole(name+".moderator", wf.Moderator); err != nil {
			return err
		}
	}
	return nil
}

func validateRole(name string, rc model.RoleConfig) error {
	if rc.TimeoutSec < 0 {
		return fmt.Errorf("%s.timeout_sec must not be negative", name)
	}
	// Hooks are validated against a placeholder path; the real one is resolved at run time.
	settings := ""
	if rc.Hooks {
		settings = "settings.json"
	}
	if _, err := agent.FromRole(rc, settings); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
