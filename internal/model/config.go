// Package model defines the data structures for foreman's configuration, attempts and results.
package model

type Config struct {
	Project     ProjectConfig     `yaml:"project"`
	Agent       AgentConfig       `yaml:"agent"`
	Task        WorkflowConfig    `yaml:"task"`
	Docs        WorkflowConfig    `yaml:"docs"`
	Sync        WorkflowConfig    `yaml:"sync"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Watch       WatchConfig       `yaml:"watch"`
	Locking     LockingConfig     `yaml:"locking"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Notify      NotifyConfig      `yaml:"notify"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

// AgentConfig describes the external agent binary shared by every role.
type AgentConfig struct {
	Binary       string            `yaml:"binary"`
	SettingsPath string            `yaml:"settings_path"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// RoleConfig configures one agent role (worker or moderator).
type RoleConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Model        string   `yaml:"model"`
	AllowedTools []string `yaml:"allowed_tools"`
	Hooks        bool     `yaml:"hooks"`
	Streaming    bool     `yaml:"streaming"`
	TimeoutSec   int      `yaml:"timeout_sec"` // 0 = unbounded
}

type WorkflowConfig struct {
	Dir            string     `yaml:"dir"`
	Patterns       []string   `yaml:"patterns"`
	Worker         RoleConfig `yaml:"worker"`
	Moderator      RoleConfig `yaml:"moderator"`
	LoopTimeoutSec int        `yaml:"loop_timeout_sec"`
	MaxAttempts    int        `yaml:"max_attempts"` // 0 = bounded by loop timeout only

	// Sync workflow only: explicit module list, else directories holding a marker file.
	Modules     []string `yaml:"modules,omitempty"`
	MarkerFiles []string `yaml:"marker_files,omitempty"`
}

type HooksConfig struct {
	CommitWrapper string     `yaml:"commit_wrapper"`
	MaxInputBytes int        `yaml:"max_input_bytes"`
	TokenBudget   int        `yaml:"token_budget"`
	TimeoutSec    int        `yaml:"timeout_sec"` // timeout registered in settings.json
	Moderator     RoleConfig `yaml:"moderator"`
}

type ConcurrencyConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

// WatchConfig tunes `foreman watch`.
type WatchConfig struct {
	ScanIntervalSec    int `yaml:"scan_interval_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LockingConfig struct {
	Immutable bool `yaml:"immutable"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}
