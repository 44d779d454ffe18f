// Package setup handles foreman project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/hook"
	"github.com/msageha/foreman/internal/model"
	atomicyaml "github.com/msageha/foreman/internal/yaml"
	"github.com/msageha/foreman/templates"
)

// Dir is the per-project state directory.
const Dir = ".foreman"

// Options tunes Run. HookCommand is the executable the agent's hooks call,
// usually the absolute path of the running foreman binary.
type Options struct {
	ProjectName string
	HookCommand string
}

// Run initializes .foreman/ in projectDir: directory layout, config.yaml
// rendered from the embedded template, and the hook settings file.
func Run(projectDir string, opts Options) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	base := filepath.Join(absDir, Dir)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"tasks", "results", "logs/progress", "locks", "prompts"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, opts.ProjectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	command := opts.HookCommand
	if command == "" {
		command = "foreman"
	}
	settings := cfg.Agent.SettingsPath
	if !filepath.IsAbs(settings) {
		settings = filepath.Join(absDir, settings)
	}
	hooks := hook.BuildSettings(hook.DefaultRegistrations(command, cfg.Hooks.TimeoutSec))
	if err := hook.WriteSettings(settings, hooks); err != nil {
		return fmt.Errorf("write hook settings: %w", err)
	}

	if err := os.WriteFile(filepath.Join(base, "locks", "run.lock"), nil, 0o600); err != nil {
		return fmt.Errorf("create run.lock: %w", err)
	}
	return nil
}

// generateConfig reads the embedded template and fills the project name.
func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	return &cfg, nil
}
