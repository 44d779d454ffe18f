package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/config"
	"github.com/msageha/foreman/internal/lock"
	"github.com/msageha/foreman/internal/logging"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/prompt"
	"github.com/msageha/foreman/internal/setup"
	"github.com/msageha/foreman/internal/workflow"
)

// workspace is a loaded .foreman/ directory.
type workspace struct {
	dir  string // .foreman
	root string // project root
	cfg  model.Config
}

func openWorkspace() (*workspace, error) {
	dir := findForemanDir()
	if dir == "" {
		return nil, fmt.Errorf("%s/ directory not found; run 'foreman init' first", setup.Dir)
	}
	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	root := cfg.Project.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(filepath.Dir(dir), root)
	}
	return &workspace{dir: dir, root: filepath.Clean(root), cfg: cfg}, nil
}

func findForemanDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.Dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (ws *workspace) abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws.root, path)
}

func (ws *workspace) settingsPath() string { return ws.abs(ws.cfg.Agent.SettingsPath) }

// logger writes to logs/<component>.log and, when stderr is set, to stderr.
func (ws *workspace) logger(component string, stderr bool) (*zap.Logger, func(), error) {
	opts := logging.FromConfig(ws.cfg.Logging, filepath.Join(ws.dir, "logs"), component, stderr)
	return logging.New(opts)
}

func (ws *workspace) executor(logger *zap.Logger) *agent.Executor {
	return agent.NewExecutor(ws.cfg.Agent.Binary, ws.cfg.Agent.Env, logger)
}

func (ws *workspace) prompts() *prompt.Renderer {
	return prompt.NewRenderer(filepath.Join(ws.dir, "prompts"))
}

func (ws *workspace) workflow(kind model.UnitKind) (workflow.Workflow, error) {
	return workflow.New(kind, workflow.Env{
		Root:         ws.root,
		Config:       ws.cfg,
		Prompts:      ws.prompts(),
		SettingsPath: ws.settingsPath(),
	})
}

// lockRun takes the single-run lock for this workspace.
func (ws *workspace) lockRun() (*lock.FileLock, error) {
	fl := lock.NewFileLock(filepath.Join(ws.dir, "locks", "run.lock"))
	if err := fl.TryLock(); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("another foreman run is active: %w", err)
		}
		return nil, err
	}
	return fl, nil
}
