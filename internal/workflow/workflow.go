// Package workflow discovers units of work and prepares them for the
// orchestrator: task files, documentation files and repository modules.
package workflow

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/orchestrator"
	"github.com/msageha/foreman/internal/prompt"
)

// Workflow turns targets into orchestrator units.
type Workflow interface {
	Kind() model.UnitKind
	// Discover lists targets relative to the project root, sorted.
	Discover() ([]string, error)
	Prepare(target string) (orchestrator.Unit, error)
}

// Env is what every workflow needs from the loaded configuration.
type Env struct {
	Root         string
	Config       model.Config
	Prompts      *prompt.Renderer
	SettingsPath string
}

// New builds the workflow for kind.
func New(kind model.UnitKind, env Env) (Workflow, error) {
	if env.Prompts == nil {
		env.Prompts = prompt.NewRenderer("")
	}
	switch kind {
	case model.KindTask:
		b, err := newBase(kind, env, env.Config.Task)
		if err != nil {
			return nil, err
		}
		return &taskWorkflow{base: b}, nil
	case model.KindDocs:
		b, err := newBase(kind, env, env.Config.Docs)
		if err != nil {
			return nil, err
		}
		return &docsWorkflow{base: b}, nil
	case model.KindSync:
		b, err := newBase(kind, env, env.Config.Sync)
		if err != nil {
			return nil, err
		}
		return &syncWorkflow{base: b}, nil
	}
	return nil, fmt.Errorf("unknown workflow %q", kind)
}

// base holds the role configuration shared by every unit of one workflow.
type base struct {
	kind      model.UnitKind
	root      string
	cfg       model.WorkflowConfig
	prompts   *prompt.Renderer
	worker    agent.Config
	moderator *agent.Config
	policy    orchestrator.Policy
}

func newBase(kind model.UnitKind, env Env, wf model.WorkflowConfig) (base, error) {
	worker, err := agent.FromRole(wf.Worker, env.SettingsPath)
	if err != nil {
		return base{}, fmt.Errorf("%s worker: %w", kind, err)
	}
	b := base{
		kind:    kind,
		root:    env.Root,
		cfg:     wf,
		prompts: env.Prompts,
		worker:  worker,
		policy: orchestrator.Policy{
			LoopTimeout: time.Duration(wf.LoopTimeoutSec) * time.Second,
			MaxAttempts: wf.MaxAttempts,
		},
	}
	if wf.Moderator.Enabled {
		mod, err := agent.FromRole(wf.Moderator, env.SettingsPath)
		if err != nil {
			return base{}, fmt.Errorf("%s moderator: %w", kind, err)
		}
		// A moderator must never be gated by the hooks it is judging.
		mod = mod.WithoutHooks()
		b.moderator = &mod
	}
	return b, nil
}

func (b base) Kind() model.UnitKind { return b.kind }

func (b base) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(b.root, rel)
}

func (b base) rel(path string) string {
	r, err := filepath.Rel(b.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

// matchFiles walks dir and returns files whose base name matches one of
// patterns. Hidden directories are skipped.
func (b base) matchFiles(dir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"*.md"}
	}
	root := b.abs(dir)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, d.Name()); ok {
				out = append(out, b.rel(path))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func (b base) request(name, target, correction, input, dir string, cfg agent.Config) (agent.Request, error) {
	instr, err := b.prompts.Render(name, prompt.Data{Target: target, Correction: correction})
	if err != nil {
		return agent.Request{}, err
	}
	return agent.Request{Instruction: instr, Input: input, Config: cfg, WorkingDir: dir}, nil
}

func readTarget(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func section(tag, body string) string {
	return "<" + tag + ">\n" + strings.TrimRight(body, "\n") + "\n</" + tag + ">\n"
}
