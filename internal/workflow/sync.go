package workflow

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/orchestrator"
	"github.com/msageha/foreman/internal/prompt"
)

// Directories never searched for modules.
var skipDirs = map[string]bool{"vendor": true, "node_modules": true, "testdata": true}

const maxManifestBytes = 64 * 1024

type syncWorkflow struct{ base }

// Discover returns the configured modules, or every directory under the sync
// dir that holds one of the marker files.
func (w *syncWorkflow) Discover() ([]string, error) {
	if len(w.cfg.Modules) > 0 {
		mods := append([]string(nil), w.cfg.Modules...)
		sort.Strings(mods)
		return mods, nil
	}
	root := w.abs(w.cfg.Dir)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
			return filepath.SkipDir
		}
		if w.manifest(path) != "" {
			out = append(out, w.rel(path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover modules: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// manifest returns the first marker file present in dir, or "".
func (w *syncWorkflow) manifest(dir string) string {
	for _, m := range w.cfg.MarkerFiles {
		p := filepath.Join(dir, m)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

func (w *syncWorkflow) Prepare(target string) (orchestrator.Unit, error) {
	dir := w.abs(target)
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", target, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("module %s is not a directory", target)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "module: %s\n", target)
	if m := w.manifest(dir); m != "" {
		body, err := readManifest(m)
		if err != nil {
			return nil, err
		}
		sb.WriteString("\n" + section(filepath.Base(m), body))
	}
	return &syncUnit{base: w.base, target: target, dir: dir, brief: sb.String()}, nil
}

func readManifest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return string(data), nil
}

// syncUnit brings one module up to date. The agent works inside the module
// directory.
type syncUnit struct {
	base
	target string
	dir    string
	brief  string
}

func (u *syncUnit) Target() string              { return u.target }
func (u *syncUnit) LockPath() string            { return "" }
func (u *syncUnit) Policy() orchestrator.Policy { return u.policy }

func (u *syncUnit) WorkerRequest(correction string) (agent.Request, error) {
	return u.request(prompt.SyncWorker, u.target, correction, u.brief, u.dir, u.worker)
}

func (u *syncUnit) ModeratorRequest(out string) (agent.Request, bool, error) {
	if u.moderator == nil {
		return agent.Request{}, false, nil
	}
	input := section("module", u.brief) + "\n" + section("worker_output", out)
	req, err := u.request(prompt.SyncModerator, u.target, "", input, u.dir, *u.moderator)
	return req, err == nil, err
}
