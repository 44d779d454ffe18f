// Package prompt renders the instructions handed to worker and moderator
// agents. Built-in templates are embedded; a file with the same name in the
// override directory replaces one.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/msageha/foreman/templates"
)

const (
	TaskWorker      = "task_worker"
	TaskModerator   = "task_moderator"
	DocsWorker      = "docs_worker"
	DocsModerator   = "docs_moderator"
	SyncWorker      = "sync_worker"
	SyncModerator   = "sync_moderator"
	Completion      = "completion"
	templateSuffix  = ".tmpl"
	builtinTemplDir = "prompts"
)

// Data is the value every template is executed with.
type Data struct {
	Target     string
	Correction string
}

// Renderer caches parsed templates. Safe for concurrent use.
type Renderer struct {
	overrideDir string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewRenderer returns a renderer that prefers <overrideDir>/<name>.tmpl.
// An empty overrideDir uses only the embedded templates.
func NewRenderer(overrideDir string) *Renderer {
	return &Renderer{overrideDir: overrideDir, cache: make(map[string]*template.Template)}
}

func (r *Renderer) Render(name string, data Data) (string, error) {
	tmpl, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[name]; ok {
		return t, nil
	}

	text, err := r.source(name)
	if err != nil {
		return nil, err
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	r.cache[name] = t
	return t, nil
}

func (r *Renderer) source(name string) (string, error) {
	file := name + templateSuffix
	if r.overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(r.overrideDir, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt override %s: %w", file, err)
		}
	}
	data, err := fs.ReadFile(templates.FS, builtinTemplDir+"/"+file)
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return string(data), nil
}
