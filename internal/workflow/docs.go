package workflow

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/orchestrator"
	"github.com/msageha/foreman/internal/prompt"
)

type docsWorkflow struct{ base }

func (w *docsWorkflow) Discover() ([]string, error) {
	return w.matchFiles(w.cfg.Dir, w.cfg.Patterns)
}

func (w *docsWorkflow) Prepare(target string) (orchestrator.Unit, error) {
	path := w.abs(target)
	before, err := readTarget(path)
	if err != nil {
		return nil, err
	}
	return &docsUnit{base: w.base, target: target, path: path, before: before}, nil
}

// docsUnit maintains one documentation file. The worker edits the file in
// place, so it is never locked; the moderator reviews the change against the
// content the unit started from.
type docsUnit struct {
	base
	target string
	path   string
	before string
}

func (u *docsUnit) Target() string              { return u.target }
func (u *docsUnit) LockPath() string            { return "" }
func (u *docsUnit) Policy() orchestrator.Policy { return u.policy }

func (u *docsUnit) WorkerRequest(correction string) (agent.Request, error) {
	current, err := readTarget(u.path)
	if err != nil {
		return agent.Request{}, err
	}
	return u.request(prompt.DocsWorker, u.target, correction, current, u.root, u.worker)
}

func (u *docsUnit) ModeratorRequest(out string) (agent.Request, bool, error) {
	if u.moderator == nil {
		return agent.Request{}, false, nil
	}
	after, err := readTarget(u.path)
	if err != nil {
		return agent.Request{}, false, err
	}
	input := section("patch", Patch(u.target, u.before, after)) + "\n" + section("worker_output", out)
	req, err := u.request(prompt.DocsModerator, u.target, "", input, u.root, *u.moderator)
	return req, err == nil, err
}

// Patch renders a line diff of before and after with ---/+++ headers.
// Unchanged files produce a single "no changes" line.
func Patch(name, before, after string) string {
	if before == after {
		return fmt.Sprintf("(no changes to %s)", name)
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", name, name)
	var added, deleted int
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				deleted++
			}
			sb.WriteString(prefix + line + "\n")
		}
	}
	fmt.Fprintf(&sb, "(%d added, %d deleted)", added, deleted)
	return sb.String()
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}
