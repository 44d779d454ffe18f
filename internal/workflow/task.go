package workflow

import (
	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/orchestrator"
	"github.com/msageha/foreman/internal/prompt"
)

type taskWorkflow struct{ base }

func (w *taskWorkflow) Discover() ([]string, error) {
	return w.matchFiles(w.cfg.Dir, w.cfg.Patterns)
}

func (w *taskWorkflow) Prepare(target string) (orchestrator.Unit, error) {
	path := w.abs(target)
	body, err := readTarget(path)
	if err != nil {
		return nil, err
	}
	return &taskUnit{base: w.base, target: target, path: path, body: body}, nil
}

// taskUnit runs the task described by one file. The file is the unit's input
// and is held immutable while the unit runs.
type taskUnit struct {
	base
	target string
	path   string
	body   string
}

func (u *taskUnit) Target() string              { return u.target }
func (u *taskUnit) LockPath() string            { return u.path }
func (u *taskUnit) Policy() orchestrator.Policy { return u.policy }

func (u *taskUnit) WorkerRequest(correction string) (agent.Request, error) {
	return u.request(prompt.TaskWorker, u.target, correction, u.body, u.root, u.worker)
}

func (u *taskUnit) ModeratorRequest(out string) (agent.Request, bool, error) {
	if u.moderator == nil {
		return agent.Request{}, false, nil
	}
	input := section("task", u.body) + "\n" + section("worker_output", out)
	req, err := u.request(prompt.TaskModerator, u.target, "", input, u.root, *u.moderator)
	return req, err == nil, err
}
