package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
)

const (
	workerInstruction    = "work"
	moderatorInstruction = "review"
)

// scriptedExecutor answers worker and moderator calls from queues. The last
// entry of a queue repeats.
type scriptedExecutor struct {
	mu        sync.Mutex
	worker    []reply
	moderator []reply
	reqs      []agent.Request
}

type reply struct {
	output string
	err    error
	delay  time.Duration
	cost   float64
}

func (s *scriptedExecutor) Execute(ctx context.Context, req agent.Request) (model.ExecutionResult, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	queue := &s.worker
	if req.Instruction == moderatorInstruction {
		queue = &s.moderator
	}
	rep := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	s.mu.Unlock()

	if rep.delay > 0 {
		if req.Config.Timeout > 0 && req.Config.Timeout < rep.delay {
			time.Sleep(req.Config.Timeout)
			return model.ExecutionResult{}, &agent.TimeoutError{Timeout: req.Config.Timeout, Elapsed: req.Config.Timeout}
		}
		select {
		case <-time.After(rep.delay):
		case <-ctx.Done():
			return model.ExecutionResult{}, ctx.Err()
		}
	}
	if rep.err != nil {
		return model.ExecutionResult{}, rep.err
	}
	return model.ExecutionResult{Output: rep.output, Metadata: &model.ExecutionMetadata{CostUSD: rep.cost}}, nil
}

func (s *scriptedExecutor) requests() []agent.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Request(nil), s.reqs...)
}

type fakeUnit struct {
	target      string
	lockPath    string
	policy      Policy
	moderated   bool
	workerTO    time.Duration
	corrections []string
	workerErr   error
	panicOnWork bool
}

func (u *fakeUnit) Kind() model.UnitKind { return model.KindTask }
func (u *fakeUnit) Target() string       { return u.target }
func (u *fakeUnit) LockPath() string     { return u.lockPath }
func (u *fakeUnit) Policy() Policy       { return u.policy }

func (u *fakeUnit) WorkerRequest(correction string) (agent.Request, error) {
	if u.panicOnWork {
		panic("broken unit")
	}
	if u.workerErr != nil {
		return agent.Request{}, u.workerErr
	}
	u.corrections = append(u.corrections, correction)
	return agent.Request{Instruction: workerInstruction, Input: u.target, Config: agent.Config{Model: "m", Timeout: u.workerTO}}, nil
}

func (u *fakeUnit) ModeratorRequest(out string) (agent.Request, bool, error) {
	if !u.moderated {
		return agent.Request{}, false, nil
	}
	return agent.Request{Instruction: moderatorInstruction, Input: out, Config: agent.Config{Model: "m"}}, true, nil
}

func newUnit(target string) *fakeUnit {
	return &fakeUnit{target: target, moderated: true, policy: Policy{LoopTimeout: 5 * time.Second}}
}

func TestRun_CompletedFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{
		worker:    []reply{{output: "all done\nWORK DONE", cost: 0.25}},
		moderator: []reply{{output: "PASS", cost: 0.05}},
	}
	res := NewRunner(exec, Options{}).Run(context.Background(), newUnit("a.md"))

	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Attempts, 1)
	att := res.Attempts[0]
	assert.Equal(t, 1, att.Number)
	assert.Empty(t, att.Injected)
	assert.Equal(t, "PASS", att.ModeratorOutput)
	assert.InDelta(t, 0.30, res.TotalCost(), 1e-9)
	assert.Equal(t, "all done\nWORK DONE", exec.requests()[1].Input, "moderator sees the worker output")
}

func TestRun_FailThenPassInjectsReason(t *testing.T) {
	exec := &scriptedExecutor{
		worker:    []reply{{output: "WORK DONE"}},
		moderator: []reply{{output: "FAIL: missing unit tests"}, {output: "PASS"}},
	}
	u := newUnit("a.md")
	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Attempts, 2)
	assert.Empty(t, res.Attempts[0].Injected)
	assert.Contains(t, res.Attempts[1].Injected, "missing unit tests")
	assert.Equal(t, 2, res.Attempts[1].Number)
	assert.Equal(t, []string{"", res.Attempts[1].Injected}, u.corrections)
}

func TestRun_NoModeratorCompletesOnWorkDone(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE"}}}
	u := newUnit("a.md")
	u.moderated = false
	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Len(t, res.Attempts, 1)
	assert.Len(t, exec.requests(), 1)
}

func TestRun_Feedback(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "FEEDBACK: which database should I use?"}}}
	res := NewRunner(exec, Options{}).Run(context.Background(), newUnit("a.md"))

	assert.Equal(t, model.StatusFeedback, res.Status)
	assert.Equal(t, "which database should I use?", res.Feedback)
	assert.Len(t, res.Attempts, 1)
	assert.Len(t, exec.requests(), 1, "no moderator call on feedback")
	assert.Equal(t, 0, model.ExitCode(res.Status))
}

func TestRun_UnclearReviewRetries(t *testing.T) {
	exec := &scriptedExecutor{
		worker:    []reply{{output: "WORK DONE"}},
		moderator: []reply{{output: "hmm, not sure"}, {output: "PASS"}},
	}
	res := NewRunner(exec, Options{}).Run(context.Background(), newUnit("a.md"))

	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[1].Injected, "validation unclear")
}

func TestRun_NoMarkerUntilTimeout(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "still thinking", delay: 20 * time.Millisecond}}}
	u := newUnit("a.md")
	u.policy.LoopTimeout = 150 * time.Millisecond

	start := time.Now()
	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusTimeout, res.Status)
	assert.GreaterOrEqual(t, len(res.Attempts), 1)
	if len(res.Attempts) > 1 {
		assert.Contains(t, res.Attempts[1].Injected, "completion marker")
	}
	for i, att := range res.Attempts {
		assert.Equal(t, i+1, att.Number)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, model.ExitCode(res.Status))
}

func TestRun_ClampedWorkerTimeoutEndsAsTimeout(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE", delay: time.Hour}}}
	u := newUnit("a.md")
	u.policy.LoopTimeout = 100 * time.Millisecond

	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusTimeout, res.Status)
	require.Len(t, res.Attempts, 1)
	assert.NotEmpty(t, res.Attempts[0].Error)
	timeout := exec.requests()[0].Config.Timeout
	assert.Positive(t, timeout)
	assert.LessOrEqual(t, timeout, 100*time.Millisecond, "unbounded worker is clamped to the loop budget")
}

func TestRun_RoleTimeoutIsFailure(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE", delay: time.Hour}}}
	u := newUnit("a.md")
	u.workerTO = 30 * time.Millisecond

	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "worker")
	assert.Equal(t, 30*time.Millisecond, exec.requests()[0].Config.Timeout, "role timeout is kept when shorter")
}

func TestRun_EngineFailureKeepsAttempts(t *testing.T) {
	exec := &scriptedExecutor{
		worker:    []reply{{output: "WORK DONE"}, {err: &agent.ExecutionError{ExitCode: 2, Stderr: "boom"}}},
		moderator: []reply{{output: "FAIL: nope"}},
	}
	res := NewRunner(exec, Options{}).Run(context.Background(), newUnit("a.md"))

	assert.Equal(t, model.StatusFailed, res.Status)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "FAIL: nope", res.Attempts[0].ModeratorOutput)
	assert.Contains(t, res.Error, "worker")
}

func TestRun_MaxAttempts(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "nothing"}}}
	u := newUnit("a.md")
	u.policy.MaxAttempts = 3

	res := NewRunner(exec, Options{}).Run(context.Background(), u)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Error, "3 attempts")
}

func TestRun_PrepareErrorAndPanic(t *testing.T) {
	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE"}}}
	r := NewRunner(exec, Options{})

	u := newUnit("a.md")
	u.workerErr = errors.New("task file vanished")
	res := r.Run(context.Background(), u)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "task file vanished")

	u = newUnit("b.md")
	u.panicOnWork = true
	res = r.Run(context.Background(), u)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "broken unit")
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE"}}}
	res := NewRunner(exec, Options{}).Run(ctx, newUnit("a.md"))
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Empty(t, exec.requests())
}

func TestRun_RecordsProgressAndEvents(t *testing.T) {
	dir := t.TempDir()
	plog, err := events.OpenProgressLog(dir, "run_1", 0)
	require.NoError(t, err)
	bus := events.NewBus(16, nil)

	var finished atomic.Int32
	var status atomic.Value
	bus.Subscribe(events.EventUnitFinished, func(ev events.Event) {
		status.Store(ev.Status)
		finished.Add(1)
	})

	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE"}}, moderator: []reply{{output: "PASS"}}}
	res := NewRunner(exec, Options{RunID: "run_1", Progress: plog, Bus: bus}).Run(context.Background(), newUnit("a.md"))
	require.Equal(t, model.StatusCompleted, res.Status)
	require.NoError(t, plog.Close())
	bus.Close()

	data, err := os.ReadFile(filepath.Join(dir, "run_1.jsonl"))
	require.NoError(t, err)
	var steps []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e events.Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []string{
		events.StepUnitStarted,
		events.StepWorkerStarted, events.StepWorkerFinished,
		events.StepReviewStarted, events.StepReviewFinished,
		events.StepUnitFinished,
	}, steps)
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, "completed", status.Load())
}

func TestRun_ProgressFailureDoesNotChangeOutcome(t *testing.T) {
	plog, err := events.OpenProgressLog(t.TempDir(), "run_1", 0)
	require.NoError(t, err)
	require.NoError(t, plog.Close())

	exec := &scriptedExecutor{worker: []reply{{output: "WORK DONE"}}, moderator: []reply{{output: "PASS"}}}
	res := NewRunner(exec, Options{Progress: plog}).Run(context.Background(), newUnit("a.md"))
	assert.Equal(t, model.StatusCompleted, res.Status)
}

func TestRunBatch_ResultsInInputOrder(t *testing.T) {
	exec := &scriptedExecutor{
		worker:    []reply{{output: "WORK DONE", delay: 10 * time.Millisecond}},
		moderator: []reply{{output: "PASS"}},
	}
	var units []Unit
	for _, name := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		units = append(units, newUnit(name))
	}

	results := NewRunner(exec, Options{}).RunBatch(context.Background(), units, 2)

	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, units[i].Target(), res.Target)
		assert.Equal(t, model.StatusCompleted, res.Status)
	}
	assert.Equal(t, 0, model.Summarize(results).ExitCode())
}

type concurrencyExecutor struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *concurrencyExecutor) Execute(context.Context, agent.Request) (model.ExecutionResult, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return model.ExecutionResult{Output: "WORK DONE"}, nil
}

func TestRunBatch_BoundsConcurrency(t *testing.T) {
	exec := &concurrencyExecutor{}
	var units []Unit
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		u := newUnit(name)
		u.moderated = false
		units = append(units, u)
	}
	NewRunner(exec, Options{}).RunBatch(context.Background(), units, 2)
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
}

func TestRunBatch_SameTargetSerialized(t *testing.T) {
	exec := &concurrencyExecutor{}
	var units []Unit
	for range 4 {
		u := newUnit("same.md")
		u.moderated = false
		units = append(units, u)
	}
	NewRunner(exec, Options{}).RunBatch(context.Background(), units, 4)
	assert.Equal(t, int32(1), exec.peak.Load())
}
