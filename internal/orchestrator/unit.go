// Package orchestrator drives units of work through the worker/moderator
// retry loop and runs batches of units with bounded concurrency.
package orchestrator

import (
	"context"
	"time"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/model"
)

// Executor runs one agent invocation.
type Executor interface {
	Execute(ctx context.Context, req agent.Request) (model.ExecutionResult, error)
}

// Policy bounds one unit's retry loop.
type Policy struct {
	LoopTimeout time.Duration
	MaxAttempts int // 0 = bounded by LoopTimeout only
}

// Unit is one piece of work: a task file, a doc file or a module. A Unit is
// used by a single Run at a time; its methods are called sequentially.
type Unit interface {
	Kind() model.UnitKind
	Target() string
	// LockPath is the input file kept immutable while the unit runs, or "".
	LockPath() string
	Policy() Policy
	// WorkerRequest builds the worker invocation. correction is empty on the
	// first attempt.
	WorkerRequest(correction string) (agent.Request, error)
	// ModeratorRequest builds the review of a completion claim. ok is false
	// when the workflow has no moderator.
	ModeratorRequest(workerOutput string) (req agent.Request, ok bool, err error)
}
