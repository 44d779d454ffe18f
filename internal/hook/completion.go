package hook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/marker"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/transcript"
)

// Executor runs one agent invocation.
type Executor interface {
	Execute(ctx context.Context, req agent.Request) (model.ExecutionResult, error)
}

// CompletionValidator asks a moderator agent whether a stopping agent has
// finished. Ambiguous moderator output blocks.
type CompletionValidator struct {
	exec        Executor
	cfg         agent.Config
	instruction string
	budget      int
	counter     transcript.Counter
	logger      *zap.Logger
}

func NewCompletionValidator(exec Executor, cfg agent.Config, instruction string, budget int, counter transcript.Counter, logger *zap.Logger) *CompletionValidator {
	if budget <= 0 {
		budget = transcript.DefaultTokenBudget
	}
	if counter == nil {
		counter = transcript.TiktokenCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionValidator{
		exec:        exec,
		cfg:         cfg.WithoutHooks(),
		instruction: instruction,
		budget:      budget,
		counter:     counter,
		logger:      logger,
	}
}

func (v *CompletionValidator) Validate(ctx context.Context, in Input) (Result, error) {
	// The agent is already continuing because of an earlier block.
	if in.StopHookActive {
		return Allow(in.EventName), nil
	}
	if in.TranscriptPath == "" {
		return Result{}, errors.New("stop request has no transcript_path")
	}

	msgs, err := transcript.ParseFile(in.TranscriptPath)
	if err != nil {
		return Result{}, err
	}
	window, kept := transcript.Window(msgs, v.budget, v.counter)
	if kept == 0 {
		return Result{}, fmt.Errorf("no messages fit the %d token budget", v.budget)
	}
	v.logger.Debug("conversation window",
		zap.Int("messages", len(msgs)),
		zap.Int("kept", kept),
		zap.String("session_id", in.SessionID))

	res, err := v.exec.Execute(ctx, agent.Request{
		Instruction: v.instruction,
		Input:       window,
		Config:      v.cfg,
		WorkingDir:  in.Cwd,
	})
	if err != nil {
		return Result{}, fmt.Errorf("completion moderator: %w", err)
	}

	gate := marker.ParseGate(res.Output)
	if !gate.Clear {
		v.logger.Warn("moderator output unclear, blocking", zap.String("output", res.Output))
	}
	if gate.Allow {
		return Allow(in.EventName), nil
	}
	return Reject(in.EventName, gate.Reason), nil
}
