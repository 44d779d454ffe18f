// Package agent runs the external agent CLI as a subprocess and turns its
// buffered or streamed output into an ExecutionResult or a typed failure.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/model"
)

const (
	defaultPollInterval     = time.Second
	defaultFirstOutputGrace = 30 * time.Second
	defaultKillGrace        = 5 * time.Second
	maxStreamLine           = 10 * 1024 * 1024
)

// Request is one agent invocation.
type Request struct {
	Instruction string // trailing positional argument
	Input       string // written to stdin
	Config      Config
	WorkingDir  string
}

// Executor launches the agent binary. It is safe for concurrent use.
type Executor struct {
	binary string
	env    map[string]string
	logger *zap.Logger

	newProcess       func(ProcessSpec) ProcessHandle
	pollInterval     time.Duration
	firstOutputGrace time.Duration
	killGrace        time.Duration
}

// NewExecutor returns an Executor that runs binary, "claude" when empty, with env added to its environment.
func NewExecutor(binary string, env map[string]string, logger *zap.Logger) *Executor {
	if binary == "" {
		binary = "claude"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		binary:           binary,
		env:              env,
		logger:           logger.Named("agent"),
		newProcess:       newProcess,
		pollInterval:     defaultPollInterval,
		firstOutputGrace: defaultFirstOutputGrace,
		killGrace:        defaultKillGrace,
	}
}

// Execute runs the agent to completion. On timeout the whole process group is
// terminated before *TimeoutError is returned.
func (e *Executor) Execute(ctx context.Context, req Request) (model.ExecutionResult, error) {
	cfg := req.Config
	if cfg.Model == "" {
		return model.ExecutionResult{}, fmt.Errorf("agent config: model is required")
	}

	h := e.newProcess(ProcessSpec{
		Path:      e.binary,
		Args:      BuildArgs(cfg, req.Instruction),
		Env:       childEnv(e.env),
		Dir:       req.WorkingDir,
		Stdin:     req.Input,
		KillGrace: e.killGrace,
	})
	start := time.Now()
	if err := h.Start(ctx); err != nil {
		return model.ExecutionResult{}, err
	}
	defer func() { _ = h.Close() }()

	log := e.logger.With(
		zap.Int("pid", h.PID()),
		zap.String("model", cfg.Model),
		zap.Bool("streaming", cfg.Streaming),
		zap.Duration("timeout", cfg.Timeout),
	)
	log.Debug("agent started")

	var (
		res model.ExecutionResult
		err error
	)
	if cfg.Streaming {
		res, err = e.runStreaming(ctx, h, cfg, start, log)
	} else {
		res, err = e.runBuffered(ctx, h, cfg, start, log)
	}
	if err != nil {
		log.Debug("agent failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return model.ExecutionResult{}, err
	}
	log.Debug("agent finished", zap.Duration("elapsed", time.Since(start)), zap.Int("output_bytes", len(res.Output)))
	return res, nil
}

func (e *Executor) runBuffered(ctx context.Context, h ProcessHandle, cfg Config, start time.Time, log *zap.Logger) (model.ExecutionResult, error) {
	outCh := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(h.Stdout())
		outCh <- b
	}()

	exitErr, err := e.awaitExit(ctx, h, cfg.Timeout, start, log)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	out := string(e.drain(h, outCh))
	if exitErr != nil {
		return model.ExecutionResult{}, exitFailure(exitErr, out, h.Stderr())
	}
	return model.ExecutionResult{Output: out}, nil
}

func (e *Executor) runStreaming(ctx context.Context, h ProcessHandle, cfg Config, start time.Time, log *zap.Logger) (model.ExecutionResult, error) {
	lines := make(chan string, 256)
	stop := make(chan struct{})
	defer close(stop)
	go readLines(h.Stdout(), lines, stop, log)

	acc := &streamAccumulator{logger: log}
	warned := false
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	for {
		wait := e.pollInterval
		if cfg.Timeout > 0 {
			remaining := cfg.Timeout - time.Since(start)
			if remaining <= 0 {
				return model.ExecutionResult{}, e.expire(h, cfg.Timeout, start, log)
			}
			wait = min(wait, remaining)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return model.ExecutionResult{}, e.abort(h, ctx.Err(), log)

		case line, ok := <-lines:
			if !ok {
				return e.finishStream(ctx, h, cfg, start, acc, log)
			}
			acc.consume(line)

		case <-timer.C:
			if acc.lines > 0 || time.Since(start) < e.firstOutputGrace {
				continue
			}
			select {
			case <-h.Done():
				return model.ExecutionResult{}, &ExecutionError{
					ExitCode: exitCode(h.Wait(0)),
					Stderr:   h.Stderr(),
					Reason:   "agent exited without producing output",
				}
			default:
			}
			if !warned {
				warned = true
				log.Warn("no output from agent yet, still waiting",
					zap.Duration("grace", e.firstOutputGrace),
					zap.Duration("elapsed", time.Since(start)))
			}
		}
	}
}

// finishStream runs after stdout reached EOF.
func (e *Executor) finishStream(ctx context.Context, h ProcessHandle, cfg Config, start time.Time, acc *streamAccumulator, log *zap.Logger) (model.ExecutionResult, error) {
	exitErr, err := e.awaitExit(ctx, h, cfg.Timeout, start, log)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	if exitErr != nil {
		return model.ExecutionResult{}, exitFailure(exitErr, acc.output(), h.Stderr())
	}
	if acc.lines == 0 {
		return model.ExecutionResult{}, &ExecutionError{Stderr: h.Stderr(), Reason: "agent exited without producing output"}
	}
	if acc.bad > 0 {
		log.Warn("ignored malformed stream lines", zap.Int("count", acc.bad), zap.Int("lines", acc.lines))
	}
	if acc.meta != nil && acc.meta.IsError {
		log.Warn("agent reported an error result", zap.Int("turns", acc.meta.NumTurns))
	}
	return model.ExecutionResult{Output: acc.output(), Metadata: acc.meta}, nil
}

// awaitExit waits for the process within the remaining budget. exitErr is the
// process's own exit status; err is a terminal engine failure.
func (e *Executor) awaitExit(ctx context.Context, h ProcessHandle, timeout time.Duration, start time.Time, log *zap.Logger) (exitErr, err error) {
	var remaining time.Duration
	if timeout > 0 {
		remaining = timeout - time.Since(start)
		if remaining <= 0 {
			return nil, e.expire(h, timeout, start, log)
		}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- h.Wait(remaining) }()

	select {
	case werr := <-waitCh:
		if errors.Is(werr, errWaitTimeout) {
			return nil, e.expire(h, timeout, start, log)
		}
		if errors.Is(werr, exec.ErrWaitDelay) {
			log.Debug("agent descendants kept output open after exit")
			return nil, nil
		}
		return werr, nil
	case <-ctx.Done():
		return nil, e.abort(h, ctx.Err(), log)
	}
}

func (e *Executor) expire(h ProcessHandle, timeout time.Duration, start time.Time, log *zap.Logger) error {
	elapsed := time.Since(start)
	log.Warn("agent timed out, terminating process group", zap.Duration("elapsed", elapsed))
	if err := h.TerminateGroup(); err != nil {
		return err
	}
	return &TimeoutError{Timeout: timeout, Elapsed: elapsed}
}

func (e *Executor) abort(h ProcessHandle, cause error, log *zap.Logger) error {
	log.Warn("agent cancelled, terminating process group", zap.Error(cause))
	if err := h.TerminateGroup(); err != nil {
		return err
	}
	return cause
}

// drain collects buffered stdout. A descendant that outlives the agent can hold
// the pipe open, so the read end is closed after the kill grace period.
func (e *Executor) drain(h ProcessHandle, ch <-chan []byte) []byte {
	timer := time.NewTimer(e.killGrace)
	defer timer.Stop()
	select {
	case b := <-ch:
		return b
	case <-timer.C:
		_ = h.Close()
		return <-ch
	}
}

func readLines(r io.Reader, out chan<- string, stop <-chan struct{}, log *zap.Logger) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-stop:
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Warn("read agent stdout", zap.Error(err))
	}
}

func exitFailure(err error, stdout, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExecutionError{ExitCode: exitErr.ExitCode(), Stdout: stdout, Stderr: stderr}
	}
	return fmt.Errorf("wait for agent: %w", err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
