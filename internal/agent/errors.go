package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedPlatform is returned by process handles on platforms without process groups.
var ErrUnsupportedPlatform = errors.New("process groups are not supported on this platform")

// CommandNotFoundError means the agent executable could not be resolved.
type CommandNotFoundError struct {
	Command string
	Err     error
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("agent command %q not found: %v", e.Command, e.Err)
}

func (e *CommandNotFoundError) Unwrap() error { return e.Err }

// TimeoutError is returned after the process group has been terminated.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// ExecutionError carries the captured output of a failed invocation.
type ExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Reason   string
}

func (e *ExecutionError) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = fmt.Sprintf("agent exited with code %d", e.ExitCode)
	}
	if detail := tail(strings.TrimSpace(e.Stderr), 500); detail != "" {
		return msg + ": " + detail
	}
	return msg
}

// ProcessKillError means the process group could not be signalled and may have leaked.
type ProcessKillError struct {
	PID    int
	Signal string
	Err    error
}

func (e *ProcessKillError) Error() string {
	return fmt.Sprintf("kill process group %d (%s): %v", e.PID, e.Signal, e.Err)
}

func (e *ProcessKillError) Unwrap() error { return e.Err }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
