package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// errWaitTimeout is returned by ProcessHandle.Wait when the process is still running.
var errWaitTimeout = errors.New("process still running")

// ProcessSpec describes one child process.
type ProcessSpec struct {
	Path      string
	Args      []string
	Env       []string
	Dir       string
	Stdin     string
	KillGrace time.Duration // SIGTERM to SIGKILL delay
}

// ProcessHandle owns a child process running in its own process group.
// It is the only place that knows about platform signal semantics.
type ProcessHandle interface {
	Start(ctx context.Context) error
	// Wait blocks until exit or until timeout elapses (timeout <= 0 waits forever).
	// It returns errWaitTimeout if the process is still running.
	Wait(timeout time.Duration) error
	Done() <-chan struct{}
	// TerminateGroup signals the whole group: SIGTERM, then SIGKILL after the grace period.
	TerminateGroup() error
	PID() int
	Stdout() io.Reader
	Stderr() string
	// Close releases the stdout read end.
	Close() error
}

const defaultStderrTail = 16 * 1024

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = defaultStderrTail
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
