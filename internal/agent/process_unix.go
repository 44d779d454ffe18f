//go:build unix

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type unixProcess struct {
	spec ProcessSpec

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  *os.File
	stderr  *tailBuffer
	done    chan struct{}
	waitErr error
}

func newProcess(spec ProcessSpec) ProcessHandle {
	if spec.KillGrace <= 0 {
		spec.KillGrace = 5 * time.Second
	}
	return &unixProcess{spec: spec, stderr: newTailBuffer(defaultStderrTail)}
}

func (p *unixProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("process already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := exec.LookPath(p.spec.Path)
	if err != nil {
		return &CommandNotFoundError{Command: p.spec.Path, Err: err}
	}

	// Stdout is a plain pipe so that cmd.Wait does not close the read end
	// while the caller is still draining it.
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	cmd := exec.Command(path, p.spec.Args...)
	cmd.Dir = p.spec.Dir
	cmd.Env = p.spec.Env
	cmd.Stdin = strings.NewReader(p.spec.Stdin)
	cmd.Stdout = w
	cmd.Stderr = p.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = p.spec.KillGrace

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return &CommandNotFoundError{Command: p.spec.Path, Err: err}
		}
		return fmt.Errorf("start agent: %w", err)
	}
	_ = w.Close()

	p.cmd = cmd
	p.stdout = r
	p.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return nil
}

func (p *unixProcess) Wait(timeout time.Duration) error {
	done := p.Done()
	if done == nil {
		return fmt.Errorf("process not started")
	}
	if timeout <= 0 {
		<-done
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			return errWaitTimeout
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *unixProcess) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *unixProcess) TerminateGroup() error {
	pid := p.PID()
	if pid == 0 {
		return nil
	}
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		return err
	}
	timer := time.NewTimer(p.spec.KillGrace)
	defer timer.Stop()
	select {
	case <-p.Done():
		// The leader is gone; sweep any descendants that ignored SIGTERM.
		return signalGroup(pid, unix.SIGKILL)
	case <-timer.C:
	}
	return signalGroup(pid, unix.SIGKILL)
}

// signalGroup sends sig to the process group led by pgid. A group that no
// longer exists is not an error.
func signalGroup(pgid int, sig unix.Signal) error {
	err := unix.Kill(-pgid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return &ProcessKillError{PID: pgid, Signal: unix.SignalName(sig), Err: err}
}

func (p *unixProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *unixProcess) Stdout() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

func (p *unixProcess) Stderr() string {
	return p.stderr.String()
}

func (p *unixProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout == nil {
		return nil
	}
	err := p.stdout.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
