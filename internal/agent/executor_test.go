//go:build unix

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// writeAgent creates an executable shell script standing in for the agent CLI.
func writeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestExecutor(binary string) *Executor {
	e := NewExecutor(binary, nil, zap.NewNop())
	e.killGrace = 2 * time.Second
	return e
}

func TestExecute_BufferedEchoesStdin(t *testing.T) {
	e := newTestExecutor(writeAgent(t, "cat"))

	res, err := e.Execute(context.Background(), Request{
		Instruction: "go",
		Input:       "task body\n",
		Config:      Config{Model: "sonnet"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task body\n", res.Output)
	assert.Nil(t, res.Metadata)
}

func TestExecute_PassesArgumentsAndWorkingDir(t *testing.T) {
	dir := t.TempDir()
	e := newTestExecutor(writeAgent(t, `pwd; for a in "$@"; do echo "[$a]"; done`))

	res, err := e.Execute(context.Background(), Request{
		Instruction: "the instruction",
		Config:      Config{Model: "opus", Allowed: []string{"Read"}, Denied: []string{"Bash", "Write"}},
		WorkingDir:  dir,
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, res.Output, resolved)
	assert.Contains(t, res.Output, "[--print]\n[--model]\n[opus]\n")
	assert.Contains(t, res.Output, "[--disallowed-tools]\n[Bash Write]\n")
	assert.Contains(t, res.Output, "[the instruction]\n")
}

func TestExecute_StripsClaudeCodeEnv(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	e := newTestExecutor(writeAgent(t, `echo "${CLAUDECODE:-unset}"`))

	res, err := e.Execute(context.Background(), Request{Config: Config{Model: "m"}})
	require.NoError(t, err)
	assert.Equal(t, "unset\n", res.Output)
}

func TestExecute_NonZeroExit(t *testing.T) {
	e := newTestExecutor(writeAgent(t, "echo partial; echo broken >&2; exit 2"))

	_, err := e.Execute(context.Background(), Request{Config: Config{Model: "m"}})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, 2, execErr.ExitCode)
	assert.Equal(t, "partial\n", execErr.Stdout)
	assert.Contains(t, execErr.Stderr, "broken")
}

func TestExecute_CommandNotFound(t *testing.T) {
	e := newTestExecutor(filepath.Join(t.TempDir(), "missing-agent"))

	_, err := e.Execute(context.Background(), Request{Config: Config{Model: "m"}})
	var notFound *CommandNotFoundError
	assert.True(t, errors.As(err, &notFound), "got %v", err)
}

func TestExecute_RejectsUnvalidatedConfig(t *testing.T) {
	e := newTestExecutor(writeAgent(t, "cat"))
	_, err := e.Execute(context.Background(), Request{})
	assert.Error(t, err)
}

func TestExecute_TimeoutTerminatesProcessGroup(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "terminated")
	e := newTestExecutor(writeAgent(t, `trap 'echo term > "`+marker+`"; exit 143' TERM
sleep 300 &
wait`))

	start := time.Now()
	_, err := e.Execute(context.Background(), Request{Config: Config{Model: "m", Timeout: 2 * time.Second}})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, 2*time.Second, timeoutErr.Timeout)
	assert.GreaterOrEqual(t, elapsed, 1500*time.Millisecond)
	assert.LessOrEqual(t, elapsed, 2500*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, statErr := os.Stat(marker)
		return statErr == nil
	}, 2*time.Second, 20*time.Millisecond, "process group did not receive SIGTERM")
}

func TestExecute_ContextCancel(t *testing.T) {
	e := newTestExecutor(writeAgent(t, "sleep 300"))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, Request{Config: Config{Model: "m"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecute_StreamingParsesEvents(t *testing.T) {
	e := newTestExecutor(writeAgent(t, `cat <<'EOF'
{"type":"system","subtype":"init"}
{"type":"assistant","message":{"content":[{"type":"text","text":"did the thing"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"WORK DONE"}]}}
{"type":"result","result":"WORK DONE","total_cost_usd":0.05,"duration_ms":1200,"num_turns":2}
EOF`))

	res, err := e.Execute(context.Background(), Request{Config: Config{Model: "m", Streaming: true, Timeout: 10 * time.Second}})
	require.NoError(t, err)
	assert.Equal(t, "did the thing\nWORK DONE", res.Output)
	require.NotNil(t, res.Metadata)
	assert.InDelta(t, 0.05, res.Metadata.CostUSD, 1e-9)
	assert.Equal(t, 2, res.Metadata.NumTurns)
	assert.Equal(t, 1200*time.Millisecond, res.Metadata.Duration)
}

func TestExecute_StreamingExitWithoutOutput(t *testing.T) {
	e := newTestExecutor(writeAgent(t, "echo 'auth failed' >&2; exit 1"))

	start := time.Now()
	_, err := e.Execute(context.Background(), Request{Config: Config{Model: "m", Streaming: true, Timeout: 30 * time.Second}})

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Contains(t, execErr.Stderr, "auth failed")
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}

func TestExecute_StreamingTimeout(t *testing.T) {
	e := newTestExecutor(writeAgent(t, `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
sleep 300`))

	start := time.Now()
	_, err := e.Execute(context.Background(), Request{Config: Config{Model: "m", Streaming: true, Timeout: time.Second}})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecute_FirstOutputWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := NewExecutor(writeAgent(t, `sleep 1
echo '{"type":"result","result":"late"}'`), nil, zap.New(core))
	e.pollInterval = 50 * time.Millisecond
	e.firstOutputGrace = 200 * time.Millisecond

	res, err := e.Execute(context.Background(), Request{Config: Config{Model: "m", Streaming: true}})
	require.NoError(t, err)
	assert.Equal(t, "late", res.Output)
	assert.Equal(t, 1, logs.FilterMessage("no output from agent yet, still waiting").Len())
}
