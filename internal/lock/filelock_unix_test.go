//go:build unix

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "run.lock")
	fl := NewFileLock(path)
	require.NoError(t, fl.TryLock())
	defer fl.Unlock()

	pid, ok := HolderPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestFileLock_DoubleLockRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	first := NewFileLock(path)
	require.NoError(t, first.TryLock())
	defer first.Unlock()

	err := NewFileLock(path).TryLock()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestFileLock_UnlockAllowsRelock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	first := NewFileLock(path)
	require.NoError(t, first.TryLock())
	require.NoError(t, first.Unlock())

	second := NewFileLock(path)
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestFileLock_DoubleUnlockSafe(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "run.lock"))
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
	assert.NoError(t, fl.Unlock())
}
