//go:build !unix

package lock

// FileLock is a no-op where flock is unavailable.
type FileLock struct{ path string }

func NewFileLock(path string) *FileLock { return &FileLock{path: path} }

func (fl *FileLock) TryLock() error { return nil }

func (fl *FileLock) Unlock() error { return nil }

func HolderPID(string) (int, bool) { return 0, false }
