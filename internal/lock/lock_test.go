package lock

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("tasks/a.md")
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, km.Len(), "idle keys must be dropped")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key b blocked on key a")
	}
}

func TestKeyedMutex_UnlockIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("a")
	unlock()
	assert.NotPanics(t, unlock)
	assert.Equal(t, 0, km.Len())
}

func TestImmutable_ReleaseAlwaysSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// Without CAP_LINUX_IMMUTABLE (or on tmpfs) this degrades to a no-op;
	// either way release must leave the file writable.
	release := Immutable(path, zap.NewNop())
	release()
	assert.NoError(t, os.WriteFile(path, []byte("y"), 0o644))
}

func TestImmutable_MissingFile(t *testing.T) {
	release := Immutable(filepath.Join(t.TempDir(), "missing"), nil)
	assert.NotPanics(t, release)
}
