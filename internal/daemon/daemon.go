// Package daemon implements `foreman watch`: it watches the task directory
// and runs new or rewritten task files with bounded concurrency.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	defaultScanInterval    = 30 * time.Second
	defaultShutdownTimeout = 2 * time.Minute
	defaultSettle          = 300 * time.Millisecond
)

// Handler runs one task file. ctx is only canceled when shutdown gives up
// waiting.
type Handler func(ctx context.Context, path string)

type Options struct {
	Dir             string
	Patterns        []string
	MaxParallel     int
	ScanInterval    time.Duration
	ShutdownTimeout time.Duration
	// Settle delays a dispatch so editors finish writing. Zero uses the
	// default, negative disables it.
	Settle time.Duration
	Logger *zap.Logger
}

// fileState identifies one version of a file.
type fileState struct {
	modTime time.Time
	size    int64
}

// Daemon dispatches task files to a Handler. A file runs again only after its
// content changed; duplicate events for a file already queued are merged.
type Daemon struct {
	opts    Options
	handler Handler
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	sem     *semaphore.Weighted
	flight  singleflight.Group

	mu      sync.Mutex
	seen    map[string]fileState
	closing bool // set by Shutdown; guards wg.Add

	ctx        context.Context // stops dispatching
	cancel     context.CancelFunc
	workCtx    context.Context // passed to handlers
	workCancel context.CancelFunc
	wg         sync.WaitGroup
	shutdown   sync.Once
}

func New(opts Options, handler Handler) *Daemon {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	} else if opts.Settle == 0 {
		opts.Settle = defaultSettle
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.md"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		opts:    opts,
		handler: handler,
		logger:  logger.Named("watch"),
		sem:     semaphore.NewWeighted(int64(opts.MaxParallel)),
		seen:    make(map[string]fileState),
	}
}

// Run watches until ctx is canceled, then drains in-flight handlers.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.workCtx, d.workCancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", d.opts.Dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := d.addTree(d.opts.Dir); err != nil {
		_ = watcher.Close()
		return err
	}

	d.logger.Info("watch started",
		zap.String("dir", d.opts.Dir),
		zap.Strings("patterns", d.opts.Patterns),
		zap.Int("max_parallel", d.opts.MaxParallel))

	d.scan()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); d.fsnotifyLoop() }()
	go func() { defer loops.Done(); d.tickerLoop() }()

	<-d.ctx.Done()
	d.Shutdown()
	loops.Wait()
	return nil
}

func (d *Daemon) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(e.Name(), ".") {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (d *Daemon) fsnotifyLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (d *Daemon) handleEvent(event fsnotify.Event) {
	d.logger.Debug("fsnotify event", zap.String("op", event.Op.String()), zap.String("file", event.Name))
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		d.forget(event.Name)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if err := d.addTree(event.Name); err != nil {
				d.logger.Warn("watch new directory", zap.Error(err))
			}
			d.scanDir(event.Name)
			return
		}
		d.dispatch(event.Name)
	}
}

// tickerLoop rescans periodically to pick up events fsnotify missed.
func (d *Daemon) tickerLoop() {
	ticker := time.NewTicker(d.opts.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.logger.Debug("periodic scan triggered")
			d.scan()
		}
	}
}

func (d *Daemon) scan() { d.scanDir(d.opts.Dir) }

func (d *Daemon) scanDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if path != dir && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		d.dispatch(path)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Warn("scan failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (d *Daemon) matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	for _, p := range d.opts.Patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// changed records the current version of path and reports whether it differs
// from the last dispatched one.
func (d *Daemon) changed(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	cur := fileState{modTime: st.ModTime(), size: st.Size()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.seen[path]; ok && prev == cur {
		return false
	}
	d.seen[path] = cur
	return true
}

func (d *Daemon) forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, path)
}

func (d *Daemon) dispatch(path string) {
	if d.ctx.Err() != nil || !d.matches(path) || !d.changed(path) {
		return
	}
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		_, _, _ = d.flight.Do(path, func() (any, error) {
			select {
			case <-time.After(d.opts.Settle):
			case <-d.ctx.Done():
				return nil, d.ctx.Err()
			}
			if err := d.sem.Acquire(d.ctx, 1); err != nil {
				return nil, err
			}
			defer d.sem.Release(1)
			d.logger.Info("dispatching task", zap.String("file", path))
			d.handler(d.workCtx, path)
			return nil, nil
		})
	}()
}

// Shutdown stops dispatching and waits for running handlers. Handlers still
// running after the shutdown timeout have their context canceled.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info("shutdown started")
		d.mu.Lock()
		d.closing = true
		d.mu.Unlock()
		if d.cancel != nil {
			d.cancel()
		}
		if d.watcher != nil {
			_ = d.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.Info("all tasks drained")
		case <-time.After(d.opts.ShutdownTimeout):
			d.logger.Warn("shutdown timeout, canceling running tasks", zap.Duration("timeout", d.opts.ShutdownTimeout))
			d.workCancel()
			<-done
		}
		if d.workCancel != nil {
			d.workCancel()
		}
		d.logger.Info("watch stopped")
	})
}
