package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/daemon"
	"github.com/msageha/foreman/internal/model"
)

func runWatch(args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\nusage: foreman watch\n", args[0])
		return 2
	}
	ws, err := openWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger, cleanup, err := ws.logger("watch", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer cleanup()

	fl, err := ws.lockRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = fl.Unlock() }()

	wf, err := ws.workflow(model.KindTask)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	s, err := ws.newSession(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.close(ws)

	// Results of the whole watch session accumulate in one run file.
	var (
		mu      sync.Mutex
		results []model.Result
	)
	handler := func(ctx context.Context, path string) {
		target := path
		if rel, err := filepath.Rel(ws.root, path); err == nil {
			target = filepath.ToSlash(rel)
		}
		u, err := wf.Prepare(target)
		if err != nil {
			s.logger.Error("prepare unit", zap.String("target", target), zap.Error(err))
			return
		}
		res := s.runner.RunExclusive(ctx, u)

		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		if _, _, err := s.writeResults(ws, model.KindTask, results); err != nil {
			s.logger.Error("write results", zap.Error(err))
		}
	}

	cfg := ws.cfg
	d := daemon.New(daemon.Options{
		Dir:             ws.abs(cfg.Task.Dir),
		Patterns:        cfg.Task.Patterns,
		MaxParallel:     cfg.Concurrency.MaxParallel,
		ScanInterval:    time.Duration(cfg.Watch.ScanIntervalSec) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Watch.ShutdownTimeoutSec) * time.Second,
		Logger:          s.logger,
	}, handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}

	mu.Lock()
	defer mu.Unlock()
	summary := model.Summarize(results)
	printSummary(os.Stdout, s.runID, results, summary)
	return summary.ExitCode()
}
