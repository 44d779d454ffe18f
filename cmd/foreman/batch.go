package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/metrics"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/notify"
	"github.com/msageha/foreman/internal/orchestrator"
	atomicyaml "github.com/msageha/foreman/internal/yaml"
)

type batchArgs struct {
	parallel int
	targets  []string
}

func parseBatchArgs(kind model.UnitKind, args []string) (batchArgs, error) {
	var ba batchArgs
	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--parallel", "-p":
			if i+1 >= len(args) {
				return ba, fmt.Errorf("usage: foreman %s [--parallel N] [target...]", kind)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return ba, fmt.Errorf("--parallel must be a positive integer, got %q", args[i])
			}
			ba.parallel = n
		default:
			if len(a) > 1 && a[0] == '-' {
				return ba, fmt.Errorf("unknown flag: %s\nusage: foreman %s [--parallel N] [target...]", a, kind)
			}
			ba.targets = append(ba.targets, a)
		}
	}
	return ba, nil
}

// session is everything one run shares across its units.
type session struct {
	runID    string
	started  time.Time
	logger   *zap.Logger
	progress *events.ProgressLog
	bus      *events.Bus
	metrics  *metrics.Metrics
	runner   *orchestrator.Runner
}

func (ws *workspace) newSession(logger *zap.Logger) (*session, error) {
	runID, err := model.GenerateRunID()
	if err != nil {
		return nil, err
	}
	progress, err := events.OpenProgressLog(filepath.Join(ws.dir, "logs", "progress"), runID, events.DefaultMaxLogSize)
	if err != nil {
		return nil, err
	}
	s := &session{
		runID:    runID,
		started:  time.Now(),
		logger:   logger.With(zap.String("run_id", runID)),
		progress: progress,
		bus:      events.NewBus(0, logger),
		metrics:  metrics.New(),
	}
	watchProgress(s.bus, os.Stderr)
	if ws.cfg.Notify.Enabled {
		notify.New(logger).Watch(s.bus)
	}
	s.runner = orchestrator.NewRunner(ws.executor(logger), orchestrator.Options{
		RunID:         runID,
		Logger:        s.logger,
		Progress:      progress,
		Bus:           s.bus,
		Metrics:       s.metrics,
		ImmutableLock: ws.cfg.Locking.Immutable,
	})
	return s, nil
}

// watchProgress prints one line per finished attempt and unit.
func watchProgress(bus *events.Bus, w io.Writer) {
	bus.Subscribe(events.EventAttemptFinished, func(ev events.Event) {
		fmt.Fprintln(w, gray(fmt.Sprintf("  %s attempt %d: %s (%s)", ev.Unit, ev.Attempt, ev.Message, ev.Duration.Round(time.Second))))
	})
	bus.Subscribe(events.EventUnitFinished, func(ev events.Event) {
		fmt.Fprintf(w, "%s %s\n", statusLabel(model.Status(ev.Status)), ev.Unit)
	})
}

// close flushes pending notifications, then the progress log and metrics.
func (s *session) close(ws *workspace) {
	s.bus.Close()
	if err := s.progress.Close(); err != nil {
		s.logger.Warn("close progress log", zap.Error(err))
	}
	if err := s.metrics.WriteTextfile(ws.abs(ws.cfg.Metrics.TextfilePath)); err != nil {
		s.logger.Warn("write metrics", zap.Error(err))
	}
}

// writeResults persists results/<run_id>.yaml.
func (s *session) writeResults(ws *workspace, kind model.UnitKind, results []model.Result) (string, model.BatchSummary, error) {
	summary := model.Summarize(results)
	path := filepath.Join(ws.dir, "results", s.runID+".yaml")
	err := atomicyaml.AtomicWrite(path, model.RunFile{
		SchemaVersion: 1,
		FileType:      "run_result",
		RunID:         s.runID,
		Kind:          kind,
		StartedAt:     s.started.UTC().Format(time.RFC3339),
		Summary:       summary,
		Results:       results,
	})
	return path, summary, err
}

func runBatch(kind model.UnitKind, args []string) int {
	ba, err := parseBatchArgs(kind, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ws, err := openWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger, cleanup, err := ws.logger(string(kind), true)
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

	wf, err := ws.workflow(kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	targets := ba.targets
	if len(targets) == 0 {
		if targets, err = wf.Discover(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}
	if len(targets) == 0 {
		fmt.Printf("no %s targets found\n", kind)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := ws.newSession(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.close(ws)

	results := make([]model.Result, len(targets))
	var (
		units []orchestrator.Unit
		index []int
	)
	for i, target := range targets {
		u, err := wf.Prepare(target)
		if err != nil {
			s.logger.Error("prepare unit", zap.String("target", target), zap.Error(err))
			results[i] = model.Result{Kind: kind, Target: target, Status: model.StatusFailed, Error: err.Error()}
			continue
		}
		units = append(units, u)
		index = append(index, i)
	}

	parallel := ba.parallel
	if parallel == 0 {
		parallel = ws.cfg.Concurrency.MaxParallel
	}
	for j, res := range s.runner.RunBatch(ctx, units, parallel) {
		results[index[j]] = res
	}

	path, summary, err := s.writeResults(ws, kind, results)
	if err != nil {
		s.logger.Error("write results", zap.Error(err))
	}
	printSummary(os.Stdout, s.runID, results, summary)
	if err == nil {
		fmt.Printf("results: %s\n", path)
	}
	return summary.ExitCode()
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func statusLabel(s model.Status) string {
	label := fmt.Sprintf("%-9s", s)
	switch s {
	case model.StatusCompleted:
		return green(label)
	case model.StatusFeedback:
		return yellow(label)
	default:
		return red(label)
	}
}

func printSummary(w io.Writer, runID string, results []model.Result, sum model.BatchSummary) {
	fmt.Fprintf(w, "%s %s\n", bold("run"), runID)
	for _, r := range results {
		line := fmt.Sprintf("  %s %s %s", statusLabel(r.Status), r.Target,
			gray(fmt.Sprintf("(%d attempts, %s)", len(r.Attempts), r.Duration.Round(time.Second))))
		switch {
		case r.Feedback != "":
			line += "\n      " + yellow(firstLine(r.Feedback))
		case r.Error != "":
			line += "\n      " + red(firstLine(r.Error))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s %d total, %s, %s, %s, %s, $%.4f\n", bold("summary"), sum.Total,
		green(fmt.Sprintf("%d completed", sum.Completed)),
		yellow(fmt.Sprintf("%d feedback", sum.Feedback)),
		red(fmt.Sprintf("%d failed", sum.Failed)),
		red(fmt.Sprintf("%d timeout", sum.Timeout)),
		sum.CostUSD)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
