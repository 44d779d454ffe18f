package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/hook"
	"github.com/msageha/foreman/internal/metrics"
	"github.com/msageha/foreman/internal/prompt"
	"github.com/msageha/foreman/internal/transcript"
)

// runHook decides one hook request. Whatever happens, exactly one decision
// document is written to stdout and the exit status is 0.
func runHook(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: foreman hook <%s>\n", kindList())
		return 2
	}
	kind, err := hook.ParseValidatorKind(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\nusage: foreman hook <%s>\n", err, kindList())
		return 2
	}

	logger := zap.NewNop()
	validators := map[hook.ValidatorKind]hook.Validator{}
	maxInput := 0
	var m *metrics.Metrics

	// A missing workspace still produces a decision: the engine allows.
	if ws, err := openWorkspace(); err == nil {
		l, cleanup, lerr := ws.logger("hook", false)
		if lerr == nil {
			defer cleanup()
			logger = l
		}
		maxInput = ws.cfg.Hooks.MaxInputBytes
		m = metrics.New()
		if v, err := ws.validator(kind, logger); err != nil {
			logger.Error("build validator", zap.String("validator", string(kind)), zap.Error(err))
		} else {
			validators[kind] = v
		}
		defer func() {
			if err := m.WriteTextfile(ws.abs(ws.cfg.Metrics.TextfilePath)); err != nil {
				logger.Warn("write metrics", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := hook.NewEngine(validators, maxInput, logger, m)
	if err := engine.Run(ctx, kind, os.Stdin, os.Stdout); err != nil {
		logger.Error("write hook decision", zap.Error(err))
	}
	return 0
}

func (ws *workspace) validator(kind hook.ValidatorKind, logger *zap.Logger) (hook.Validator, error) {
	switch kind {
	case hook.KindBash:
		return hook.NewBashValidator(ws.cfg.Hooks.CommitWrapper), nil
	case hook.KindQuality:
		return hook.NewQualityValidator(), nil
	case hook.KindCompletion:
		cfg, err := agent.FromRole(ws.cfg.Hooks.Moderator, ws.settingsPath())
		if err != nil {
			return nil, err
		}
		instruction, err := ws.prompts().Render(prompt.Completion, prompt.Data{})
		if err != nil {
			return nil, err
		}
		return hook.NewCompletionValidator(ws.executor(logger), cfg, instruction,
			ws.cfg.Hooks.TokenBudget, transcript.TiktokenCounter{}, logger), nil
	}
	return nil, fmt.Errorf("unknown validator %q", kind)
}

func kindList() string {
	kinds := hook.ValidatorKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, "|")
}

func runSettings(args []string) int {
	write := false
	for _, a := range args {
		switch a {
		case "--write":
			write = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: foreman settings [--write]\n", a)
			return 2
		}
	}
	ws, err := openWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	hooks := hook.BuildSettings(hook.DefaultRegistrations(selfPath(), ws.cfg.Hooks.TimeoutSec))
	if !write {
		data, err := hook.MarshalSettings(hooks)
		if err != nil {
			fmt.Fprintf(os.Stderr, "settings: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	if err := hook.WriteSettings(ws.settingsPath(), hooks); err != nil {
		fmt.Fprintf(os.Stderr, "settings: %v\n", err)
		return 1
	}
	fmt.Printf("wrote hook settings to %s\n", ws.settingsPath())
	return 0
}
