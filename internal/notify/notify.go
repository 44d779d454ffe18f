// Package notify sends best-effort desktop notifications when a unit needs a
// human.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
)

const sendTimeout = 5 * time.Second

var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Notifier shows desktop notifications with osascript on macOS and
// notify-send elsewhere.
type Notifier struct {
	goos   string
	run    runFunc
	logger *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{goos: runtime.GOOS, run: execRun, logger: logger.Named("notify")}
}

// Send shows one notification.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	name, args, err := n.command(title, message)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if out, err := n.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (n *Notifier) command(title, message string) (string, []string, error) {
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s" sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send", []string{"--app-name=foreman", title, message}, nil
	}
	return "", nil, ErrUnsupported
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Watch notifies for every unit that finishes with feedback. The returned
// function unsubscribes.
func (n *Notifier) Watch(bus *events.Bus) func() {
	return bus.Subscribe(events.EventUnitFinished, func(ev events.Event) {
		if ev.Status != string(model.StatusFeedback) {
			return
		}
		if err := n.Send(context.Background(), "foreman: input needed on "+ev.Unit, ev.Message); err != nil {
			n.logger.Warn("notification failed", zap.String("unit", ev.Unit), zap.Error(err))
		}
	})
}
