package hook

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/metrics"
)

// ValidatorKind selects the validator a hook command runs.
type ValidatorKind string

const (
	KindBash       ValidatorKind = "bash"
	KindQuality    ValidatorKind = "quality"
	KindCompletion ValidatorKind = "completion"
)

func ValidatorKinds() []ValidatorKind {
	return []ValidatorKind{KindBash, KindQuality, KindCompletion}
}

func ParseValidatorKind(s string) (ValidatorKind, error) {
	for _, k := range ValidatorKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown validator %q (want bash, quality or completion)", s)
}

// Event is the hook event a validator is registered for. It decides the
// output format when the request itself could not be read.
func (k ValidatorKind) Event() Event {
	if k == KindCompletion {
		return EventStop
	}
	return EventPreToolUse
}

// Engine runs one validator per invocation and always produces a decision.
// Failures to read the request or to reach a moderator allow; the agent
// must never be wedged by a broken hook.
type Engine struct {
	validators    map[ValidatorKind]Validator
	maxInputBytes int
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

func NewEngine(validators map[ValidatorKind]Validator, maxInputBytes int, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInputBytes <= 0 {
		maxInputBytes = DefaultMaxInputBytes
	}
	return &Engine{
		validators:    validators,
		maxInputBytes: maxInputBytes,
		logger:        logger.Named("hook"),
		metrics:       m,
	}
}

// Run reads one request from r and writes exactly one decision to w.
func (e *Engine) Run(ctx context.Context, kind ValidatorKind, r io.Reader, w io.Writer) error {
	res := e.decide(ctx, kind, r)
	e.metrics.ObserveHookDecision(string(kind), string(res.Decision))

	data, err := res.Marshal()
	if err != nil {
		e.logger.Error("marshal decision", zap.Error(err))
		data, _ = Allow(kind.Event()).Marshal()
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

func (e *Engine) decide(ctx context.Context, kind ValidatorKind, r io.Reader) (res Result) {
	log := e.logger.With(zap.String("validator", string(kind)))
	res = Allow(kind.Event())
	defer func() {
		if p := recover(); p != nil {
			log.Error("validator panic, allowing", zap.Any("panic", p), zap.Stack("stack"))
			res = Allow(kind.Event())
		}
	}()

	in, err := readInput(r, e.maxInputBytes, kind.Event())
	if err != nil {
		log.Warn("unreadable hook input, allowing", zap.Error(err))
		return res
	}
	log = log.With(zap.String("event", string(in.EventName)), zap.String("tool", in.ToolName))

	v, ok := e.validators[kind]
	if !ok {
		log.Error("validator not configured, allowing")
		return Allow(in.EventName)
	}
	out, err := v.Validate(ctx, in)
	if err != nil {
		log.Error("validator failed, allowing", zap.Error(err))
		return Allow(in.EventName)
	}
	if out.Event == "" {
		out.Event = in.EventName
	}
	if !out.Allowed() {
		log.Info("rejected", zap.String("decision", string(out.Decision)), zap.String("reason", out.Reason))
	}
	return out
}
