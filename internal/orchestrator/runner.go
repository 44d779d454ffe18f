package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/lock"
	"github.com/msageha/foreman/internal/marker"
	"github.com/msageha/foreman/internal/metrics"
	"github.com/msageha/foreman/internal/model"
)

const DefaultConcurrency = 4

// Attempt outcomes recorded in metrics and progress events.
const (
	outcomeWorkDone = "work_done"
	outcomeFeedback = "feedback"
	outcomeNoMarker = "no_marker"
	outcomePass     = "pass"
	outcomeFail     = "fail"
	outcomeError    = "error"
)

const missingMarkerCorrection = "Your previous reply did not contain a completion marker. " +
	"End your reply with WORK DONE once the work is complete, or with " +
	"FEEDBACK: <what you need> if you cannot continue."

func rejectionCorrection(reason string) string {
	return "A reviewer checked your previous attempt and rejected it:\n" + reason +
		"\n\nFix the problems above, then end your reply with WORK DONE."
}

type Options struct {
	RunID    string
	Logger   *zap.Logger
	Progress *events.ProgressLog
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	// ImmutableLock sets the immutable attribute on each unit's LockPath.
	ImmutableLock bool
}

// Runner executes units. It is safe for concurrent use; the same target never
// runs twice at once.
type Runner struct {
	exec      Executor
	runID     string
	logger    *zap.Logger
	progress  *events.ProgressLog
	bus       *events.Bus
	metrics   *metrics.Metrics
	immutable bool
	targets   *lock.KeyedMutex
	now       func() time.Time
}

func NewRunner(exec Executor, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		exec:      exec,
		runID:     opts.RunID,
		logger:    logger.Named("orchestrator"),
		progress:  opts.Progress,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		immutable: opts.ImmutableLock,
		targets:   lock.NewKeyedMutex(),
		now:       time.Now,
	}
}

// outcome ends an attempt. An empty status means the loop continues with
// correction.
type outcome struct {
	name       string
	status     model.Status
	feedback   string
	err        string
	correction string
}

// Run drives u to a terminal status. It never returns an error: every failure
// is folded into the Result together with the attempts made so far.
func (r *Runner) Run(ctx context.Context, u Unit) (res model.Result) {
	start := r.now()
	res = model.Result{Kind: u.Kind(), Target: u.Target()}
	log := r.logger.With(zap.String("kind", string(u.Kind())), zap.String("target", u.Target()))

	r.metrics.UnitStarted()
	r.record(u, events.StepUnitStarted, 0, nil, log)
	log.Info("unit started")

	defer func() {
		if p := recover(); p != nil {
			log.Error("unit panicked", zap.Any("panic", p), zap.Stack("stack"))
			res.Status = model.StatusFailed
			res.Error = fmt.Sprintf("panic: %v", p)
		}
		res.Duration = r.now().Sub(start)
		r.finish(u, res, log)
	}()

	r.loop(ctx, u, start, &res, log)
	return res
}

func (r *Runner) loop(ctx context.Context, u Unit, start time.Time, res *model.Result, log *zap.Logger) {
	policy := u.Policy()
	deadline := start.Add(policy.LoopTimeout)
	correction := ""

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			res.Status = model.StatusFailed
			res.Error = fmt.Sprintf("canceled: %v", err)
			return
		}
		if policy.MaxAttempts > 0 && n > policy.MaxAttempts {
			res.Status = model.StatusFailed
			res.Error = fmt.Sprintf("no accepted result after %d attempts", policy.MaxAttempts)
			return
		}
		if !deadline.After(r.now()) {
			res.Status = model.StatusTimeout
			res.Error = fmt.Sprintf("loop timeout %s exceeded", policy.LoopTimeout)
			return
		}

		att, out := r.attempt(ctx, u, n, correction, deadline, log)
		res.Attempts = append(res.Attempts, att)
		r.metrics.ObserveAttempt(string(u.Kind()), out.name)
		r.bus.Publish(events.Event{
			Type:     events.EventAttemptFinished,
			RunID:    r.runID,
			Unit:     u.Target(),
			Attempt:  n,
			Message:  out.name,
			Duration: att.Duration,
		})
		log.Debug("attempt finished", zap.Int("attempt", n), zap.String("outcome", out.name))

		if out.status != "" {
			res.Status = out.status
			res.Feedback = out.feedback
			res.Error = out.err
			return
		}
		correction = out.correction
	}
}

func (r *Runner) attempt(ctx context.Context, u Unit, n int, correction string, deadline time.Time, log *zap.Logger) (att model.Attempt, out outcome) {
	att = model.Attempt{Number: n, Injected: correction, StartedAt: r.now().UTC()}
	defer func() { att.Duration = r.now().Sub(att.StartedAt) }()

	req, err := u.WorkerRequest(correction)
	if err != nil {
		att.Error = err.Error()
		return att, outcome{name: outcomeError, status: model.StatusFailed, err: fmt.Sprintf("prepare worker: %v", err)}
	}
	wres, err := r.invoke(ctx, u, "worker", n, req, deadline, log)
	if err != nil {
		att.Error = err.Error()
		return att, failure("worker", err)
	}
	att.WorkerOutput = wres.Output
	att.WorkerMetadata = wres.Metadata
	r.addCost(u, "worker", wres.Metadata)

	work := marker.ParseWork(wres.Output)
	switch work.Kind {
	case marker.WorkKindFeedback:
		return att, outcome{name: outcomeFeedback, status: model.StatusFeedback, feedback: work.Feedback}
	case marker.WorkKindNone:
		return att, outcome{name: outcomeNoMarker, correction: missingMarkerCorrection}
	}

	mreq, ok, err := u.ModeratorRequest(wres.Output)
	if err != nil {
		att.Error = err.Error()
		return att, outcome{name: outcomeError, status: model.StatusFailed, err: fmt.Sprintf("prepare moderator: %v", err)}
	}
	if !ok {
		return att, outcome{name: outcomeWorkDone, status: model.StatusCompleted}
	}
	mres, err := r.invoke(ctx, u, "moderator", n, mreq, deadline, log)
	if err != nil {
		att.Error = err.Error()
		return att, failure("moderator", err)
	}
	att.ModeratorOutput = mres.Output
	att.ModeratorMetadata = mres.Metadata
	r.addCost(u, "moderator", mres.Metadata)

	review := marker.ParseReview(mres.Output)
	if review.Pass {
		return att, outcome{name: outcomePass, status: model.StatusCompleted}
	}
	if !review.Clear {
		log.Warn("moderator output unclear, treating as fail", zap.Int("attempt", n))
	}
	return att, outcome{name: outcomeFail, correction: rejectionCorrection(review.Reason)}
}

// errLoopTimeout marks an invocation cut short by the loop budget.
var errLoopTimeout = errors.New("loop timeout reached")

// invoke runs one agent call with its timeout clamped to the time left before
// deadline.
func (r *Runner) invoke(ctx context.Context, u Unit, role string, n int, req agent.Request, deadline time.Time, log *zap.Logger) (model.ExecutionResult, error) {
	remaining := deadline.Sub(r.now())
	if remaining <= 0 {
		return model.ExecutionResult{}, errLoopTimeout
	}
	clamped := false
	if req.Config.Timeout == 0 || req.Config.Timeout > remaining {
		req.Config = req.Config.WithTimeout(remaining)
		clamped = true
	}

	started, finished := events.StepWorkerStarted, events.StepWorkerFinished
	if role == "moderator" {
		started, finished = events.StepReviewStarted, events.StepReviewFinished
	}
	r.record(u, started, n, map[string]any{"timeout": req.Config.Timeout.String(), "clamped": clamped}, log)

	res, err := r.exec.Execute(ctx, req)

	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	} else if res.Metadata != nil {
		details["cost_usd"] = res.Metadata.CostUSD
		details["num_turns"] = res.Metadata.NumTurns
	}
	r.record(u, finished, n, details, log)

	var te *agent.TimeoutError
	if err != nil && clamped && errors.As(err, &te) {
		return res, fmt.Errorf("%w: %w", errLoopTimeout, err)
	}
	return res, err
}

func failure(role string, err error) outcome {
	status := model.StatusFailed
	if errors.Is(err, errLoopTimeout) {
		status = model.StatusTimeout
	}
	return outcome{name: outcomeError, status: status, err: fmt.Sprintf("%s: %v", role, err)}
}

func (r *Runner) addCost(u Unit, role string, meta *model.ExecutionMetadata) {
	if meta != nil {
		r.metrics.AddCost(string(u.Kind()), role, meta.CostUSD)
	}
}

// record writes a progress entry. Failures are logged and otherwise ignored.
func (r *Runner) record(u Unit, step string, attempt int, details map[string]any, log *zap.Logger) {
	if r.progress == nil {
		return
	}
	if err := r.progress.Record(u.Target(), step, attempt, details); err != nil {
		log.Warn("progress log write failed", zap.String("step", step), zap.Error(err))
	}
}

func (r *Runner) finish(u Unit, res model.Result, log *zap.Logger) {
	r.record(u, events.StepUnitFinished, len(res.Attempts), map[string]any{
		"status":   string(res.Status),
		"attempts": len(res.Attempts),
	}, log)
	r.metrics.UnitFinished(string(u.Kind()), string(res.Status), res.Duration)

	msg := res.Feedback
	if msg == "" {
		msg = res.Error
	}
	r.bus.Publish(events.Event{
		Type:     events.EventUnitFinished,
		RunID:    r.runID,
		Unit:     u.Target(),
		Attempt:  len(res.Attempts),
		Status:   string(res.Status),
		Message:  msg,
		Duration: res.Duration,
	})

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("attempts", len(res.Attempts)),
		zap.Duration("duration", res.Duration),
		zap.Float64("cost_usd", res.TotalCost()),
	}
	if res.Error != "" {
		fields = append(fields, zap.String("error", res.Error))
	}
	if model.IsSuccess(res.Status) {
		log.Info("unit finished", fields...)
	} else {
		log.Warn("unit finished", fields...)
	}
}

// RunBatch runs units with at most concurrency in flight. results[i] belongs
// to units[i].
func (r *Runner) RunBatch(ctx context.Context, units []Unit, concurrency int) []model.Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]model.Result, len(units))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, u := range units {
		g.Go(func() error {
			results[i] = r.RunExclusive(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunExclusive is Run serialized per target, with the unit's input file held
// immutable when enabled.
func (r *Runner) RunExclusive(ctx context.Context, u Unit) model.Result {
	unlock := r.targets.Lock(u.Target())
	defer unlock()
	if r.immutable && u.LockPath() != "" {
		release := lock.Immutable(u.LockPath(), r.logger)
		defer release()
	}
	return r.Run(ctx, u)
}
