package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lintwatch/internal/engine"
	"lintwatch/internal/issue"
	"lintwatch/internal/job"
	"lintwatch/internal/observ"
	"lintwatch/internal/progress"
	"lintwatch/internal/telemetry"
	"lintwatch/internal/trace"
)

// Console receives task diagnostics.
type Console interface {
	Info(msg string)
	Debug(msg string)
	Error(msg string, err error)
}

// Processor turns a run's raw issues into stored issues.
type Processor interface {
	Process(ctx context.Context, j *job.Job, raw []issue.RawIssue, failed []*issue.InputFile, trigger job.Trigger) error
}

// EndedPublisher announces finished tasks.
type EndedPublisher interface {
	PublishAnalysisEnded(j *job.Job)
}

// Disposable reports whether the session was torn down.
type Disposable interface {
	Disposed() bool
}

// TaskDeps are the collaborators shared by every task of a session.
type TaskDeps struct {
	Engine    engine.Analyzer
	Status    *Status
	Console   Console
	Events    EndedPublisher
	Workspace Disposable // may be nil

	// WatchdogInterval overrides the module configuration when positive.
	WatchdogInterval time.Duration
	Metrics          *telemetry.Metrics
	Timer            *observ.Timer
}

// errAborted marks a run stopped by cancellation or teardown; it is never reported.
var errAborted = errors.New("analysis aborted")

// Task runs one job: the blocking engine call under a watchdog, then issue processing.
type Task struct {
	job       *job.Job
	processor Processor
	deps      TaskDeps

	watchdog *Watchdog
}

// NewTask creates a task for j.
func NewTask(j *job.Job, processor Processor, deps TaskDeps) *Task {
	return &Task{job: j, processor: processor, deps: deps}
}

// Job returns the task's job.
func (t *Task) Job() *job.Job { return t.job }

// Run executes the task. It never returns an error: failures are reported to
// the console unless the task was canceled. The ended event is always published.
func (t *Task) Run(ctx context.Context, ind progress.Indicator) {
	ctx, span := trace.Start(ctx, trace.ScopeTask, "analysis")
	span.WithExtra("job", t.job.ID().String()).WithExtra("trigger", t.job.Trigger().String())
	outcome := telemetry.OutcomeCompleted
	defer func() {
		t.deps.Metrics.RecordRun(ctx, outcome)
		span.End(string(outcome))
		if t.deps.Events != nil {
			t.deps.Events.PublishAnalysisEnded(t.job)
		}
	}()

	err := t.runSafely(ctx, ind)
	switch {
	case t.canceled(ind) || errors.Is(err, errAborted):
		outcome = telemetry.OutcomeCanceled
		if err != nil && !errors.Is(err, errAborted) {
			trace.Point(trace.FromContext(ctx), trace.ScopeTask, "suppressed", err.Error(), span.ID())
		}
	case err != nil:
		outcome = telemetry.OutcomeFailed
		t.console().Error("Error running analysis", err)
		trace.Error(trace.FromContext(ctx), "analysis", err, span.ID())
	}
}

func (t *Task) runSafely(ctx context.Context, ind progress.Indicator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx, ind)
}

func (t *Task) run(ctx context.Context, ind progress.Indicator) error {
	status := t.deps.Status
	if t.canceled(ind) {
		return errAborted
	}

	ind.SetIndeterminate(true)
	ind.SetText(t.job.Label())
	t.console().Debug(t.job.Label())
	report(ind, progress.Event{Stage: progress.StageAnalyze, Status: progress.StatusWorking, Fraction: -1, Text: t.job.Label()})

	token := NewCancelToken(ind, status)
	defer token.Close()

	runCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()
	workerDone := make(chan struct{})
	defer close(workerDone)

	acc := &engine.Accumulator{}
	res, err := t.analyze(runCtx, ind, WatchdogConfig{
		Interval:   t.watchdogInterval(),
		Token:      token,
		Indicator:  ind,
		Status:     status,
		Console:    t.deps.Console,
		Interrupt:  interrupt,
		WorkerDone: workerDone,
	}, acc)
	defer ind.FinishNonCancelableSection()

	// Last chance to cancel before touching the store.
	if t.canceled(ind) || ctx.Err() != nil || t.disposed() {
		return errAborted
	}
	if err != nil {
		report(ind, progress.Event{Stage: progress.StageAnalyze, Status: progress.StatusError, Err: err})
		return err
	}
	t.console().Debug("Analysis done")
	report(ind, progress.Event{Stage: progress.StageAnalyze, Status: progress.StatusDone})

	issues := acc.Issues()
	ind.SetIndeterminate(false)
	ind.SetFraction(.9)
	ind.SetText(fmt.Sprintf("Creating issues: %d", len(issues)))
	report(ind, progress.Event{Stage: progress.StageProcess, Status: progress.StatusWorking, Fraction: .9})

	phase := t.deps.Timer.Begin("process")
	err = t.processor.Process(ctx, t.job, issues, res.Failed, t.job.Trigger())
	t.deps.Timer.End(phase, fmt.Sprintf("%d issues", len(issues)))
	if err != nil {
		report(ind, progress.Event{Stage: progress.StageProcess, Status: progress.StatusError, Err: err})
		return err
	}
	ind.SetFraction(1)
	t.reportFiles(ind, res.Failed)
	report(ind, progress.Event{Stage: progress.StageProcess, Status: progress.StatusDone, Fraction: 1})
	return nil
}

// reportFiles emits one final event per job file.
func (t *Task) reportFiles(ind progress.Indicator, failed []*issue.InputFile) {
	bad := make(map[string]struct{}, len(failed))
	for _, f := range failed {
		bad[f.Path] = struct{}{}
	}
	for _, f := range t.job.Files() {
		status := progress.StatusDone
		if _, ok := bad[f.Path()]; ok {
			status = progress.StatusError
		}
		report(ind, progress.Event{File: f.Path(), Stage: progress.StageProcess, Status: status})
	}
}

// analyze performs the blocking engine call with the watchdog armed and
// enters the non-cancelable section as soon as it returns.
func (t *Task) analyze(ctx context.Context, ind progress.Indicator, wd WatchdogConfig, acc *engine.Accumulator) (engine.Result, error) {
	t.watchdog = StartWatchdog(wd)
	defer t.watchdog.Stop()

	phase := t.deps.Timer.Begin("analyze")
	res, err := t.deps.Engine.Analyze(ctx, t.job.Module(), t.job.Files(), acc)
	ind.StartNonCancelableSection()
	t.deps.Timer.End(phase, fmt.Sprintf("%d files", t.job.FileCount()))
	return res, err
}

func (t *Task) canceled(ind progress.Indicator) bool {
	return ind.IsCanceled() || t.deps.Status.IsCanceled()
}

func (t *Task) disposed() bool {
	return t.deps.Workspace != nil && t.deps.Workspace.Disposed()
}

func (t *Task) watchdogInterval() time.Duration {
	if t.deps.WatchdogInterval > 0 {
		return t.deps.WatchdogInterval
	}
	if m := t.job.Module(); m != nil && m.Config != nil {
		return m.Config.WatchdogInterval()
	}
	return DefaultWatchdogInterval
}

func (t *Task) console() Console {
	if t.deps.Console == nil {
		return nopConsole{}
	}
	return t.deps.Console
}

type reporter interface {
	Report(progress.Event)
}

func report(ind progress.Indicator, ev progress.Event) {
	if r, ok := ind.(reporter); ok {
		r.Report(ev)
	}
}

type nopConsole struct{}

func (nopConsole) Info(string)         {}
func (nopConsole) Debug(string)        {}
func (nopConsole) Error(string, error) {}
