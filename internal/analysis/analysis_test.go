package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintwatch/internal/config"
	"lintwatch/internal/engine"
	"lintwatch/internal/events"
	"lintwatch/internal/issue"
	"lintwatch/internal/job"
	"lintwatch/internal/progress"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

type memConsole struct {
	mu                sync.Mutex
	info, debug, errs []string
}

func (c *memConsole) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = append(c.info, msg)
}

func (c *memConsole) Debug(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debug = append(c.debug, msg)
}

func (c *memConsole) Error(msg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, fmt.Sprintf("%s: %v", msg, err))
}

func (c *memConsole) snapshot() (info, errs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.info...), append([]string(nil), c.errs...)
}

type processCall struct {
	job     *job.Job
	raw     []issue.RawIssue
	failed  []*issue.InputFile
	trigger job.Trigger
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []processCall
	err   error
}

func (p *fakeProcessor) Process(_ context.Context, j *job.Job, raw []issue.RawIssue, failed []*issue.InputFile, trigger job.Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, processCall{job: j, raw: raw, failed: failed, trigger: trigger})
	return p.err
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type endedRecorder struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (r *endedRecorder) PublishAnalysisEnded(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
}

func (r *endedRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type taskFixture struct {
	ws      *vfs.Workspace
	module  *project.Module
	files   []*vfs.File
	status  *Status
	console *memConsole
	proc    *fakeProcessor
	ended   *endedRecorder
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	ws := vfs.New()
	a, err := ws.Open("/m/a.go", "package a\n")
	require.NoError(t, err)
	b, err := ws.Open("/m/b.go", "package b\n")
	require.NoError(t, err)
	return &taskFixture{
		ws:      ws,
		module:  project.New("m", "/m", nil),
		files:   []*vfs.File{a, b},
		status:  NewStatus(nil),
		console: &memConsole{},
		proc:    &fakeProcessor{},
		ended:   &endedRecorder{},
	}
}

func (fx *taskFixture) task(t *testing.T, eng engine.Analyzer, trigger job.Trigger) *Task {
	t.Helper()
	j, err := job.New(fx.module, fx.files, trigger)
	require.NoError(t, err)
	return NewTask(j, fx.proc, TaskDeps{
		Engine:           eng,
		Status:           fx.status,
		Console:          fx.console,
		Events:           fx.ended,
		Workspace:        fx.ws,
		WatchdogInterval: 5 * time.Millisecond,
	})
}

func TestTaskProcessesResults(t *testing.T) {
	fx := newTaskFixture(t)
	require.True(t, fx.status.TryRun())
	a := fx.files[0]
	eng := engine.AnalyzerFunc(func(_ context.Context, _ *project.Module, _ []*vfs.File, l engine.Listener) (engine.Result, error) {
		l.Handle(issue.RawIssue{File: issue.NewInputFile(a), StartLine: 1, RuleKey: "r1"})
		l.Handle(issue.RawIssue{File: issue.NewInputFile(a), RuleKey: "r2"})
		return engine.Result{Failed: []*issue.InputFile{issue.NewInputFile(fx.files[1])}}, nil
	})
	ind := progress.New(nil)
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), ind)

	require.Equal(t, 1, fx.proc.count())
	call := fx.proc.calls[0]
	assert.Len(t, call.raw, 2)
	require.Len(t, call.failed, 1)
	assert.Equal(t, fx.files[1].ID(), call.failed[0].Handle)
	assert.Equal(t, job.TriggerSave, call.trigger)
	assert.Equal(t, "Creating issues: 2", ind.Text())
	assert.Equal(t, 1, fx.ended.count())
	_, errs := fx.console.snapshot()
	assert.Empty(t, errs)
}

func TestTaskReportsFileOutcomes(t *testing.T) {
	fx := newTaskFixture(t)
	require.True(t, fx.status.TryRun())
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		return engine.Result{Failed: []*issue.InputFile{issue.NewInputFile(fx.files[1])}}, nil
	})
	var mu sync.Mutex
	got := make(map[string]progress.Status)
	ind := progress.New(progress.SinkFunc(func(ev progress.Event) {
		if ev.File == "" {
			return
		}
		mu.Lock()
		got[ev.File] = ev.Status
		mu.Unlock()
	}))
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), ind)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]progress.Status{
		"/m/a.go": progress.StatusDone,
		"/m/b.go": progress.StatusError,
	}, got)
}

func TestTaskCanceledBeforeStart(t *testing.T) {
	fx := newTaskFixture(t)
	var called atomic.Bool
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		called.Store(true)
		return engine.Result{}, nil
	})
	ind := progress.New(nil)
	ind.Cancel()
	fx.task(t, eng, job.TriggerAction).Run(context.Background(), ind)

	assert.False(t, called.Load())
	assert.Equal(t, 0, fx.proc.count())
	assert.Equal(t, 1, fx.ended.count())
}

func TestTaskStatusCanceledBeforeStart(t *testing.T) {
	fx := newTaskFixture(t)
	require.True(t, fx.status.TryRun())
	fx.status.Cancel()
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		t.Error("engine called after cancellation")
		return engine.Result{}, nil
	})
	fx.task(t, eng, job.TriggerAction).Run(context.Background(), progress.New(nil))
	assert.Equal(t, 1, fx.ended.count())
}

func TestTaskCancelAfterBlockingCall(t *testing.T) {
	fx := newTaskFixture(t)
	ind := progress.New(nil)
	eng := engine.AnalyzerFunc(func(_ context.Context, _ *project.Module, files []*vfs.File, l engine.Listener) (engine.Result, error) {
		l.Handle(issue.RawIssue{File: issue.NewInputFile(files[0]), StartLine: 1})
		ind.Cancel()
		return engine.Result{}, nil
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), ind)

	assert.Equal(t, 0, fx.proc.count(), "store must not change after cancellation")
	assert.Equal(t, 1, fx.ended.count())
	_, errs := fx.console.snapshot()
	assert.Empty(t, errs)
}

func TestTaskRuntimeFailure(t *testing.T) {
	fx := newTaskFixture(t)
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		return engine.Result{}, errors.New("engine exploded")
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), progress.New(nil))

	assert.Equal(t, 0, fx.proc.count())
	assert.Equal(t, 1, fx.ended.count())
	_, errs := fx.console.snapshot()
	require.Len(t, errs, 1)
	assert.Equal(t, "Error running analysis: engine exploded", errs[0])
}

func TestTaskPanicIsReported(t *testing.T) {
	fx := newTaskFixture(t)
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		panic("boom")
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), progress.New(nil))
	_, errs := fx.console.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "panic: boom")
	assert.Equal(t, 1, fx.ended.count())
}

func TestTaskProcessorErrorIsReported(t *testing.T) {
	fx := newTaskFixture(t)
	fx.proc.err = errors.New("store broke")
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		return engine.Result{}, nil
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), progress.New(nil))
	_, errs := fx.console.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "store broke")
}

func TestTaskErrorSuppressedWhenCanceled(t *testing.T) {
	fx := newTaskFixture(t)
	require.True(t, fx.status.TryRun())
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		fx.status.Cancel()
		return engine.Result{}, errors.New("interrupted")
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), progress.New(nil))
	_, errs := fx.console.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, 1, fx.ended.count())
}

func TestTaskAbortsWhenWorkspaceDisposed(t *testing.T) {
	fx := newTaskFixture(t)
	eng := engine.AnalyzerFunc(func(context.Context, *project.Module, []*vfs.File, engine.Listener) (engine.Result, error) {
		fx.ws.Dispose()
		return engine.Result{}, nil
	})
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), progress.New(nil))
	assert.Equal(t, 0, fx.proc.count())
	assert.Equal(t, 1, fx.ended.count())
}

func TestWatchdogInterruptsEngine(t *testing.T) {
	fx := newTaskFixture(t)
	require.True(t, fx.status.TryRun())
	ind := progress.New(nil)
	started := make(chan struct{})
	var interrupted atomic.Bool
	eng := engine.AnalyzerFunc(func(ctx context.Context, _ *project.Module, _ []*vfs.File, _ engine.Listener) (engine.Result, error) {
		close(started)
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			return engine.Result{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return engine.Result{}, nil
		}
	})
	go func() {
		<-started
		ind.Cancel()
	}()
	fx.task(t, eng, job.TriggerSave).Run(context.Background(), ind)

	assert.True(t, interrupted.Load())
	assert.Equal(t, 0, fx.proc.count())
	info, errs := fx.console.snapshot()
	assert.Contains(t, info, "Canceling...")
	assert.Empty(t, errs)
	assert.Equal(t, 1, fx.ended.count())
}

func TestWatchdogStatusCancelCancelsIndicator(t *testing.T) {
	status := NewStatus(nil)
	require.True(t, status.TryRun())
	ind := progress.New(nil)
	token := NewCancelToken(ind, status)
	defer token.Close()
	var interrupts atomic.Int32
	wd := StartWatchdog(WatchdogConfig{
		Interval:   time.Millisecond,
		Token:      token,
		Indicator:  ind,
		Status:     status,
		Interrupt:  func() { interrupts.Add(1) },
		WorkerDone: make(chan struct{}),
	})
	status.Cancel()
	wd.Wait()
	assert.True(t, wd.Fired())
	assert.True(t, ind.IsCanceled())
	assert.Equal(t, int32(1), interrupts.Load())
}

func TestWatchdogStopPreventsInterrupt(t *testing.T) {
	status := NewStatus(nil)
	require.True(t, status.TryRun())
	ind := progress.New(nil)
	token := NewCancelToken(ind, status)
	defer token.Close()
	wd := StartWatchdog(WatchdogConfig{
		Interval:   time.Millisecond,
		Token:      token,
		Indicator:  ind,
		Status:     status,
		Interrupt:  func() { t.Error("interrupt after Stop") },
		WorkerDone: make(chan struct{}),
	})
	wd.Stop()
	wd.Stop()
	ind.Cancel()
	wd.Wait()
	assert.False(t, wd.Fired())
}

func TestWatchdogExitsWhenNotRunning(t *testing.T) {
	status := NewStatus(nil)
	ind := progress.New(nil)
	token := NewCancelToken(ind, status)
	defer token.Close()
	ind.Cancel()
	wd := StartWatchdog(WatchdogConfig{
		Token:      token,
		Indicator:  ind,
		Status:     status,
		Interrupt:  func() { t.Error("interrupt without a run") },
		WorkerDone: make(chan struct{}),
	})
	wd.Wait()
	assert.False(t, wd.Fired())
}

func TestStatusTransitions(t *testing.T) {
	bus := events.NewBus(nil)
	var seen []events.StatusChanged
	bus.Connect().OnStatusChanged(func(ev events.StatusChanged) { seen = append(seen, ev) })
	s := NewStatus(bus)

	s.Cancel()
	assert.Equal(t, StateStopped, s.State())
	require.True(t, s.TryRun())
	assert.False(t, s.TryRun())
	assert.True(t, s.IsRunning())
	done := s.Canceled()
	s.Cancel()
	assert.True(t, s.IsCanceled())
	assert.True(t, s.IsRunning())
	assert.False(t, s.TryRun())
	<-done
	s.StopRun()
	s.StopRun()
	assert.Equal(t, StateStopped, s.State())

	assert.Equal(t, []events.StatusChanged{
		{From: "stopped", To: "running"},
		{From: "running", To: "canceled"},
		{From: "canceled", To: "stopped"},
	}, seen)
}

func TestCancelTokenJoinsBothAuthorities(t *testing.T) {
	status := NewStatus(nil)
	require.True(t, status.TryRun())
	ind := progress.New(nil)
	tok := NewCancelToken(ind, status)
	defer tok.Close()
	assert.False(t, tok.Canceled())
	status.Cancel()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("token not done after status cancel")
	}
	assert.True(t, tok.Canceled())
}

type gateEngine struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *gateEngine) Analyze(ctx context.Context, _ *project.Module, _ []*vfs.File, _ engine.Listener) (engine.Result, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return engine.Result{}, nil
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}

func newManagerFixture(t *testing.T) (*taskFixture, *Manager, *gateEngine) {
	t.Helper()
	fx := newTaskFixture(t)
	gate := &gateEngine{release: make(chan struct{})}
	m := NewManager(fx.proc, TaskDeps{
		Engine:           gate,
		Status:           fx.status,
		Console:          fx.console,
		Events:           fx.ended,
		Workspace:        fx.ws,
		WatchdogInterval: 5 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return fx, m, gate
}

func TestManagerCoalescesQueuedJobs(t *testing.T) {
	fx, m, gate := newManagerFixture(t)
	ctx := context.Background()
	a, b := fx.files[0], fx.files[1]
	c, _ := fx.ws.Open("/m/c.go", "package c\n")

	first, err := m.Submit(ctx, fx.module, []*vfs.File{a}, job.TriggerEditorOpen)
	require.NoError(t, err)
	second, err := m.Submit(ctx, fx.module, []*vfs.File{b}, job.TriggerEditorChange)
	require.NoError(t, err)
	third, err := m.Submit(ctx, fx.module, []*vfs.File{b, c}, job.TriggerSave)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, second, third)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, job.TriggerSave, third.Job().Trigger())
	assert.Equal(t, []*vfs.File{b, c}, third.Job().Files())

	close(gate.release)
	first.Wait()
	third.Wait()
	assert.Equal(t, int32(2), gate.calls.Load())
	assert.Equal(t, 2, fx.proc.count())
	assert.Equal(t, 2, fx.ended.count())
	assert.Equal(t, StateStopped, fx.status.State())
}

func TestManagerFiltersFiles(t *testing.T) {
	fx, m, gate := newManagerFixture(t)
	close(gate.release)
	cfg := config.Default("m")
	cfg.Module.Exclude = []string{"b.go"}
	module := project.New("m", "/m", cfg)
	outside, _ := fx.ws.Open("/elsewhere/x.go", "x")

	h, err := m.SubmitForeground(context.Background(), module, []*vfs.File{fx.files[0], fx.files[1], outside}, job.TriggerAction)
	require.NoError(t, err)
	assert.Equal(t, []*vfs.File{fx.files[0]}, h.Job().Files())

	_, err = m.Submit(context.Background(), module, []*vfs.File{fx.files[1]}, job.TriggerAction)
	assert.ErrorIs(t, err, job.ErrNoFiles)
}

func TestManagerCancelAll(t *testing.T) {
	fx, m, _ := newManagerFixture(t)
	ctx := context.Background()
	running, err := m.Submit(ctx, fx.module, fx.files[:1], job.TriggerSave)
	require.NoError(t, err)
	queued, err := m.Submit(ctx, fx.module, fx.files[1:], job.TriggerSave)
	require.NoError(t, err)

	m.CancelAll()
	select {
	case <-running.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("running task not interrupted")
	}
	queued.Wait()
	assert.True(t, queued.Indicator().IsCanceled())
	assert.Equal(t, 0, fx.proc.count())
	assert.Equal(t, 1, fx.ended.count())
	assert.Equal(t, StateStopped, fx.status.State())
}

func TestSubmitForegroundCancelsOnContext(t *testing.T) {
	fx, m, _ := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h, err := m.SubmitForeground(ctx, fx.module, fx.files, job.TriggerAction)
	require.NoError(t, err)
	h.Wait()
	assert.Equal(t, 0, fx.proc.count())
	assert.Equal(t, 1, fx.ended.count())
}
