package analysis

import (
	"context"
	"fmt"
	"sync"

	"lintwatch/internal/job"
	"lintwatch/internal/progress"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

// TaskHandle follows one submitted job. Submissions coalesced into a queued
// job share its handle.
type TaskHandle struct {
	ctx  context.Context
	mu   sync.Mutex
	job  *job.Job
	ind  progress.Indicator
	done chan struct{}
	once sync.Once
}

func newHandle(ctx context.Context, j *job.Job, ind progress.Indicator) *TaskHandle {
	if ind == nil {
		ind = progress.New(nil)
	}
	return &TaskHandle{ctx: ctx, job: j, ind: ind, done: make(chan struct{})}
}

// Job returns the job the handle will run or ran.
func (h *TaskHandle) Job() *job.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

// Indicator returns the progress indicator of the task.
func (h *TaskHandle) Indicator() progress.Indicator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ind
}

// Cancel cancels the task's indicator.
func (h *TaskHandle) Cancel() { h.Indicator().Cancel() }

// Done is closed once the task ended or was dropped from the queue.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until Done.
func (h *TaskHandle) Wait() { <-h.done }

func (h *TaskHandle) finish() { h.once.Do(func() { close(h.done) }) }

// merge folds a later submission into this queued handle: files are united and
// the later trigger wins.
func (h *TaskHandle) merge(next *job.Job, ind progress.Indicator) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	files := h.job.Files()
	seen := make(map[vfs.FileID]bool, len(files))
	for _, f := range files {
		seen[f.ID()] = true
	}
	for _, f := range next.Files() {
		if !seen[f.ID()] {
			seen[f.ID()] = true
			files = append(files, f)
		}
	}
	j, err := job.New(next.Module(), files, next.Trigger())
	if err != nil {
		return err
	}
	h.job = j
	if ind != nil {
		h.ind = ind
	}
	return nil
}

// SubmitOption configures one submission.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	ind progress.Indicator
}

// WithIndicator runs the task under ind instead of a fresh indicator.
func WithIndicator(ind progress.Indicator) SubmitOption {
	return func(c *submitConfig) { c.ind = ind }
}

// Manager runs at most one task at a time. Jobs submitted meanwhile wait in a
// queue where submissions for the same module are coalesced.
// StatusChanged listeners are called with the manager locked and must not call back into it.
type Manager struct {
	processor Processor
	deps      TaskDeps
	events    EndedPublisher

	mu     sync.Mutex
	active *TaskHandle
	queue  []*TaskHandle
	wg     sync.WaitGroup
}

// NewManager creates a manager. deps.Events receives every ended event before
// the next queued job starts.
func NewManager(processor Processor, deps TaskDeps) *Manager {
	m := &Manager{processor: processor, events: deps.Events}
	deps.Events = m
	m.deps = deps
	return m
}

// Submit filters files down to the analyzable ones and runs them as one job in
// the background, or queues the job while another one runs.
func (m *Manager) Submit(ctx context.Context, module *project.Module, files []*vfs.File, trigger job.Trigger, opts ...SubmitOption) (*TaskHandle, error) {
	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if module == nil {
		return nil, job.ErrNoModule
	}
	files = m.analyzable(module, files)
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to analyze in %s: %w", module, job.ErrNoFiles)
	}
	j, err := job.New(module, files, trigger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil && m.deps.Status.TryRun() {
		h := newHandle(ctx, j, cfg.ind)
		m.active = h
		m.start(h)
		return h, nil
	}
	for _, q := range m.queue {
		if q.Job().Module().Root == module.Root {
			if err := q.merge(j, cfg.ind); err != nil {
				return nil, err
			}
			return q, nil
		}
	}
	h := newHandle(ctx, j, cfg.ind)
	m.queue = append(m.queue, h)
	m.console().Debug("Analysis queued: " + j.Label())
	return h, nil
}

// SubmitForeground submits and waits for the task. Cancelling ctx cancels the task.
func (m *Manager) SubmitForeground(ctx context.Context, module *project.Module, files []*vfs.File, trigger job.Trigger, opts ...SubmitOption) (*TaskHandle, error) {
	h, err := m.Submit(ctx, module, files, trigger, opts...)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		h.Wait()
	}
	return h, nil
}

// CancelAll cancels the running task through the shared status and drops queued jobs.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	m.deps.Status.Cancel()
	for _, h := range queued {
		h.Cancel()
		h.finish()
	}
}

// Pending returns the number of queued jobs.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close cancels everything and waits for running tasks.
func (m *Manager) Close() {
	m.CancelAll()
	m.wg.Wait()
}

// PublishAnalysisEnded forwards the ended event, then starts the next queued job.
func (m *Manager) PublishAnalysisEnded(j *job.Job) {
	if m.events != nil {
		m.events.PublishAnalysisEnded(j)
	}

	m.mu.Lock()
	h := m.active
	if h == nil || h.Job() != j {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.deps.Status.StopRun()
	if len(m.queue) > 0 && m.deps.Status.TryRun() {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.active = next
		m.start(next)
	}
	m.mu.Unlock()
	h.finish()
}

// start must be called with m.mu held.
func (m *Manager) start(h *TaskHandle) {
	task := NewTask(h.Job(), m.processor, m.deps)
	ind := h.Indicator()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		task.Run(h.ctx, ind)
	}()
}

func (m *Manager) analyzable(module *project.Module, files []*vfs.File) []*vfs.File {
	out := make([]*vfs.File, 0, len(files))
	for _, f := range files {
		if f == nil || !f.Valid() {
			continue
		}
		if !module.ShouldAnalyze(f.Path()) {
			m.console().Debug("Skipping file not analyzable in " + module.String() + ": " + f.Path())
			continue
		}
		out = append(out, f)
	}
	return out
}

func (m *Manager) console() Console {
	if m.deps.Console == nil {
		return nopConsole{}
	}
	return m.deps.Console
}
