package analysis

import (
	"sync"
	"time"

	"lintwatch/internal/progress"
)

// DefaultWatchdogInterval bounds how long a cancellation waits to be noticed.
const DefaultWatchdogInterval = 100 * time.Millisecond

// WatchdogConfig wires a watchdog to one task.
type WatchdogConfig struct {
	Interval   time.Duration
	Token      *CancelToken
	Indicator  progress.Indicator
	Status     *Status
	Console    Console
	Interrupt  func()
	WorkerDone <-chan struct{}
}

// Watchdog interrupts a running task once it is canceled. It lives only while
// the task is inside its blocking engine call.
type Watchdog struct {
	cfg WatchdogConfig

	mu      sync.Mutex
	stopped bool
	fired   bool
	stopCh  chan struct{}
	once    sync.Once
	exited  chan struct{}
}

// StartWatchdog launches the watchdog goroutine.
func StartWatchdog(cfg WatchdogConfig) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchdogInterval
	}
	w := &Watchdog{cfg: cfg, stopCh: make(chan struct{}), exited: make(chan struct{})}
	go w.run()
	return w
}

func (w *Watchdog) run() {
	defer close(w.exited)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if w.check() {
			return
		}
		select {
		case <-ticker.C:
		case <-w.cfg.Token.Done():
		case <-w.stopCh:
			return
		case <-w.cfg.WorkerDone:
			return
		}
	}
}

// check reports whether the watchdog is finished. The stop flag is read and the
// interrupt issued under one lock, so nothing fires after Stop returns.
func (w *Watchdog) check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || isClosed(w.cfg.WorkerDone) || !w.cfg.Status.IsRunning() {
		return true
	}
	if !w.cfg.Token.Canceled() {
		return false
	}
	if !w.cfg.Indicator.IsCanceled() {
		w.cfg.Indicator.Cancel()
	}
	if w.cfg.Console != nil {
		w.cfg.Console.Info("Canceling...")
	}
	w.cfg.Interrupt()
	w.fired = true
	return true
}

// Stop prevents any later interrupt. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.once.Do(func() { close(w.stopCh) })
}

// Wait blocks until the goroutine exited.
func (w *Watchdog) Wait() { <-w.exited }

// Fired reports whether the watchdog interrupted the task.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
