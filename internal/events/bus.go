// Package events is the session-scoped notification bus.
package events

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"lintwatch/internal/job"
	"lintwatch/internal/vfs"
)

// StatusChanged reports a transition of the shared analysis status.
type StatusChanged struct {
	From, To string
}

// ErrorReporter receives recovered listener panics.
type ErrorReporter interface {
	Error(msg string, err error)
}

// Bus delivers events synchronously on the publisher's goroutine, to
// connections in the order they connected.
type Bus struct {
	nextID atomic.Uint64
	mu     sync.RWMutex
	conns  map[uint64]*Connection
	closed bool
	errs   ErrorReporter
}

// NewBus creates a bus; errs may be nil.
func NewBus(errs ErrorReporter) *Bus {
	return &Bus{conns: make(map[uint64]*Connection), errs: errs}
}

// Connection groups the handlers of one subscriber.
type Connection struct {
	id  uint64
	bus *Bus

	mu            sync.Mutex
	analysisEnded []func(*job.Job)
	issuesChanged []func([]*vfs.File)
	statusChanged []func(StatusChanged)
}

// Connect registers a new subscriber. On a closed bus the connection never receives events.
func (b *Bus) Connect() *Connection {
	c := &Connection{id: b.nextID.Add(1), bus: b}
	b.mu.Lock()
	if !b.closed {
		b.conns[c.id] = c
	}
	b.mu.Unlock()
	return c
}

// Close disconnects everyone; later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	clear(b.conns)
	b.mu.Unlock()
}

// Connections returns the number of live connections.
func (b *Bus) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// OnAnalysisEnded subscribes fn to the end of every analysis task.
func (c *Connection) OnAnalysisEnded(fn func(*job.Job)) *Connection {
	c.mu.Lock()
	c.analysisEnded = append(c.analysisEnded, fn)
	c.mu.Unlock()
	return c
}

// OnIssuesChanged subscribes fn to store updates.
func (c *Connection) OnIssuesChanged(fn func([]*vfs.File)) *Connection {
	c.mu.Lock()
	c.issuesChanged = append(c.issuesChanged, fn)
	c.mu.Unlock()
	return c
}

// OnStatusChanged subscribes fn to status transitions.
func (c *Connection) OnStatusChanged(fn func(StatusChanged)) *Connection {
	c.mu.Lock()
	c.statusChanged = append(c.statusChanged, fn)
	c.mu.Unlock()
	return c
}

// Disconnect stops delivery to c. Safe to call more than once.
func (c *Connection) Disconnect() {
	c.bus.mu.Lock()
	delete(c.bus.conns, c.id)
	c.bus.mu.Unlock()
}

// PublishAnalysisEnded notifies that the task for j has finished, whatever its outcome.
func (b *Bus) PublishAnalysisEnded(j *job.Job) {
	for _, c := range b.snapshot() {
		c.mu.Lock()
		handlers := slices.Clone(c.analysisEnded)
		c.mu.Unlock()
		for _, fn := range handlers {
			b.call("analysis ended", func() { fn(j) })
		}
	}
}

// PublishIssuesChanged notifies that the store replaced the issues of files.
func (b *Bus) PublishIssuesChanged(files []*vfs.File) {
	for _, c := range b.snapshot() {
		c.mu.Lock()
		handlers := slices.Clone(c.issuesChanged)
		c.mu.Unlock()
		for _, fn := range handlers {
			b.call("issues changed", func() { fn(files) })
		}
	}
}

// PublishStatusChanged notifies a status transition.
func (b *Bus) PublishStatusChanged(ev StatusChanged) {
	for _, c := range b.snapshot() {
		c.mu.Lock()
		handlers := slices.Clone(c.statusChanged)
		c.mu.Unlock()
		for _, fn := range handlers {
			b.call("status changed", func() { fn(ev) })
		}
	}
}

func (b *Bus) snapshot() []*Connection {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	out := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y *Connection) int {
		switch {
		case x.id < y.id:
			return -1
		case x.id > y.id:
			return 1
		}
		return 0
	})
	return out
}

func (b *Bus) call(topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil && b.errs != nil {
			b.errs.Error("Listener failed on "+topic, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}
