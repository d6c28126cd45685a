// Package analysis runs analysis jobs: one task per job, a watchdog that
// interrupts it on cancellation, and a manager serializing jobs.
package analysis

import (
	"sync"

	"lintwatch/internal/events"
)

// State of the shared analysis status.
type State uint8

const (
	StateStopped State = iota
	StateRunning
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCanceled:
		return "canceled"
	default:
		return "stopped"
	}
}

// StatusPublisher is notified of state transitions.
type StatusPublisher interface {
	PublishStatusChanged(ev events.StatusChanged)
}

// Status is the session-wide run state shared by every task. Thread-safe.
type Status struct {
	mu       sync.Mutex
	state    State
	canceled chan struct{}
	pub      StatusPublisher
}

// NewStatus creates a stopped status; pub may be nil.
func NewStatus(pub StatusPublisher) *Status {
	return &Status{canceled: make(chan struct{}), pub: pub}
}

// TryRun moves Stopped to Running and reports whether it did.
func (s *Status) TryRun() bool {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return false
	}
	s.state = StateRunning
	s.canceled = make(chan struct{})
	s.mu.Unlock()
	s.publish(StateStopped, StateRunning)
	return true
}

// Cancel moves Running to Canceled; otherwise it does nothing.
func (s *Status) Cancel() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateCanceled
	close(s.canceled)
	s.mu.Unlock()
	s.publish(StateRunning, StateCanceled)
}

// StopRun returns to Stopped from any state.
func (s *Status) StopRun() {
	s.mu.Lock()
	from := s.state
	s.state = StateStopped
	s.mu.Unlock()
	if from != StateStopped {
		s.publish(from, StateStopped)
	}
}

// IsRunning reports whether a run is active, including one being canceled.
func (s *Status) IsRunning() bool {
	return s.State() != StateStopped
}

func (s *Status) IsCanceled() bool {
	return s.State() == StateCanceled
}

func (s *Status) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Canceled returns a channel closed when the current run is canceled.
func (s *Status) Canceled() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (s *Status) publish(from, to State) {
	if s.pub != nil {
		s.pub.PublishStatusChanged(events.StatusChanged{From: from.String(), To: to.String()})
	}
}
