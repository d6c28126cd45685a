// Package progress provides the cancellable progress indicator an analysis task runs under.
package progress

import (
	"sync"
	"time"
)

// Indicator is the task's view of its progress UI.
type Indicator interface {
	IsCanceled() bool
	Cancel()
	// Done is closed on cancellation.
	Done() <-chan struct{}
	// Sections nest; events report whether one is open.
	StartNonCancelableSection()
	FinishNonCancelableSection()
	SetIndeterminate(bool)
	SetFraction(float64)
	SetText(string)
	Text() string
}

// Progress is the default Indicator. Every change is forwarded to a Sink.
type Progress struct {
	mu            sync.Mutex
	canceled      bool
	done          chan struct{}
	nonCancelable int
	indeterminate bool
	fraction      float64
	text          string
	started       time.Time
	sink          Sink
}

// New creates an indicator reporting to sink, which may be nil.
func New(sink Sink) *Progress {
	return &Progress{done: make(chan struct{}), started: time.Now(), sink: sink}
}

func (p *Progress) IsCanceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

// Cancel marks the indicator canceled. Repeated calls are no-ops.
func (p *Progress) Cancel() {
	p.mu.Lock()
	if p.canceled {
		p.mu.Unlock()
		return
	}
	p.canceled = true
	close(p.done)
	ev := p.eventLocked(StatusCanceled)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) Done() <-chan struct{} { return p.done }

func (p *Progress) StartNonCancelableSection() {
	p.mu.Lock()
	p.nonCancelable++
	ev := p.eventLocked(StatusWorking)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) FinishNonCancelableSection() {
	p.mu.Lock()
	if p.nonCancelable == 0 {
		p.mu.Unlock()
		return
	}
	p.nonCancelable--
	ev := p.eventLocked(StatusWorking)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) SetIndeterminate(v bool) {
	p.mu.Lock()
	p.indeterminate = v
	ev := p.eventLocked(StatusWorking)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) SetFraction(f float64) {
	p.mu.Lock()
	p.fraction = min(max(f, 0), 1)
	ev := p.eventLocked(StatusWorking)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) SetText(text string) {
	p.mu.Lock()
	p.text = text
	ev := p.eventLocked(StatusWorking)
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Report forwards a file-level or stage event to the sink.
func (p *Progress) Report(ev Event) {
	if ev.Elapsed == 0 {
		ev.Elapsed = time.Since(p.started)
	}
	p.mu.Lock()
	ev.NonCancelable = p.nonCancelable > 0
	p.mu.Unlock()
	p.emit(ev)
}

func (p *Progress) eventLocked(status Status) Event {
	fraction := p.fraction
	if p.indeterminate {
		fraction = -1
	}
	if p.canceled {
		status = StatusCanceled
	}
	return Event{
		Status:        status,
		Text:          p.text,
		Fraction:      fraction,
		Elapsed:       time.Since(p.started),
		NonCancelable: p.nonCancelable > 0,
	}
}

func (p *Progress) emit(ev Event) {
	if p.sink != nil {
		p.sink.OnEvent(ev)
	}
}
